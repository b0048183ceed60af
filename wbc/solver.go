package wbc

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/clintpurser/biped/robot"
)

var (
	// ErrInfeasible is returned when the task and contact rows together exceed
	// the generalized degrees of freedom (robot.NumQdot), not the actuator
	// count. The floating-base rows are free variables of the same problem, so
	// a joint task plus a foot contact is still well posed.
	ErrInfeasible = errors.New("whole-body problem is infeasible")
	// ErrSingular is returned when the optimality system is singular or too
	// ill-conditioned to trust.
	ErrSingular = errors.New("whole-body problem is singular")
	// ErrStaleTask is returned for a task not updated this tick.
	ErrStaleTask = errors.New("stale task")
	// ErrStaleContact is returned for a contact not updated this tick.
	ErrStaleContact = errors.New("stale contact")
	// ErrBadSetting is returned for dynamics or weights of the wrong shape, or
	// an inverse mass matrix that does not match the mass matrix.
	ErrBadSetting = errors.New("invalid solver setting")
)

const (
	// regularization keeps the acceleration block positive definite in
	// directions no task covers.
	regularization = 1e-8
	// maxCondition bounds the condition number of the optimality system.
	maxCondition = 1e12
	// inverseTolerance bounds |A*Ainv - I|.
	inverseTolerance = 1e-6
)

// Setting is the dynamics of the current tick, supplied by the dynamics
// collaborator.
type Setting struct {
	MassMatrix        *mat.Dense
	InverseMassMatrix *mat.Dense
	Coriolis          *mat.VecDense
	Gravity           *mat.VecDense
	// RotorInertia is the reflected actuator inertia, added to the actuated
	// diagonal of the mass matrix.
	RotorInertia [robot.NumActJoint]float64
}

// Weights are the per-row cost weights. Task holds one weight per task row in
// list order, Force one per contact row in list order. A near-zero force
// weight leaves that reaction component effectively free.
type Weights struct {
	Task  []float64
	Force []float64
}

// UniformWeights returns weights with every task row at task and every force
// row at force, with the normal rows of each contact at normal.
func UniformWeights(tasks []Task, contacts []Contact, task, force, normal float64) Weights {
	w := Weights{}
	for _, t := range tasks {
		for i := 0; i < t.Dim(); i++ {
			w.Task = append(w.Task, task)
		}
	}
	for _, c := range contacts {
		start := len(w.Force)
		for i := 0; i < c.Dim(); i++ {
			w.Force = append(w.Force, force)
		}
		for _, r := range c.NormalRows() {
			w.Force[start+r] = normal
		}
	}
	return w
}

// Result is the output of one solve.
type Result struct {
	// Torque is the feed-forward actuator torque.
	Torque []float64
	// Qddot is the generalized acceleration of the solution.
	Qddot []float64
	// Force is the stacked contact reaction, in contact list order.
	Force []float64
}

// Solver computes joint torques from tasks and contacts under floating-base
// dynamics. It keeps no state between calls.
//
// The unknowns are the generalized acceleration and the contact reaction.
// The unactuated rows of the equation of motion and zero contact
// acceleration are hard constraints. Task acceleration errors and reaction
// magnitudes are weighted soft costs. The resulting equality-constrained
// least-squares problem is solved through its optimality system.
type Solver struct{}

// NewSolver returns a solver.
func NewSolver() *Solver {
	return &Solver{}
}

func checkSetting(set Setting) error {
	n := robot.NumQdot
	for name, m := range map[string]*mat.Dense{"mass matrix": set.MassMatrix, "inverse mass matrix": set.InverseMassMatrix} {
		if m == nil {
			return errors.Wrapf(ErrBadSetting, "missing %s", name)
		}
		if r, c := m.Dims(); r != n || c != n {
			return errors.Wrapf(ErrBadSetting, "%s is %dx%d", name, r, c)
		}
	}
	for name, v := range map[string]*mat.VecDense{"coriolis": set.Coriolis, "gravity": set.Gravity} {
		if v == nil || v.Len() != n {
			return errors.Wrapf(ErrBadSetting, "%s must have %d entries", name, n)
		}
	}
	var prod mat.Dense
	prod.Mul(set.MassMatrix, set.InverseMassMatrix)
	for i := 0; i < n; i++ {
		prod.Set(i, i, prod.At(i, i)-1)
	}
	if d := mat.Norm(&prod, math.Inf(1)); d > inverseTolerance || math.IsNaN(d) {
		return errors.Wrapf(ErrBadSetting, "inverse mass matrix inconsistent by %.3g", d)
	}
	return nil
}

// Solve builds and solves the problem for tick. Every task and contact must
// have been updated at tick.
func (s *Solver) Solve(tick uint64, set Setting, tasks []Task, contacts []Contact, w Weights) (Result, error) {
	if err := checkSetting(set); err != nil {
		return Result{}, err
	}
	n := robot.NumQdot
	taskDim, contactDim := 0, 0
	for i, t := range tasks {
		at, ok := t.Tick()
		if !ok {
			return Result{}, errors.Wrapf(ErrStaleTask, "task %d never updated", i)
		}
		if at != tick {
			return Result{}, errors.Wrapf(ErrStaleTask, "task %d updated at tick %d, now %d", i, at, tick)
		}
		taskDim += t.Dim()
	}
	for i, c := range contacts {
		at, ok := c.Tick()
		if !ok {
			return Result{}, errors.Wrapf(ErrStaleContact, "contact %d never updated", i)
		}
		if at != tick {
			return Result{}, errors.Wrapf(ErrStaleContact, "contact %d updated at tick %d, now %d", i, at, tick)
		}
		contactDim += c.Dim()
	}
	if taskDim+contactDim > n {
		return Result{}, errors.Wrapf(ErrInfeasible, "%d task rows and %d contact rows for %d degrees of freedom",
			taskDim, contactDim, n)
	}
	if len(w.Task) != taskDim || len(w.Force) != contactDim {
		return Result{}, errors.Wrapf(ErrBadSetting, "weights for %d task and %d force rows, got %d and %d",
			taskDim, contactDim, len(w.Task), len(w.Force))
	}

	// A with rotor inertia, and b + g.
	a := mat.DenseCopyOf(set.MassMatrix)
	for i := 0; i < robot.NumActJoint; i++ {
		j := robot.NumVirtual + i
		a.Set(j, j, a.At(j, j)+set.RotorInertia[i])
	}
	var bg mat.VecDense
	bg.AddVec(set.Coriolis, set.Gravity)

	// Stacked contact Jacobian and its drift.
	var jc *mat.Dense
	jcDot := mat.NewVecDense(max(contactDim, 1), nil)
	if contactDim > 0 {
		jc = mat.NewDense(contactDim, n, nil)
		row := 0
		for _, c := range contacts {
			cj := c.Jacobian()
			cd := c.JDotQdot()
			for i := 0; i < c.Dim(); i++ {
				for j := 0; j < n; j++ {
					jc.Set(row+i, j, cj.At(i, j))
				}
				jcDot.SetVec(row+i, cd.AtVec(i))
			}
			row += c.Dim()
		}
	}

	size := n + contactDim
	hard := robot.NumVirtual + contactDim
	kkt := mat.NewDense(size+hard, size+hard, nil)
	rhs := mat.NewVecDense(size+hard, nil)

	// Cost on qddot: sum of w J^T J, with linear term -w J^T (cmd - Jdot qdot).
	for i := 0; i < n; i++ {
		kkt.Set(i, i, regularization)
	}
	row := 0
	for _, t := range tasks {
		tj := t.Jacobian()
		cmd := t.Command()
		drift := t.JDotQdot()
		for r := 0; r < t.Dim(); r++ {
			wr := w.Task[row+r]
			target := cmd.AtVec(r) - drift.AtVec(r)
			for i := 0; i < n; i++ {
				ji := tj.At(r, i)
				if ji == 0 {
					continue
				}
				rhs.SetVec(i, rhs.AtVec(i)+wr*ji*target)
				for j := 0; j < n; j++ {
					kkt.Set(i, j, kkt.At(i, j)+wr*ji*tj.At(r, j))
				}
			}
		}
		row += t.Dim()
	}
	// Cost on reaction force.
	for k := 0; k < contactDim; k++ {
		kkt.Set(n+k, n+k, w.Force[k])
	}

	// Hard rows: unactuated dynamics A_v qddot - Jc_v^T Fr = -(b+g)_v, then
	// contact acceleration Jc qddot = -Jdot qdot.
	setHard := func(r, c int, v float64) {
		kkt.Set(size+r, c, v)
		kkt.Set(c, size+r, v)
	}
	for r := 0; r < robot.NumVirtual; r++ {
		for c := 0; c < n; c++ {
			setHard(r, c, a.At(r, c))
		}
		for k := 0; k < contactDim; k++ {
			setHard(r, n+k, -jc.At(k, r))
		}
		rhs.SetVec(size+r, -bg.AtVec(r))
	}
	for k := 0; k < contactDim; k++ {
		r := robot.NumVirtual + k
		for c := 0; c < n; c++ {
			setHard(r, c, jc.At(k, c))
		}
		rhs.SetVec(size+r, -jcDot.AtVec(k))
	}

	var lu mat.LU
	lu.Factorize(kkt)
	if cond := lu.Cond(); cond > maxCondition || math.IsNaN(cond) || math.IsInf(cond, 0) {
		return Result{}, errors.Wrapf(ErrSingular, "condition number %.3g", cond)
	}
	var sol mat.VecDense
	if err := lu.SolveVecTo(&sol, false, rhs); err != nil {
		return Result{}, errors.Wrap(ErrSingular, err.Error())
	}

	res := Result{
		Torque: make([]float64, robot.NumActJoint),
		Qddot:  make([]float64, n),
		Force:  make([]float64, contactDim),
	}
	for i := 0; i < n; i++ {
		res.Qddot[i] = sol.AtVec(i)
	}
	for k := 0; k < contactDim; k++ {
		res.Force[k] = sol.AtVec(n + k)
	}

	// tau = (A qddot + b + g - Jc^T Fr) on the actuated rows.
	var gen mat.VecDense
	gen.MulVec(a, sol.SliceVec(0, n))
	gen.AddVec(&gen, &bg)
	if contactDim > 0 {
		var jtf mat.VecDense
		jtf.MulVec(jc.T(), sol.SliceVec(n, size))
		gen.SubVec(&gen, &jtf)
	}
	for i := 0; i < robot.NumActJoint; i++ {
		res.Torque[i] = gen.AtVec(robot.NumVirtual + i)
	}
	return res, nil
}

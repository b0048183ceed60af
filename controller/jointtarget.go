package controller

import (
	"github.com/pkg/errors"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/phase"
	"github.com/clintpurser/biped/robot"
	"github.com/clintpurser/biped/state"
	"github.com/clintpurser/biped/trajectory"
	"github.com/clintpurser/biped/wbc"
)

// JointTarget moves the joints from a start posture to a target posture over
// the moving time and then holds the target.
type JointTarget struct {
	env   *Env
	name  string
	clock phase.Clock

	task    *wbc.JointPosTask
	contact wbc.Contact
	weights wbc.Weights

	target   [robot.NumActJoint]float64
	initial  [robot.NumActJoint]float64
	hasStart bool

	seg     *trajectory.Segment
	start   trajectory.State
	end     trajectory.State
	mid     []float64
	desired trajectory.State

	tasks    []wbc.Task
	contacts []wbc.Contact
}

// NewJointTarget returns a joint target controller. Initialize must run
// before the first visit.
func NewJointTarget(env *Env, name string) *JointTarget {
	return &JointTarget{
		env:     env,
		name:    name,
		task:    wbc.NewJointPosTask(env.State),
		seg:     trajectory.NewSegment(robot.NumActJoint),
		start:   trajectory.NewState(robot.NumActJoint),
		end:     trajectory.NewState(robot.NumActJoint),
		mid:     make([]float64, robot.NumActJoint),
		desired: trajectory.NewState(robot.NumActJoint),
	}
}

// Initialize loads gains, contact and weights.
func (c *JointTarget) Initialize(cfg *config.Config) error {
	p := cfg.JointTarget
	contact, err := newContact(c.env, p.Contact)
	if err != nil {
		return errors.Wrap(err, c.name)
	}
	if err := c.task.SetGains(p.Kp, p.Kd); err != nil {
		return errors.Wrap(err, c.name)
	}
	c.contact = contact
	c.weights = wbc.UniformWeights([]wbc.Task{c.task}, []wbc.Contact{contact}, p.TaskWeight, p.ContactWeight, p.ContactWeight)
	return nil
}

// SetTarget sets the posture to reach.
func (c *JointTarget) SetTarget(jpos [robot.NumActJoint]float64) {
	c.target = jpos
}

// SetInitial fixes the start posture. Without it the measured posture at the
// start of the visit is used.
func (c *JointTarget) SetInitial(jpos [robot.NumActJoint]float64) {
	c.initial = jpos
	c.hasStart = true
}

// SetMovingTime sets the phase duration.
func (c *JointTarget) SetMovingTime(d float64) {
	c.clock.End = d
}

// FirstVisit plans the joint motion from rest to rest.
func (c *JointTarget) FirstVisit() error {
	sp := c.env.State
	c.clock.Start(sp)
	from := sp.JointPos()
	if c.hasStart {
		from = c.initial
	}
	for i := 0; i < robot.NumActJoint; i++ {
		c.start.Pos[i], c.start.Vel[i], c.start.Acc[i] = from[i], 0, 0
		c.end.Pos[i], c.end.Vel[i], c.end.Acc[i] = c.target[i], 0, 0
		c.mid[i] = (from[i] + c.target[i]) / 2
	}
	if err := c.seg.Set(c.start, c.end, c.mid, c.clock.End); err != nil {
		return errors.Wrap(err, c.name)
	}
	c.env.Logger.Infof("%s: moving to %v over %.3fs", c.name, c.target, c.clock.End)
	return nil
}

// Desired returns the joint state commanded at the last tick.
func (c *JointTarget) Desired() trajectory.State {
	return c.desired
}

// OneStep tracks the planned joint motion.
func (c *JointTarget) OneStep(cmd *state.Command) error {
	c.tasks = c.tasks[:0]
	c.contacts = c.contacts[:0]

	c.seg.Eval(c.clock.Time(c.env.State), c.desired)
	if err := c.contact.UpdateContactSpec(); err != nil {
		return err
	}
	c.contacts = append(c.contacts, c.contact)
	if err := c.task.UpdateTask(c.desired.Pos, c.desired.Vel, c.desired.Acc); err != nil {
		return err
	}
	c.tasks = append(c.tasks, c.task)

	res, err := c.env.solve(c.tasks, c.contacts, c.weights)
	if err != nil {
		return err
	}
	record(c.env.State, c.contact, res)
	writeCommand(cmd, res.Torque, c.desired.Pos, c.desired.Vel)
	c.clock.Step()
	return nil
}

// LastVisit does nothing.
func (c *JointTarget) LastVisit() {}

// EndOfPhase reports whether the moving time has elapsed.
func (c *JointTarget) EndOfPhase() bool {
	return c.clock.Expired()
}

package controller

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/phase"
	"github.com/clintpurser/biped/planner"
	"github.com/clintpurser/biped/robot"
	"github.com/clintpurser/biped/state"
	"github.com/clintpurser/biped/trajectory"
	"github.com/clintpurser/biped/wbc"
)

// SwingPlanning swings one leg along a joint-space segment while the other
// foot supports the robot. At evenly spaced checkpoints it asks the footstep
// planner for a new foothold and re-arms the segment from the current
// desired state, which keeps position continuous but not acceleration.
type SwingPlanning struct {
	env       *Env
	name      string
	swingFoot robot.LinkID
	legJoint  int
	side      float64

	reversal *planner.Reversal
	filter   *planner.CoMFilter
	clock    phase.Clock

	task    *wbc.JointPosTask
	contact *wbc.SingleContact
	weights wbc.Weights

	params     config.Swing
	swingTime  float64
	stanceTime float64
	transTime  float64
	stanceMix  float64
	transMix   float64
	switchExit bool
	replanning bool

	stancePosture [robot.NumActJoint]float64
	kp, kd        []float64
	schedKp       []float64
	schedKd       []float64

	seg          *trajectory.Segment
	leg          trajectory.State
	zero         trajectory.State
	target       r3.Vector
	targetZ      float64
	replanMoment float64
	numPlanning  int
	replans      int

	desPos, desVel, desAcc []float64

	tasks    []wbc.Task
	contacts []wbc.Contact
}

// NewSwingPlanning returns a swing controller for swingFoot sharing the
// given footstep planner.
func NewSwingPlanning(env *Env, name string, swingFoot robot.LinkID, reversal *planner.Reversal) (*SwingPlanning, error) {
	if err := robot.CheckFoot(swingFoot); err != nil {
		return nil, err
	}
	contact, err := wbc.NewSingleContact(env.Dyn, env.State, swingFoot.Other())
	if err != nil {
		return nil, err
	}
	side := 1.0
	if swingFoot == robot.RightFoot {
		side = -1
	}
	return &SwingPlanning{
		env:       env,
		name:      name,
		swingFoot: swingFoot,
		legJoint:  robot.LegJoint(swingFoot),
		side:      side,
		reversal:  reversal,
		task:      wbc.NewJointPosTask(env.State),
		contact:   contact,
		seg:       trajectory.NewSegment(3),
		leg:       trajectory.NewState(3),
		zero:      trajectory.NewState(3),
		desPos:    make([]float64, robot.NumActJoint),
		desVel:    make([]float64, robot.NumActJoint),
		desAcc:    make([]float64, robot.NumActJoint),
	}, nil
}

// Initialize loads the swing parameters and checks the step timing against
// the footstep planner.
func (c *SwingPlanning) Initialize(cfg *config.Config) error {
	c.params = cfg.Swing
	w := cfg.Walking
	c.swingTime = w.SwingTime
	c.stanceTime = w.StanceTime
	c.transTime = w.TransitionTime
	c.stanceMix = w.DoubleStanceMixRatio
	c.transMix = w.TransitionMixRatio
	c.switchExit = w.ContactSwitchCheck
	c.replanning = w.Replanning
	c.clock.End = c.swingTime

	if err := c.task.SetGains(c.params.Kp, c.params.Kd); err != nil {
		return errors.Wrap(err, c.name)
	}
	c.kp, c.kd = c.task.Gains()
	c.schedKp, c.schedKd = c.task.Gains()
	c.weights = wbc.UniformWeights([]wbc.Task{c.task}, []wbc.Contact{c.contact},
		c.params.TaskWeight, c.params.ContactWeight, c.params.NormalWeight)

	filter, err := planner.NewCoMFilter(cfg.CoMFilter, c.env.State.Period)
	if err != nil {
		return errors.Wrap(err, c.name)
	}
	c.filter = filter

	period := c.stanceMix*c.stanceTime + c.transMix*c.transTime + c.swingTime
	if err := c.reversal.CheckEigenValues(period); err != nil {
		return errors.Wrap(err, c.name)
	}
	return nil
}

// SetStancePosture sets the posture the stance leg holds.
func (c *SwingPlanning) SetStancePosture(jpos [robot.NumActJoint]float64) {
	c.stancePosture = jpos
}

// SwingFoot returns the swinging foot.
func (c *SwingPlanning) SwingFoot() robot.LinkID { return c.swingFoot }

// Replans returns the number of replanning events since construction.
func (c *SwingPlanning) Replans() int { return c.replans }

// Target returns the current foothold in the local frame.
func (c *SwingPlanning) Target() r3.Vector { return c.target }

// EndTime returns the current swing duration, including planner corrections.
func (c *SwingPlanning) EndTime() float64 { return c.clock.End }

// Desired returns the swing leg state commanded at the last tick.
func (c *SwingPlanning) Desired() trajectory.State { return c.leg }

func (c *SwingPlanning) comMeasurement() [4]float64 {
	sp := c.env.State
	return [4]float64{sp.CoMPos.X, sp.CoMPos.Y, sp.CoMVel.X, sp.CoMVel.Y}
}

func (c *SwingPlanning) updateFilter() error {
	if err := c.filter.Update(c.comMeasurement()); err != nil {
		return errors.Wrap(err, "com filter")
	}
	est := c.filter.State()
	c.env.State.RecordCoMEstimate(est[:])
	return nil
}

// FirstVisit plans the swing from the current leg configuration to the
// default foothold.
func (c *SwingPlanning) FirstVisit() error {
	sp := c.env.State
	c.clock.Start(sp)
	c.clock.End = c.swingTime
	c.replanMoment = 0
	c.numPlanning = 0

	var start [3]float64
	copy(start[:], sp.Q[c.legJoint:c.legJoint+3])
	foot := c.env.Dyn.Position(c.swingFoot)
	def := c.params.DefaultTarget
	c.targetZ = foot.Z - c.params.PushDownHeight
	target := r3.Vector{
		X: def[0] + sp.Q[0],
		Y: c.side*def[1] + sp.Q[1],
		Z: c.targetZ,
	}

	c.filter.Reset(c.comMeasurement())
	if err := c.updateFilter(); err != nil {
		return err
	}

	if c.params.InitialPlanning {
		planned, err := c.plan(0)
		if err != nil {
			return err
		}
		off := c.params.BodyPtOffset
		y := sp.Q[1] + off[1]
		target = planned
		target.Y = y + c.side*def[1] + c.params.KpY*y
	}

	if err := c.arm(0, start, c.zero, target); err != nil {
		return errors.Wrap(err, c.name)
	}
	c.env.Logger.Infof("%s: swing %v to %v over %.3fs", c.name, c.swingFoot, target, c.clock.End)
	return nil
}

// plan queries the footstep planner at phase time t and returns the new
// foothold in the local frame. It moves the replan moment and applies the
// planner's time correction.
func (c *SwingPlanning) plan(t float64) (r3.Vector, error) {
	sp := c.env.State
	off := c.params.BodyPtOffset
	com := r3.Vector{X: sp.Q[0] + off[0], Y: sp.Q[1] + off[1], Z: sp.CoMPos.Z}.Add(sp.GlobalPosLocal)
	vel := r3.Vector{X: sp.EstimatedCoM[2], Y: sp.EstimatedCoM[3]}
	param := planner.Param{
		SwingTime:        c.clock.End - t + c.transTime*c.transMix + c.stanceTime*c.stanceMix,
		DesLoc:           sp.DesLocation,
		StanceFoot:       sp.GlobalPosLocal,
		PositiveSidestep: c.swingFoot == robot.LeftFoot,
	}
	c.env.Logger.Debugf("%s: planning from com %v vel %v", c.name, com, vel)
	out, err := c.reversal.NextFootLocation(com, vel, param)
	if err != nil {
		return r3.Vector{}, errors.Wrap(err, c.name)
	}
	c.replanMoment = t
	c.clock.End += out.TimeCorrection
	// at least one more tick of swing
	if floor := t + sp.Period; c.clock.End < floor {
		c.clock.End = floor
	}
	target := out.Target.Sub(sp.GlobalPosLocal)
	target.Z = c.targetZ
	return target, nil
}

// arm re-arms the leg segment from the given start state toward target,
// planned at phase time t.
func (c *SwingPlanning) arm(t float64, start [3]float64, from trajectory.State, target r3.Vector) error {
	ik := c.env.IK
	guess := c.env.State.Q
	end, err := ik.LegConfigAtVerticalPosture(c.swingFoot, target, guess)
	if err != nil {
		return err
	}
	stPos, err := ik.FootPosAtVerticalPosture(c.swingFoot, start, guess)
	if err != nil {
		return err
	}
	var mid [3]float64
	trajectory.Waypoint(mid[:],
		[]float64{stPos.X, stPos.Y, stPos.Z},
		[]float64{target.X, target.Y, target.Z},
		trajectory.Portion(c.clock.End, t), c.params.SwingHeight+target.Z)
	midCfg, err := ik.LegConfigAtVerticalPosture(c.swingFoot, r3.Vector{X: mid[0], Y: mid[1], Z: mid[2]}, guess)
	if err != nil {
		return err
	}

	begin := trajectory.State{Pos: start[:], Vel: from.Vel, Acc: from.Acc}
	finish := trajectory.State{Pos: end[:], Vel: c.zero.Vel, Acc: c.zero.Acc}
	if err := c.seg.Set(begin, finish, midCfg[:], c.clock.End-c.replanMoment); err != nil {
		return err
	}
	c.target = target
	return nil
}

func (c *SwingPlanning) replanDue(t float64) bool {
	n := c.params.NumReplanning
	if !c.replanning || c.numPlanning >= n {
		return false
	}
	return c.clock.Reached(c.env.State, c.clock.End/float64(n+1)*float64(c.numPlanning+1))
}

// scheduleGains lowers the swing leg gains near touchdown when configured.
func (c *SwingPlanning) scheduleGains(t float64) error {
	copy(c.schedKp, c.kp)
	copy(c.schedKd, c.kd)
	if c.params.GainSchedule == config.GainLinearDecrease {
		window := c.params.GainDecreasingWin * c.clock.End
		remain := math.Max(c.clock.End-t, 1e-5)
		if remain < window {
			r := remain / window
			scale := r + (1-r)*c.params.GainDecreasingRatio
			j := c.legJoint - robot.NumVirtual
			for i := j; i < j+3; i++ {
				c.schedKp[i] = c.kp[i] * scale
				c.schedKd[i] = c.kd[i] * scale
			}
		}
	}
	return c.task.SetGains(c.schedKp, c.schedKd)
}

// OneStep replans when a checkpoint is crossed, then tracks the stance
// posture on the stance leg and the segment on the swing leg.
func (c *SwingPlanning) OneStep(cmd *state.Command) error {
	sp := c.env.State
	c.tasks = c.tasks[:0]
	c.contacts = c.contacts[:0]
	t := c.clock.Time(sp)

	if err := c.updateFilter(); err != nil {
		return err
	}
	c.seg.Eval(t-c.replanMoment, c.leg)
	if c.replanDue(t) {
		target, err := c.plan(t)
		if err != nil {
			return err
		}
		var start [3]float64
		copy(start[:], c.leg.Pos)
		if err := c.arm(t, start, c.leg, target); err != nil {
			return errors.Wrapf(err, "%s replanning", c.name)
		}
		c.numPlanning++
		c.replans++
		c.env.Logger.Debugf("%s: replanned at %.3fs, target %v, end %.3fs", c.name, t, target, c.clock.End)
		c.seg.Eval(t-c.replanMoment, c.leg)
	}

	copy(c.desPos, c.stancePosture[:])
	for i := range c.desVel {
		c.desVel[i], c.desAcc[i] = 0, 0
	}
	j := c.legJoint - robot.NumVirtual
	copy(c.desPos[j:j+3], c.leg.Pos)
	copy(c.desVel[j:j+3], c.leg.Vel)
	copy(c.desAcc[j:j+3], c.leg.Acc)

	if err := c.scheduleGains(t); err != nil {
		return err
	}
	if err := c.contact.UpdateContactSpec(); err != nil {
		return err
	}
	c.contacts = append(c.contacts, c.contact)
	if err := c.task.UpdateTask(c.desPos, c.desVel, c.desAcc); err != nil {
		return err
	}
	c.tasks = append(c.tasks, c.task)

	res, err := c.env.solve(c.tasks, c.contacts, c.weights)
	if err != nil {
		return err
	}
	record(sp, c.contact, res)
	writeCommand(cmd, res.Torque, c.desPos, c.desVel)
	c.clock.Step()
	return nil
}

// LastVisit restores the unscheduled gains.
func (c *SwingPlanning) LastVisit() {
	if err := c.task.SetGains(c.kp, c.kd); err != nil {
		c.env.Logger.Warnf("%s: restoring gains: %v", c.name, err)
	}
}

// EndOfPhase ends the swing at the end time, or on touchdown past mid-swing
// when contact switching is enabled.
func (c *SwingPlanning) EndOfPhase() bool {
	if c.clock.Expired() {
		return true
	}
	if c.switchExit && c.clock.Elapsed() > 0.5*c.clock.End && c.env.State.FootContact(c.swingFoot) {
		c.env.Logger.Infof("%s: touchdown at %.3fs of %.3fs", c.name, c.clock.Elapsed(), c.clock.End)
		return true
	}
	return false
}

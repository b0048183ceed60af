package controller

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/phase"
	"github.com/clintpurser/biped/robot"
	"github.com/clintpurser/biped/state"
	"github.com/clintpurser/biped/wbc"
)

// PostureHold holds either a joint posture or the body height and
// orientation captured at the start of the phase, under a double-foot or
// fixed-body contact.
type PostureHold struct {
	env   *Env
	name  string
	clock phase.Clock

	mode      config.PostureTask
	jointTask *wbc.JointPosTask
	bodyTask  *wbc.BodyTask
	contact   wbc.Contact
	weights   wbc.Weights

	posture    [robot.NumActJoint]float64
	hasPosture bool

	desPos  []float64
	bodyDes []float64
	zeroJ   []float64
	zeroB   []float64

	tasks    []wbc.Task
	contacts []wbc.Contact
}

// NewPostureHold returns a posture controller. Initialize must run before
// the first visit.
func NewPostureHold(env *Env, name string) *PostureHold {
	return &PostureHold{
		env:       env,
		name:      name,
		jointTask: wbc.NewJointPosTask(env.State),
		bodyTask:  wbc.NewBodyTask(env.State),
		desPos:    make([]float64, robot.NumActJoint),
		bodyDes:   make([]float64, wbc.BodyTaskDim),
		zeroJ:     make([]float64, robot.NumActJoint),
		zeroB:     make([]float64, wbc.BodyTaskDim),
	}
}

// Initialize loads the posture parameters.
func (c *PostureHold) Initialize(cfg *config.Config) error {
	p := cfg.Posture
	contact, err := newContact(c.env, p.Contact)
	if err != nil {
		return errors.Wrap(err, c.name)
	}
	c.contact = contact
	c.mode = p.Task
	var task wbc.Task
	switch p.Task {
	case config.JointPosture:
		err = c.jointTask.SetGains(p.Kp, p.Kd)
		task = c.jointTask
	case config.BodyPosture:
		err = c.bodyTask.SetGains(p.BodyKp, p.BodyKd)
		task = c.bodyTask
	default:
		err = errors.Errorf("unknown posture task %q", p.Task)
	}
	if err != nil {
		return errors.Wrap(err, c.name)
	}
	c.weights = wbc.UniformWeights([]wbc.Task{task}, []wbc.Contact{contact}, p.TaskWeight, p.ContactWeight, p.ContactWeight)
	c.env.Logger.Infof("%s: %s posture under %s contact", c.name, p.Task, p.Contact)
	return nil
}

// SetPosture fixes the joint posture to hold. Without it the posture at the
// start of each visit is held.
func (c *PostureHold) SetPosture(jpos [robot.NumActJoint]float64) {
	c.posture = jpos
	c.hasPosture = true
}

// SetMovingTime sets the phase duration.
func (c *PostureHold) SetMovingTime(d float64) {
	c.clock.End = d
}

// FirstVisit captures the posture and body pose to hold.
func (c *PostureHold) FirstVisit() error {
	sp := c.env.State
	c.clock.Start(sp)
	jpos := sp.JointPos()
	if c.hasPosture {
		jpos = c.posture
	}
	copy(c.desPos, jpos[:])

	rot := wbc.OrientationError(sp.BodyOri, quat.Number{Real: 1})
	c.bodyDes[0] = sp.Q[2]
	c.bodyDes[1], c.bodyDes[2], c.bodyDes[3] = rot.X, rot.Y, rot.Z
	return nil
}

// BodyTarget returns the held body height and orientation.
func (c *PostureHold) BodyTarget() (float64, quat.Number) {
	return c.bodyDes[0], wbc.RotationVectorToQuat(r3.Vector{X: c.bodyDes[1], Y: c.bodyDes[2], Z: c.bodyDes[3]})
}

// OneStep solves for the holding torque.
func (c *PostureHold) OneStep(cmd *state.Command) error {
	c.tasks = c.tasks[:0]
	c.contacts = c.contacts[:0]

	if err := c.contact.UpdateContactSpec(); err != nil {
		return err
	}
	c.contacts = append(c.contacts, c.contact)

	pos := c.desPos
	if c.mode == config.BodyPosture {
		if err := c.bodyTask.UpdateTask(c.bodyDes, c.zeroB, c.zeroB); err != nil {
			return err
		}
		c.tasks = append(c.tasks, c.bodyTask)
		jpos := c.env.State.JointPos()
		pos = jpos[:]
	} else {
		if err := c.jointTask.UpdateTask(c.desPos, c.zeroJ, c.zeroJ); err != nil {
			return err
		}
		c.tasks = append(c.tasks, c.jointTask)
	}

	res, err := c.env.solve(c.tasks, c.contacts, c.weights)
	if err != nil {
		return err
	}
	record(c.env.State, c.contact, res)
	writeCommand(cmd, res.Torque, pos, c.zeroJ)
	c.clock.Step()
	return nil
}

// LastVisit does nothing; the held posture is recaptured on the next visit.
func (c *PostureHold) LastVisit() {}

// EndOfPhase reports whether the moving time has elapsed.
func (c *PostureHold) EndOfPhase() bool {
	return c.clock.Expired()
}

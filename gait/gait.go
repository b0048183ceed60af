// Package gait assembles phase controllers into the named phase programs the
// walker runs.
package gait

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/controller"
	"github.com/clintpurser/biped/phase"
	"github.com/clintpurser/biped/planner"
	"github.com/clintpurser/biped/robot"
	"github.com/clintpurser/biped/state"
)

// Program names.
const (
	WalkingTest   = "walking_test"
	JointCtrlTest = "joint_ctrl_test"
	BodyCtrlTest  = "body_ctrl_test"
)

// ErrUnknownTest is returned for a program name that does not exist.
var ErrUnknownTest = errors.New("unknown test")

// Walking program slots.
const (
	SlotInitiation = iota
	SlotLift
	SlotDoubleContact1
	SlotRightSwingStartTrans
	SlotRightSwing
	SlotRightSwingEndTrans
	SlotDoubleContact2
	SlotLeftSwingStartTrans
	SlotLeftSwing
	SlotLeftSwingEndTrans
	numWalkingSlots
)

// Program is a configured phase sequence.
type Program struct {
	name   string
	env    *controller.Env
	seq    *phase.Sequencer
	logger logging.Logger

	numStep int
	swings  []*controller.SwingPlanning
}

// New builds the program named by cfg.Interface.TestName.
func New(cfg *config.Config, env *controller.Env) (*Program, error) {
	p := &Program{name: cfg.Interface.TestName, env: env, logger: env.Logger}
	var err error
	switch p.name {
	case WalkingTest:
		err = p.buildWalking(cfg)
	case JointCtrlTest:
		err = p.buildJointCtrl(cfg)
	case BodyCtrlTest:
		err = p.buildBodyCtrl(cfg)
	default:
		return nil, errors.Wrapf(ErrUnknownTest, "%q", p.name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s", p.name)
	}
	p.logger.Infof("%s program ready", p.name)
	return p, nil
}

func stancePosture(cfg *config.Config, ik robot.InverseKinematics) ([robot.NumActJoint]float64, error) {
	half := cfg.Walking.StanceWidth / 2
	return ik.StancePosture(cfg.Walking.BodyHeight, r3.Vector{Y: -half}, r3.Vector{Y: half})
}

func initialize(cfg *config.Config, ctrls ...phase.Controller) error {
	for _, c := range ctrls {
		if err := c.Initialize(cfg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) buildWalking(cfg *config.Config) error {
	env := p.env
	w := cfg.Walking
	stance, err := stancePosture(cfg, env.IK)
	if err != nil {
		return err
	}
	var initial [robot.NumActJoint]float64
	copy(initial[:], w.InitialJPos)

	reversal, err := planner.NewReversal(cfg.Planner, w.BodyHeight, p.logger)
	if err != nil {
		return err
	}

	jpos := controller.NewJointTarget(env, "jpos_initialization")
	bodyUp := controller.NewJointTarget(env, "body_lifting")
	bodyFix := controller.NewPostureHold(env, "double_contact")
	rightStart := controller.NewPostureHold(env, "right_swing_start_trans")
	rightEnd := controller.NewPostureHold(env, "right_swing_end_trans")
	leftStart := controller.NewPostureHold(env, "left_swing_start_trans")
	leftEnd := controller.NewPostureHold(env, "left_swing_end_trans")
	rightSwing, err := controller.NewSwingPlanning(env, "right_swing", robot.RightFoot, reversal)
	if err != nil {
		return err
	}
	leftSwing, err := controller.NewSwingPlanning(env, "left_swing", robot.LeftFoot, reversal)
	if err != nil {
		return err
	}
	if err := initialize(cfg, jpos, bodyUp, bodyFix, rightStart, rightEnd, leftStart, leftEnd, rightSwing, leftSwing); err != nil {
		return err
	}

	jpos.SetTarget(initial)
	jpos.SetMovingTime(w.InitializationTime)
	bodyUp.SetInitial(initial)
	bodyUp.SetTarget(stance)
	bodyUp.SetMovingTime(w.LiftingTime)
	bodyFix.SetPosture(stance)
	bodyFix.SetMovingTime(w.StanceTime)
	for _, c := range []*controller.PostureHold{rightStart, rightEnd, leftStart, leftEnd} {
		c.SetPosture(stance)
		c.SetMovingTime(w.TransitionTime)
	}
	rightSwing.SetStancePosture(stance)
	leftSwing.SetStancePosture(stance)
	p.swings = []*controller.SwingPlanning{rightSwing, leftSwing}

	sp := env.State
	sp.GlobalPosLocal = r3.Vector{Y: w.StartLocalY}
	sp.DesLocation = r3.Vector{X: w.DesLocation[0], Y: w.DesLocation[1]}

	slots := make([]phase.Slot, numWalkingSlots)
	slots[SlotInitiation] = phase.Slot{Name: "initiation", Controller: jpos}
	slots[SlotLift] = phase.Slot{Name: "lift_up", Controller: bodyUp}
	slots[SlotDoubleContact1] = phase.Slot{Name: "double_contact_1", Controller: bodyFix}
	slots[SlotRightSwingStartTrans] = phase.Slot{Name: "right_swing_start_trans", Controller: rightStart}
	slots[SlotRightSwing] = phase.Slot{Name: "right_swing", Controller: rightSwing}
	slots[SlotRightSwingEndTrans] = phase.Slot{Name: "right_swing_end_trans", Controller: rightEnd}
	slots[SlotDoubleContact2] = phase.Slot{Name: "double_contact_2", Controller: bodyFix}
	slots[SlotLeftSwingStartTrans] = phase.Slot{Name: "left_swing_start_trans", Controller: leftStart}
	slots[SlotLeftSwing] = phase.Slot{Name: "left_swing", Controller: leftSwing}
	slots[SlotLeftSwingEndTrans] = phase.Slot{Name: "left_swing_end_trans", Controller: leftEnd}

	p.seq, err = phase.NewSequencer(slots, SlotDoubleContact1, p.nextPhase, p.logger)
	return err
}

// nextPhase switches the stance foot when a double contact phase ends and
// moves the local frame origin onto the new stance foot.
func (p *Program) nextPhase(finished int) {
	sp := p.env.State
	var foot robot.LinkID
	switch finished {
	case SlotDoubleContact1:
		foot = robot.LeftFoot
	case SlotDoubleContact2:
		foot = robot.RightFoot
	default:
		return
	}
	p.numStep++
	// the robot starts on its left foot, so the first switch keeps the frame
	if !(finished == SlotDoubleContact1 && p.numStep == 1) {
		sp.GlobalPosLocal = sp.GlobalPosLocal.Add(p.env.Dyn.Position(foot))
	}
	sp.StanceFoot = foot
	sp.NumStep = p.numStep
	p.logger.Infof("step %d on %v, local frame at %v", p.numStep, foot, sp.GlobalPosLocal)
}

func (p *Program) buildJointCtrl(cfg *config.Config) error {
	env := p.env
	var initial [robot.NumActJoint]float64
	copy(initial[:], cfg.Walking.InitialJPos)

	move := controller.NewJointTarget(env, "jpos_move")
	hold := controller.NewPostureHold(env, "jpos_hold")
	if err := initialize(cfg, move, hold); err != nil {
		return err
	}
	move.SetTarget(initial)
	move.SetMovingTime(cfg.Walking.InitializationTime)
	hold.SetPosture(initial)
	hold.SetMovingTime(cfg.Walking.StanceTime)

	var err error
	p.seq, err = phase.NewSequencer([]phase.Slot{
		{Name: "jpos_move", Controller: move},
		{Name: "jpos_hold", Controller: hold},
	}, 1, nil, p.logger)
	return err
}

// buildBodyCtrl moves to the initial posture, lifts the body onto both feet
// and then holds body height and orientation, repeating the hold.
func (p *Program) buildBodyCtrl(cfg *config.Config) error {
	env := p.env
	w := cfg.Walking
	stance, err := stancePosture(cfg, env.IK)
	if err != nil {
		return err
	}
	var initial [robot.NumActJoint]float64
	copy(initial[:], w.InitialJPos)

	// the hold always tracks the body on both feet
	bodyCfg := *cfg
	bodyCfg.Posture.Task = config.BodyPosture
	bodyCfg.Posture.Contact = config.DoubleFootContact

	jpos := controller.NewJointTarget(env, "jpos_initialization")
	bodyUp := controller.NewJointTarget(env, "body_lifting")
	body := controller.NewPostureHold(env, "body_ctrl")
	if err := initialize(cfg, jpos, bodyUp); err != nil {
		return err
	}
	if err := body.Initialize(&bodyCfg); err != nil {
		return err
	}
	jpos.SetTarget(initial)
	jpos.SetMovingTime(w.InitializationTime)
	bodyUp.SetInitial(initial)
	bodyUp.SetTarget(stance)
	bodyUp.SetMovingTime(w.LiftingTime)
	body.SetMovingTime(w.StanceTime)

	p.seq, err = phase.NewSequencer([]phase.Slot{
		{Name: "jpos_initialization", Controller: jpos},
		{Name: "body_lifting", Controller: bodyUp},
		{Name: "body_ctrl", Controller: body},
	}, 2, nil, p.logger)
	return err
}

// Name returns the program name.
func (p *Program) Name() string { return p.name }

// Step runs the active phase for one tick.
func (p *Program) Step(cmd *state.Command) error {
	return p.seq.Step(cmd)
}

// Status returns the sequencer position.
func (p *Program) Status() phase.Status { return p.seq.Status() }

// Stalled reports whether the active phase has run more than maxTicks.
func (p *Program) Stalled(maxTicks int) bool { return p.seq.Stalled(maxTicks) }

// NumStep returns the number of stance switches so far.
func (p *Program) NumStep() int { return p.numStep }

// Swings returns the swing controllers, right then left. It is empty for
// programs without swing phases.
func (p *Program) Swings() []*controller.SwingPlanning { return p.swings }

package config

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrInvalid marks a malformed parameter.
var ErrInvalid = errors.New("invalid parameter")

func invalidf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}

func checkLen(name string, v []float64, n int) error {
	if len(v) != n {
		return invalidf("%s must have %d values, got %d", name, n, len(v))
	}
	return nil
}

func checkPositive(name string, v float64) error {
	if v <= 0 {
		return invalidf("%s must be positive, got %v", name, v)
	}
	return nil
}

func (k ContactKind) valid() bool {
	return k == DoubleFootContact || k == FixedBodyContact
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	return multierr.Combine(
		c.Interface.Validate(),
		c.Walking.Validate(),
		c.Posture.Validate(),
		c.JointTarget.Validate(),
		c.Swing.Validate(),
		c.Planner.Validate(),
		c.CoMFilter.Validate(),
		c.Model.Validate(),
	)
}

// Validate checks the interface section.
func (c *Interface) Validate() error {
	var err error
	if c.TestName == "" {
		err = multierr.Append(err, invalidf("interface.test_name is required"))
	}
	err = multierr.Append(err, checkPositive("interface.servo_period", c.ServoPeriod))
	if c.WaitingCount < 0 {
		err = multierr.Append(err, invalidf("interface.waiting_count must not be negative"))
	}
	switch c.Estimator {
	case BasicAccumulation, AccObserver, NoBias, NoAccState:
	default:
		err = multierr.Append(err, invalidf("unknown estimator %q", c.Estimator))
	}
	err = multierr.Append(err, checkLen("interface.rotor_inertia", c.RotorInertia, 6))
	for _, v := range c.RotorInertia {
		if v < 0 {
			err = multierr.Append(err, invalidf("interface.rotor_inertia must not be negative"))
			break
		}
	}
	if c.MaxPhaseTicks < 0 {
		err = multierr.Append(err, invalidf("interface.max_phase_ticks must not be negative"))
	}
	return multierr.Append(err, checkPositive("interface.max_joint_vel", c.MaxJointVel))
}

// Validate checks the walking section.
func (c *Walking) Validate() error {
	err := multierr.Combine(
		checkLen("walking.initial_jpos", c.InitialJPos, 6),
		checkPositive("walking.body_height", c.BodyHeight),
		checkPositive("walking.jpos_initialization_time", c.InitializationTime),
		checkPositive("walking.body_lifting_time", c.LiftingTime),
		checkPositive("walking.stance_time", c.StanceTime),
		checkPositive("walking.swing_time", c.SwingTime),
		checkPositive("walking.st_transition_time", c.TransitionTime),
		checkLen("walking.des_location", c.DesLocation, 2),
	)
	if c.DoubleStanceMixRatio < 0 || c.DoubleStanceMixRatio > 1 {
		err = multierr.Append(err, invalidf("walking.double_stance_mix_ratio must be in [0, 1]"))
	}
	if c.TransitionMixRatio < 0 || c.TransitionMixRatio > 1 {
		err = multierr.Append(err, invalidf("walking.transition_phase_mix_ratio must be in [0, 1]"))
	}
	return err
}

func validateGains(section string, kp, kd []float64) error {
	return multierr.Combine(
		checkLen(section+".kp", kp, 6),
		checkLen(section+".kd", kd, 6),
	)
}

// Validate checks the posture section.
func (c *Posture) Validate() error {
	err := multierr.Combine(
		validateGains("posture", c.Kp, c.Kd),
		checkLen("posture.body_kp", c.BodyKp, 4),
		checkLen("posture.body_kd", c.BodyKd, 4),
		checkPositive("posture.task_weight", c.TaskWeight),
		checkPositive("posture.contact_weight", c.ContactWeight),
	)
	if !c.Contact.valid() {
		err = multierr.Append(err, invalidf("unknown posture contact %q", c.Contact))
	}
	switch c.Task {
	case JointPosture:
	case BodyPosture:
		if c.Contact == FixedBodyContact {
			err = multierr.Append(err, invalidf("posture.task body needs foot contact"))
		}
	default:
		err = multierr.Append(err, invalidf("unknown posture task %q", c.Task))
	}
	return err
}

// Validate checks the joint target section.
func (c *JointTarget) Validate() error {
	err := multierr.Combine(
		validateGains("joint_target", c.Kp, c.Kd),
		checkPositive("joint_target.task_weight", c.TaskWeight),
		checkPositive("joint_target.contact_weight", c.ContactWeight),
	)
	if !c.Contact.valid() {
		err = multierr.Append(err, invalidf("unknown joint_target contact %q", c.Contact))
	}
	return err
}

// Validate checks the swing section.
func (c *Swing) Validate() error {
	err := multierr.Combine(
		validateGains("swing", c.Kp, c.Kd),
		checkLen("swing.default_target_foot_location", c.DefaultTarget, 3),
		checkLen("swing.body_pt_offset", c.BodyPtOffset, 2),
		checkPositive("swing.task_weight", c.TaskWeight),
		checkPositive("swing.contact_weight", c.ContactWeight),
		checkPositive("swing.normal_force_weight", c.NormalWeight),
	)
	if c.SwingHeight < 0 {
		err = multierr.Append(err, invalidf("swing.swing_height must not be negative"))
	}
	if c.NumReplanning < 0 {
		err = multierr.Append(err, invalidf("swing.num_replanning must not be negative"))
	}
	switch c.GainSchedule {
	case GainConstant:
	case GainLinearDecrease:
		if c.GainDecreasingWin <= 0 || c.GainDecreasingWin > 1 {
			err = multierr.Append(err, invalidf("swing.gain_decreasing_period_portion must be in (0, 1]"))
		}
		if c.GainDecreasingRatio < 0 {
			err = multierr.Append(err, invalidf("swing.gain_decreasing_ratio must not be negative"))
		}
	default:
		err = multierr.Append(err, invalidf("unknown gain schedule %q", c.GainSchedule))
	}
	return err
}

// Validate checks the planner section.
func (c *Planner) Validate() error {
	err := multierr.Combine(
		checkLen("planner.t_prime", c.TPrime, 2),
		checkLen("planner.kappa", c.Kappa, 2),
		checkPositive("planner.x_step_length_limit", c.XStepLengthLimit),
		checkPositive("planner.y_step_length_min", c.YStepLengthMin),
		checkPositive("planner.min_swing_remaining", c.MinSwingRemaining),
	)
	for _, v := range c.TPrime {
		err = multierr.Append(err, checkPositive("planner.t_prime", v))
	}
	for _, v := range c.Kappa {
		err = multierr.Append(err, checkPositive("planner.kappa", v))
	}
	if c.YStepLengthMax < c.YStepLengthMin {
		err = multierr.Append(err, invalidf("planner.y_step_length_max must not be below y_step_length_min"))
	}
	return err
}

// Validate checks the CoM filter section.
func (c *CoMFilter) Validate() error {
	return multierr.Combine(
		checkPositive("com_filter.process_noise_pos", c.ProcessNoisePos),
		checkPositive("com_filter.process_noise_vel", c.ProcessNoiseVel),
		checkPositive("com_filter.measure_noise_pos", c.MeasureNoisePos),
		checkPositive("com_filter.measure_noise_vel", c.MeasureNoiseVel),
	)
}

// Validate checks the model section.
func (c *Model) Validate() error {
	err := multierr.Combine(
		checkPositive("model.body_mass", c.BodyMass),
		checkLen("model.body_inertia", c.BodyInertia, 3),
		checkPositive("model.thigh_mass", c.ThighMass),
		checkPositive("model.shank_mass", c.ShankMass),
		checkPositive("model.thigh_length", c.ThighLength),
		checkPositive("model.shank_length", c.ShankLength),
		checkPositive("model.hip_width", c.HipWidth),
		checkPositive("model.armature", c.Armature),
	)
	for _, v := range c.BodyInertia {
		err = multierr.Append(err, checkPositive("model.body_inertia", v))
	}
	return err
}

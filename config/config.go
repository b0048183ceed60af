// Package config holds the controller parameters and loads them from YAML
// parameter files.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EstimatorStrategy selects the orientation fusion strategy.
type EstimatorStrategy string

// Orientation fusion strategies.
const (
	BasicAccumulation EstimatorStrategy = "basic_accumulation"
	AccObserver       EstimatorStrategy = "acc_observer"
	NoBias            EstimatorStrategy = "no_bias"
	NoAccState        EstimatorStrategy = "no_acc_state"
)

// GainSchedule selects how swing-leg feedback gains evolve near touchdown.
type GainSchedule string

// Gain schedules.
const (
	GainConstant       GainSchedule = "constant"
	GainLinearDecrease GainSchedule = "linear_decrease"
)

// ContactKind selects the contact constraint of the posture controller.
type ContactKind string

// Contact kinds.
const (
	DoubleFootContact ContactKind = "double_foot"
	FixedBodyContact  ContactKind = "fixed_body"
)

// PostureTask selects what the posture controller tracks.
type PostureTask string

// Posture tasks.
const (
	// JointPosture holds the actuated joints at the phase-start posture.
	JointPosture PostureTask = "joint"
	// BodyPosture holds the body height and orientation.
	BodyPosture PostureTask = "body"
)

// Config is the full parameter set of the control core.
type Config struct {
	Interface   Interface   `json:"interface" yaml:"interface"`
	Walking     Walking     `json:"walking" yaml:"walking"`
	Posture     Posture     `json:"posture" yaml:"posture"`
	JointTarget JointTarget `json:"joint_target" yaml:"joint_target"`
	Swing       Swing       `json:"swing" yaml:"swing"`
	Planner     Planner     `json:"planner" yaml:"planner"`
	CoMFilter   CoMFilter   `json:"com_filter" yaml:"com_filter"`
	Model       Model       `json:"model" yaml:"model"`
}

// Interface configures the per-tick entry point.
type Interface struct {
	TestName     string            `json:"test_name" yaml:"test_name"`
	ServoPeriod  float64           `json:"servo_period" yaml:"servo_period"`
	WaitingCount int               `json:"waiting_count" yaml:"waiting_count"`
	Estimator    EstimatorStrategy `json:"estimator" yaml:"estimator"`
	RotorInertia []float64         `json:"rotor_inertia" yaml:"rotor_inertia"`
	// MaxJointVel bounds measured joint speed, rad/s.
	MaxJointVel float64 `json:"max_joint_vel" yaml:"max_joint_vel"`
	// MaxPhaseTicks reports a stall when one phase runs longer. Zero disables
	// the check.
	MaxPhaseTicks int `json:"max_phase_ticks" yaml:"max_phase_ticks"`
}

// Walking holds the phase timings and planning flags of the walking program.
type Walking struct {
	InitialJPos        []float64 `json:"initial_jpos" yaml:"initial_jpos"`
	BodyHeight         float64   `json:"body_height" yaml:"body_height"`
	StanceWidth        float64   `json:"stance_width" yaml:"stance_width"`
	InitializationTime float64   `json:"jpos_initialization_time" yaml:"jpos_initialization_time"`
	LiftingTime        float64   `json:"body_lifting_time" yaml:"body_lifting_time"`
	StanceTime         float64   `json:"stance_time" yaml:"stance_time"`
	SwingTime          float64   `json:"swing_time" yaml:"swing_time"`
	TransitionTime     float64   `json:"st_transition_time" yaml:"st_transition_time"`

	ContactSwitchCheck   bool    `json:"contact_switch_check" yaml:"contact_switch_check"`
	Replanning           bool    `json:"replanning" yaml:"replanning"`
	DoubleStanceMixRatio float64 `json:"double_stance_mix_ratio" yaml:"double_stance_mix_ratio"`
	TransitionMixRatio   float64 `json:"transition_phase_mix_ratio" yaml:"transition_phase_mix_ratio"`
	// StartLocalY is the lateral offset of the first local frame.
	StartLocalY float64 `json:"start_local_y" yaml:"start_local_y"`
	// DesLocation is the global (x, y) the planner walks toward.
	DesLocation []float64 `json:"des_location" yaml:"des_location"`
}

// Posture configures the posture-hold controller.
type Posture struct {
	Task    PostureTask `json:"task" yaml:"task"`
	Kp      []float64   `json:"kp" yaml:"kp"`
	Kd      []float64   `json:"kd" yaml:"kd"`
	Contact ContactKind `json:"contact" yaml:"contact"`
	// BodyKp and BodyKd are the height then roll, pitch, yaw gains of the
	// body task.
	BodyKp        []float64 `json:"body_kp" yaml:"body_kp"`
	BodyKd        []float64 `json:"body_kd" yaml:"body_kd"`
	TaskWeight    float64   `json:"task_weight" yaml:"task_weight"`
	ContactWeight float64   `json:"contact_weight" yaml:"contact_weight"`
}

// JointTarget configures the joint-target controller.
type JointTarget struct {
	Kp            []float64   `json:"kp" yaml:"kp"`
	Kd            []float64   `json:"kd" yaml:"kd"`
	Contact       ContactKind `json:"contact" yaml:"contact"`
	TaskWeight    float64     `json:"task_weight" yaml:"task_weight"`
	ContactWeight float64     `json:"contact_weight" yaml:"contact_weight"`
}

// Swing configures the swing-planning controller.
type Swing struct {
	SwingHeight    float64   `json:"swing_height" yaml:"swing_height"`
	PushDownHeight float64   `json:"push_down_height" yaml:"push_down_height"`
	DefaultTarget  []float64 `json:"default_target_foot_location" yaml:"default_target_foot_location"`
	Kp             []float64 `json:"kp" yaml:"kp"`
	Kd             []float64 `json:"kd" yaml:"kd"`

	GainSchedule        GainSchedule `json:"gain_schedule" yaml:"gain_schedule"`
	GainDecreasingRatio float64      `json:"gain_decreasing_ratio" yaml:"gain_decreasing_ratio"`
	GainDecreasingWin   float64      `json:"gain_decreasing_period_portion" yaml:"gain_decreasing_period_portion"`

	BodyPtOffset    []float64 `json:"body_pt_offset" yaml:"body_pt_offset"`
	InitialPlanning bool      `json:"initial_planning" yaml:"initial_planning"`
	KpY             float64   `json:"kp_y" yaml:"kp_y"`
	// NumReplanning is the number of evenly spaced replanning checkpoints.
	NumReplanning int `json:"num_replanning" yaml:"num_replanning"`

	TaskWeight    float64 `json:"task_weight" yaml:"task_weight"`
	ContactWeight float64 `json:"contact_weight" yaml:"contact_weight"`
	NormalWeight  float64 `json:"normal_force_weight" yaml:"normal_force_weight"`
}

// Planner configures the reduced-order footstep planner.
type Planner struct {
	TPrime            []float64 `json:"t_prime" yaml:"t_prime"`
	Kappa             []float64 `json:"kappa" yaml:"kappa"`
	XStepLengthLimit  float64   `json:"x_step_length_limit" yaml:"x_step_length_limit"`
	YStepLengthMin    float64   `json:"y_step_length_min" yaml:"y_step_length_min"`
	YStepLengthMax    float64   `json:"y_step_length_max" yaml:"y_step_length_max"`
	MinSwingRemaining float64   `json:"min_swing_remaining" yaml:"min_swing_remaining"`
}

// CoMFilter configures the CoM Kalman filter.
type CoMFilter struct {
	ProcessNoisePos float64 `json:"process_noise_pos" yaml:"process_noise_pos"`
	ProcessNoiseVel float64 `json:"process_noise_vel" yaml:"process_noise_vel"`
	MeasureNoisePos float64 `json:"measure_noise_pos" yaml:"measure_noise_pos"`
	MeasureNoiseVel float64 `json:"measure_noise_vel" yaml:"measure_noise_vel"`
}

// Model configures the lumped-mass reference model.
type Model struct {
	BodyMass    float64   `json:"body_mass" yaml:"body_mass"`
	BodyInertia []float64 `json:"body_inertia" yaml:"body_inertia"`
	ThighMass   float64   `json:"thigh_mass" yaml:"thigh_mass"`
	ShankMass   float64   `json:"shank_mass" yaml:"shank_mass"`
	ThighLength float64   `json:"thigh_length" yaml:"thigh_length"`
	ShankLength float64   `json:"shank_length" yaml:"shank_length"`
	HipWidth    float64   `json:"hip_width" yaml:"hip_width"`
	HipDrop     float64   `json:"hip_drop" yaml:"hip_drop"`
	Armature    float64   `json:"armature" yaml:"armature"`
}

// Default returns a complete parameter set for the reference biped.
func Default() *Config {
	return &Config{
		Interface: Interface{
			TestName:      "walking_test",
			ServoPeriod:   0.001,
			WaitingCount:  10,
			Estimator:     BasicAccumulation,
			RotorInertia:  []float64{0.01, 0.02, 0.02, 0.01, 0.02, 0.02},
			MaxJointVel:   10,
			MaxPhaseTicks: 60000,
		},
		Walking: Walking{
			InitialJPos:          []float64{0, -0.6, 1.2, 0, -0.6, 1.2},
			BodyHeight:           0.75,
			StanceWidth:          0.2,
			InitializationTime:   1.0,
			LiftingTime:          1.0,
			StanceTime:           0.1,
			SwingTime:            0.35,
			TransitionTime:       0.05,
			ContactSwitchCheck:   true,
			Replanning:           true,
			DoubleStanceMixRatio: 0.5,
			TransitionMixRatio:   0.5,
			StartLocalY:          0.1,
			DesLocation:          []float64{0, 0},
		},
		Posture: Posture{
			Task:          JointPosture,
			BodyKp:        []float64{200, 200, 200, 200},
			BodyKd:        []float64{20, 20, 20, 20},
			Kp:            []float64{100, 100, 100, 100, 100, 100},
			Kd:            []float64{10, 10, 10, 10, 10, 10},
			Contact:       DoubleFootContact,
			TaskWeight:    100,
			ContactWeight: 0.1,
		},
		JointTarget: JointTarget{
			Kp:            []float64{100, 100, 100, 100, 100, 100},
			Kd:            []float64{10, 10, 10, 10, 10, 10},
			Contact:       FixedBodyContact,
			TaskWeight:    100,
			ContactWeight: 0.1,
		},
		Swing: Swing{
			SwingHeight:         0.05,
			PushDownHeight:      0.0,
			DefaultTarget:       []float64{0, 0.1, 0},
			Kp:                  []float64{150, 150, 150, 150, 150, 150},
			Kd:                  []float64{15, 15, 15, 15, 15, 15},
			GainSchedule:        GainConstant,
			GainDecreasingRatio: 0.5,
			GainDecreasingWin:   0.2,
			BodyPtOffset:        []float64{0, 0},
			InitialPlanning:     false,
			KpY:                 0,
			NumReplanning:       1,
			TaskWeight:          100,
			ContactWeight:       1,
			NormalWeight:        0.001,
		},
		Planner: Planner{
			TPrime:            []float64{0.3, 0.3},
			Kappa:             []float64{0.2, 0.2},
			XStepLengthLimit:  0.4,
			YStepLengthMin:    0.2,
			YStepLengthMax:    0.4,
			MinSwingRemaining: 0.05,
		},
		CoMFilter: CoMFilter{
			ProcessNoisePos: 1e-6,
			ProcessNoiseVel: 1e-4,
			MeasureNoisePos: 1e-4,
			MeasureNoiseVel: 1e-2,
		},
		Model: Model{
			BodyMass:    12,
			BodyInertia: []float64{0.4, 0.35, 0.2},
			ThighMass:   1.5,
			ShankMass:   0.7,
			ThighLength: 0.4,
			ShankLength: 0.4,
			HipWidth:    0.2,
			HipDrop:     0.08,
			Armature:    0.01,
		},
	}
}

// Load reads a YAML parameter file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read parameter file %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parameter file %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML parameters on top of the defaults and validates them.
// Unknown keys are rejected so a misspelled parameter cannot fall back to
// its default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// an empty file keeps the defaults
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to parse parameters")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

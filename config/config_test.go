package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.Interface.TestName, test.ShouldEqual, "walking_test")
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
interface:
  servo_period: 0.002
  estimator: acc_observer
walking:
  swing_time: 0.4
  replanning: false
swing:
  default_target_foot_location: [0.05, 0.18, 0.0]
  gain_schedule: linear_decrease
`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Interface.ServoPeriod, test.ShouldEqual, 0.002)
	test.That(t, cfg.Interface.Estimator, test.ShouldEqual, AccObserver)
	test.That(t, cfg.Walking.SwingTime, test.ShouldEqual, 0.4)
	test.That(t, cfg.Walking.Replanning, test.ShouldBeFalse)
	test.That(t, cfg.Swing.DefaultTarget, test.ShouldResemble, []float64{0.05, 0.18, 0.0})
	test.That(t, cfg.Swing.GainSchedule, test.ShouldEqual, GainLinearDecrease)

	// untouched sections keep their defaults
	test.That(t, cfg.Walking.StanceTime, test.ShouldEqual, Default().Walking.StanceTime)
	test.That(t, cfg.Posture.Kp, test.ShouldHaveLength, 6)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
	}{
		{"short target", "swing:\n  default_target_foot_location: [0, 0.2]\n"},
		{"short offset", "swing:\n  body_pt_offset: [0]\n"},
		{"unknown estimator", "interface:\n  estimator: magic\n"},
		{"zero period", "interface:\n  servo_period: 0\n"},
		{"negative swing time", "walking:\n  swing_time: -0.1\n"},
		{"zero kappa", "planner:\n  kappa: [0, 0.2]\n"},
		{"short gains", "posture:\n  kp: [1, 2, 3]\n"},
		{"short body gains", "posture:\n  body_kd: [1, 2, 3]\n"},
		{"unknown posture task", "posture:\n  task: foot\n"},
		{"unknown schedule", "swing:\n  gain_schedule: exponential\n"},
		{"inverted y limits", "planner:\n  y_step_length_max: 0.1\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, errors.Is(err, ErrInvalid), test.ShouldBeTrue)
		})
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("walking: [unterminated"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to parse parameters")
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("swing:\n  swing_hieght: 0.3\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "swing_hieght")

	_, err = Parse([]byte("swagger:\n  swing_height: 0.3\n"))
	test.That(t, err, test.ShouldNotBeNil)

	cfg, err := Parse(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Swing.SwingHeight, test.ShouldEqual, Default().Swing.SwingHeight)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Interface.ServoPeriod = 0
	cfg.Model.BodyMass = -1
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "servo_period")
	test.That(t, err.Error(), test.ShouldContainSubstring, "body_mass")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walking.yaml")
	err := os.WriteFile(path, []byte("walking:\n  stance_time: 0.2\n"), 0o600)
	test.That(t, err, test.ShouldBeNil)

	cfg, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Walking.StanceTime, test.ShouldEqual, 0.2)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to read parameter file")
}

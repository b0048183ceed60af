// Package biped provides the Viam generic component that runs the locomotion
// core against the leg servos.
package biped

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/utils"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/dynamixel"
	"github.com/clintpurser/biped/model"
	"github.com/clintpurser/biped/robot"
	"github.com/clintpurser/biped/state"
	"github.com/clintpurser/biped/walker"
)

// Model is the Viam model for the biped walker.
var Model = resource.NewModel("clint", "biped", "walker")

func init() {
	resource.RegisterComponent(generic.API, Model, resource.Registration[resource.Resource, *Config]{
		Constructor: NewBiped,
	})
}

// Failure policies.
const (
	FailHold = "hold"
	FailStop = "stop"
)

// Drive modes.
const (
	DriveTorque   = "torque"
	DrivePosition = "position"
)

// temperaturePeriod is the number of ticks between temperature reads.
const temperaturePeriod = 1000

// Config is the configuration for the biped walker.
type Config struct {
	USBPort        string `json:"usb_port"`
	BaudRate       int    `json:"baud_rate,omitempty"`
	MovementSensor string `json:"movement_sensor"`
	// ContactSensor reports "left" and "right" foot switches as booleans.
	ContactSensor  string `json:"contact_sensor,omitempty"`
	ControllerFile string `json:"controller_file,omitempty"`
	OnFailure      string `json:"on_failure,omitempty"`
	DriveMode      string `json:"drive_mode,omitempty"`
}

// Validate validates the config.
func (c *Config) Validate(path string) ([]string, []string, error) {
	if c.USBPort == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "usb_port")
	}
	if c.MovementSensor == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "movement_sensor")
	}
	switch c.OnFailure {
	case "", FailHold, FailStop:
	default:
		return nil, nil, resource.NewConfigValidationError(path, errors.Errorf("on_failure must be %q or %q", FailHold, FailStop))
	}
	switch c.DriveMode {
	case "", DriveTorque, DrivePosition:
	default:
		return nil, nil, resource.NewConfigValidationError(path, errors.Errorf("drive_mode must be %q or %q", DriveTorque, DrivePosition))
	}

	deps := []string{movementsensor.Named(c.MovementSensor).String()}
	if c.ContactSensor != "" {
		deps = append(deps, sensor.Named(c.ContactSensor).String())
	}
	return deps, nil, nil
}

// servoBus is the part of the servo driver the loop uses.
type servoBus interface {
	Ping(motorIDs []int) error
	ReadState() (dynamixel.JointState, error)
	ReadTemperatures() ([dynamixel.NumJoints]float64, error)
	WriteJointPositions(positions []float64) error
	WriteJointTorques(torques []float64) error
	EnableTorque(motorIDs []int) error
	DisableTorque(motorIDs []int) error
	SetOperatingMode(motorIDs []int, mode int) error
	ReadOperatingMode(motorID int) (int, error)
	Reboot(motorID int) error
	HardwareErrors() (map[int]byte, error)
	Close() error
}

// biped runs the walker at the servo period.
type biped struct {
	resource.Named
	resource.AlwaysRebuild

	mu       sync.Mutex
	bus      servoBus
	imu      movementsensor.MovementSensor
	contacts sensor.Sensor
	walker   *walker.Walker
	logger   logging.Logger
	workers  *utils.StoppableWorkers

	period    time.Duration
	waiting   uint64
	onFailure string
	driveMode string

	running bool
	failure error
	data    state.SensorData
	cmd     state.Command
	ticks   uint64
	stalls  int
}

// NewBiped creates the walker component, configures the servos and starts
// the control loop.
func NewBiped(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (resource.Resource, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	ctrl := config.Default()
	if cfg.ControllerFile != "" {
		if ctrl, err = config.Load(cfg.ControllerFile); err != nil {
			return nil, err
		}
		logger.Infof("Loaded controller parameters from %s", cfg.ControllerFile)
	}

	imu, err := movementsensor.FromDependencies(deps, cfg.MovementSensor)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get movement sensor %q", cfg.MovementSensor)
	}
	var contacts sensor.Sensor
	if cfg.ContactSensor != "" {
		if contacts, err = sensor.FromDependencies(deps, cfg.ContactSensor); err != nil {
			return nil, errors.Wrapf(err, "failed to get contact sensor %q", cfg.ContactSensor)
		}
	}

	baudRate := cfg.BaudRate
	if baudRate == 0 {
		baudRate = dynamixel.DefaultBaudRate
	}
	logger.Info("Opening Dynamixel driver...")
	driver, err := dynamixel.NewDriver(cfg.USBPort, baudRate)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize Dynamixel driver")
	}

	b, err := newBiped(conf.ResourceName().AsNamed(), cfg, ctrl, driver, imu, contacts, logger)
	if err != nil {
		return nil, multierr.Combine(err, driver.Close())
	}
	if err := b.configureServos(); err != nil {
		return nil, multierr.Combine(err, driver.Close())
	}
	b.running = true
	b.workers = utils.NewBackgroundStoppableWorkers(b.run)
	logger.Infof("Biped walker running %s at %v on %s", ctrl.Interface.TestName, b.period, cfg.USBPort)
	return b, nil
}

func newBiped(
	named resource.Named,
	cfg *Config,
	ctrl *config.Config,
	bus servoBus,
	imu movementsensor.MovementSensor,
	contacts sensor.Sensor,
	logger logging.Logger,
) (*biped, error) {
	m, err := model.New(ctrl.Model)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build model")
	}
	w, err := walker.New(ctrl, m, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build walker")
	}
	b := &biped{
		Named:     named,
		bus:       bus,
		imu:       imu,
		contacts:  contacts,
		walker:    w,
		logger:    logger,
		period:    time.Duration(ctrl.Interface.ServoPeriod * float64(time.Second)),
		waiting:   uint64(ctrl.Interface.WaitingCount),
		onFailure: cfg.OnFailure,
		driveMode: cfg.DriveMode,
	}
	if b.onFailure == "" {
		b.onFailure = FailHold
	}
	if b.driveMode == "" {
		b.driveMode = DriveTorque
	}
	return b, nil
}

// configureServos checks that every servo answers and puts it in the
// operating mode of the drive mode.
func (b *biped) configureServos() error {
	mode := dynamixel.CurrentControlMode
	if b.driveMode == DrivePosition {
		mode = dynamixel.CurrentBasedPositionMode
	}
	if err := b.bus.Ping(dynamixel.AllMotorIDs); err != nil {
		return errors.Wrap(err, "servo check failed")
	}
	b.logger.Infof("Setting operating mode %d...", mode)
	if err := b.bus.DisableTorque(dynamixel.AllMotorIDs); err != nil {
		return errors.Wrap(err, "failed to disable torque")
	}
	if err := b.bus.SetOperatingMode(dynamixel.AllMotorIDs, mode); err != nil {
		return errors.Wrap(err, "failed to set operating mode")
	}
	// a servo with torque still on ignores the mode write
	for _, id := range dynamixel.AllMotorIDs {
		got, err := b.bus.ReadOperatingMode(id)
		if err != nil {
			return err
		}
		if got != mode {
			return errors.Errorf("motor %d is in operating mode %d, want %d", id, got, mode)
		}
	}
	if err := b.bus.EnableTorque(dynamixel.AllMotorIDs); err != nil {
		return errors.Wrap(err, "failed to enable torque")
	}
	return nil
}

func (b *biped) run(ctx context.Context) {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		start := time.Now()
		if err := b.step(ctx); err != nil {
			b.fail(err)
		}
		if elapsed := time.Since(start); elapsed > b.period {
			b.logger.Debugf("tick took %v, period %v", elapsed, b.period)
		}
	}
}

// step runs one tick: read sensors, compute the command, write it.
func (b *biped) step(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}
	if err := b.sense(ctx); err != nil {
		return err
	}
	err := b.walker.GetCommand(&b.data, &b.cmd)
	if errors.Is(err, walker.ErrStalled) {
		// the command is still valid; the walker has logged the stall
		b.stalls++
		err = nil
	}
	if err != nil {
		return err
	}
	b.ticks++
	return b.actuate()
}

func (b *biped) sense(ctx context.Context) error {
	js, err := b.bus.ReadState()
	if err != nil {
		return err
	}
	d := &b.data
	for i := 0; i < robot.NumActJoint; i++ {
		d.JointPos[i] = js.Pos[i]
		d.MotorVel[i] = js.Vel[i]
		d.Torque[i] = js.Torque[i]
		d.MotorCurr[i] = js.Current[i]
	}
	if b.ticks%temperaturePeriod == 0 {
		temps, err := b.bus.ReadTemperatures()
		if err != nil {
			b.logger.Warnf("failed to read temperatures: %v", err)
		} else {
			copy(d.Temp[:], temps[:])
		}
	}

	acc, err := b.imu.LinearAcceleration(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to read linear acceleration")
	}
	angVel, err := b.imu.AngularVelocity(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to read angular velocity")
	}
	d.ImuAcc = acc
	d.ImuInc = r3.Vector{}
	if n := acc.Norm(); n > 0 {
		d.ImuInc = acc.Mul(-1 / n)
	}
	// movement sensors report deg/s
	d.ImuAngVel = r3.Vector(angVel).Mul(math.Pi / 180)

	// the orientation reference is only used while the estimator initializes
	if b.walker.Ticks() < b.waiting {
		if ori, err := b.imu.Orientation(ctx, nil); err == nil && ori != nil {
			d.BodyOrientation = ori.Quaternion()
		}
	}

	if b.contacts != nil {
		readings, err := b.contacts.Readings(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to read foot contacts")
		}
		d.LeftFoot, _ = readings["left"].(bool)
		d.RightFoot, _ = readings["right"].(bool)
	}
	return nil
}

func (b *biped) actuate() error {
	if b.driveMode == DrivePosition {
		return b.bus.WriteJointPositions(b.cmd.Pos[:])
	}
	return b.bus.WriteJointTorques(b.cmd.Torque[:])
}

// fail stops the walker and applies the failure policy.
func (b *biped) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Errorf("walker stopped at tick %d: %v", b.ticks, err)
	b.failure = err
	b.running = false
	if ferr := b.failSafe(); ferr != nil {
		b.logger.Errorf("failed to apply %s policy: %v", b.onFailure, ferr)
	}
	if hw, herr := b.bus.HardwareErrors(); herr == nil && len(hw) > 0 {
		b.logger.Errorf("servo hardware errors: %v", hw)
	}
}

func (b *biped) hardwareErrors() (map[string]interface{}, error) {
	hw, err := b.bus.HardwareErrors()
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(hw))
	for id, code := range hw {
		out[strconv.Itoa(id)] = int(code)
	}
	return out, nil
}

func (b *biped) failSafe() error {
	if b.onFailure == FailStop {
		return b.bus.DisableTorque(dynamixel.AllMotorIDs)
	}
	// hold the last measured posture under position control
	err := b.bus.DisableTorque(dynamixel.AllMotorIDs)
	err = multierr.Append(err, b.bus.SetOperatingMode(dynamixel.AllMotorIDs, dynamixel.CurrentBasedPositionMode))
	err = multierr.Append(err, b.bus.EnableTorque(dynamixel.AllMotorIDs))
	if err != nil {
		return err
	}
	return b.bus.WriteJointPositions(b.data.JointPos[:])
}

func (b *biped) status() map[string]interface{} {
	st := b.walker.Status()
	out := map[string]interface{}{
		"running":      b.running,
		"ticks":        b.ticks,
		"running_time": b.walker.RunningTime(),
		"program":      b.walker.Program().Name(),
		"phase":        st.Name,
		"phase_ticks":  st.Ticks,
		"cycles":       st.Cycles,
		"num_step":     b.walker.Program().NumStep(),
		"stance_foot":  b.walker.State().StanceFoot.String(),
		"stalls":       b.stalls,
		"drive_mode":   b.driveMode,
	}
	if b.failure != nil {
		out["failure"] = b.failure.Error()
	}
	return out
}

// DoCommand handles custom commands.
func (b *biped) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make(map[string]interface{})

	if _, ok := cmd["stop"]; ok {
		b.running = false
		if err := b.bus.DisableTorque(dynamixel.AllMotorIDs); err != nil {
			return nil, err
		}
		result["stopped"] = true
	}

	if val, ok := cmd["enable_torque"]; ok {
		enable, ok := val.(bool)
		if !ok {
			return nil, errors.New("enable_torque must be a boolean")
		}
		var err error
		if enable {
			err = b.bus.EnableTorque(dynamixel.AllMotorIDs)
			result["torque"] = "enabled"
		} else {
			err = b.bus.DisableTorque(dynamixel.AllMotorIDs)
			result["torque"] = "disabled"
		}
		if err != nil {
			return nil, err
		}
	}

	if val, ok := cmd["reboot"]; ok {
		id, ok := val.(float64)
		if !ok {
			return nil, errors.New("reboot must be a motor id")
		}
		if err := b.bus.Reboot(int(id)); err != nil {
			return nil, err
		}
		result["rebooted"] = id
	}

	if val, ok := cmd["set_target"]; ok {
		target, ok := val.(map[string]interface{})
		if !ok {
			return nil, errors.New("set_target must be an object with x and y")
		}
		x, okX := target["x"].(float64)
		y, okY := target["y"].(float64)
		if !okX || !okY {
			return nil, errors.New("set_target needs numeric x and y")
		}
		b.walker.SetDesiredLocation(x, y)
		result["target"] = []float64{x, y}
	}

	if _, ok := cmd["status"]; ok {
		for k, v := range b.status() {
			result[k] = v
		}
		hw, err := b.hardwareErrors()
		if err != nil {
			return nil, err
		}
		result["hardware_errors"] = hw
	}

	return result, nil
}

// Close stops the loop, disables torque and releases the servo bus.
func (b *biped) Close(ctx context.Context) error {
	if b.workers != nil {
		b.workers.Stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.running = false
	var err error
	if b.bus != nil {
		if derr := b.bus.DisableTorque(dynamixel.AllMotorIDs); derr != nil {
			b.logger.Warnf("Failed to disable torque on close: %v", derr)
		}
		err = b.bus.Close()
		b.bus = nil
	}

	b.logger.Info("Biped walker closed")
	return err
}

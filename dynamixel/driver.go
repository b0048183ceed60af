package dynamixel

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// ErrNotOpen is returned when operations are attempted on a closed driver.
var ErrNotOpen = errors.New("driver not open")

// ErrJointLimit is returned for a goal position outside the joint limits.
var ErrJointLimit = errors.New("goal position outside joint limits")

// JointState is one sample of the leg joints, in joint coordinates.
type JointState struct {
	Pos     [NumJoints]float64
	Vel     [NumJoints]float64
	Current [NumJoints]float64
	// Torque is the current times the joint torque constant.
	Torque [NumJoints]float64
}

// Driver provides thread-safe communication with the leg servos.
type Driver struct {
	port   io.ReadWriteCloser
	bus    *Bus
	mu     sync.Mutex
	isOpen bool

	joints []JointConfig
	ids    []byte
}

// NewDriver opens the serial port and returns a driver for LegJoints.
func NewDriver(portName string, baudRate int) (*Driver, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	// a 1 kHz loop cannot wait longer than a few ticks for a reply
	if err := port.SetReadTimeout(5 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return newDriver(port), nil
}

func newDriver(port io.ReadWriteCloser) *Driver {
	ids := make([]byte, len(LegJoints))
	for i, j := range LegJoints {
		ids[i] = byte(j.MotorID)
	}
	return &Driver{
		port:   port,
		bus:    NewBus(port),
		isOpen: true,
		joints: LegJoints,
		ids:    ids,
	}
}

// Close closes the driver and releases resources.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isOpen {
		return nil
	}

	d.isOpen = false
	return d.port.Close()
}

// checkOpen verifies the driver is open.
func (d *Driver) checkOpen() error {
	if !d.isOpen {
		return ErrNotOpen
	}
	return nil
}

func (d *Driver) writeEach(motorIDs []int, addr uint16, what string, data ...byte) error {
	for _, id := range motorIDs {
		if err := d.bus.Write(byte(id), addr, data...); err != nil {
			// motor may have a stale error flag
			if isHardwareError(err) {
				continue
			}
			return fmt.Errorf("failed to %s on motor %d: %w", what, id, err)
		}
	}
	return nil
}

// Ping checks that every listed motor answers.
func (d *Driver) Ping(motorIDs []int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return err
	}
	for _, id := range motorIDs {
		if err := d.bus.Ping(byte(id)); err != nil && !isHardwareError(err) {
			return fmt.Errorf("motor %d did not answer: %w", id, err)
		}
	}
	return nil
}

// EnableTorque enables torque on the specified motors.
func (d *Driver) EnableTorque(motorIDs []int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.writeEach(motorIDs, AddrTorqueEnable, "enable torque", 1)
}

// DisableTorque disables torque on the specified motors.
func (d *Driver) DisableTorque(motorIDs []int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.writeEach(motorIDs, AddrTorqueEnable, "disable torque", 0)
}

// SetOperatingMode sets the operating mode of the motors.
// Note: Torque must be disabled before changing operating mode.
func (d *Driver) SetOperatingMode(motorIDs []int, mode int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.writeEach(motorIDs, AddrOperatingMode, "set operating mode", byte(mode))
}

// ReadOperatingMode reads the operating mode of a motor.
func (d *Driver) ReadOperatingMode(motorID int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return 0, err
	}

	data, err := d.bus.Read(byte(motorID), AddrOperatingMode, 1)
	if err != nil && !isHardwareError(err) {
		return 0, fmt.Errorf("failed to read operating mode from motor %d: %w", motorID, err)
	}
	return int(data[0]), nil
}

// ReadState reads position, velocity and current of every joint with one
// sync read.
func (d *Driver) ReadState() (JointState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var js JointState
	if err := d.checkOpen(); err != nil {
		return js, err
	}

	replies, err := d.bus.SyncRead(d.ids, AddrPresentCurrent, stateLen)
	if err != nil {
		return js, fmt.Errorf("failed to read joint state: %w", err)
	}
	for i, r := range replies {
		j := d.joints[i]
		current := RawToAmps(int16(uint16(r[0]) | uint16(r[1])<<8))
		js.Current[i] = j.Sign * current
		js.Torque[i] = js.Current[i] * j.TorqueConstant
		js.Vel[i] = j.Sign * RawToRadPerSec(BytesToInt32(r[2:6]))
		js.Pos[i] = j.Sign * TicksToRadians(int(BytesToInt32(r[6:10])))
	}
	return js, nil
}

// ReadTemperatures reads the temperature of every joint in °C.
func (d *Driver) ReadTemperatures() ([NumJoints]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var temps [NumJoints]float64
	if err := d.checkOpen(); err != nil {
		return temps, err
	}
	replies, err := d.bus.SyncRead(d.ids, AddrPresentTemperature, 1)
	if err != nil {
		return temps, fmt.Errorf("failed to read temperatures: %w", err)
	}
	for i, r := range replies {
		temps[i] = float64(r[0])
	}
	return temps, nil
}

func (d *Driver) goalPositions(positions []float64) ([][]byte, error) {
	if len(positions) != len(d.joints) {
		return nil, fmt.Errorf("expected %d positions, got %d", len(d.joints), len(positions))
	}
	data := make([][]byte, len(positions))
	for i, pos := range positions {
		if !ValidateJointLimits(i, pos) {
			j := d.joints[i]
			return nil, errors.Wrapf(ErrJointLimit, "%s goal %.1f° outside [%.1f°, %.1f°]",
				j.Name, RadiansToDegrees(pos), RadiansToDegrees(j.MinRadians), RadiansToDegrees(j.MaxRadians))
		}
		data[i] = Int32ToBytes(int32(RadiansToTicks(d.joints[i].Sign * pos)))
	}
	return data, nil
}

// WriteJointPositions writes goal positions, in radians, to every joint.
func (d *Driver) WriteJointPositions(positions []float64) error {
	data, err := d.goalPositions(positions)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.bus.SyncWrite(d.ids, AddrGoalPosition, 4, data)
}

// WriteJointTorques writes goal currents for the given joint torques in N·m.
// In current-based position mode the goal current caps the position loop's
// effort; in current control mode it is the effort.
func (d *Driver) WriteJointTorques(torques []float64) error {
	if len(torques) != len(d.joints) {
		return fmt.Errorf("expected %d torques, got %d", len(d.joints), len(torques))
	}
	data := make([][]byte, len(torques))
	for i, tau := range torques {
		j := d.joints[i]
		data[i] = Int16ToBytes(AmpsToRaw(j.Sign * tau / j.TorqueConstant))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.bus.SyncWrite(d.ids, AddrGoalCurrent, 2, data)
}

// Reboot reboots a motor to clear hardware errors.
func (d *Driver) Reboot(motorID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return err
	}

	if err := d.bus.Reboot(byte(motorID)); err != nil {
		return fmt.Errorf("failed to reboot motor %d: %w", motorID, err)
	}

	// Give the motor time to reboot
	time.Sleep(500 * time.Millisecond)
	return nil
}

// HardwareErrors returns the hardware error status of every motor that
// reports one.
func (d *Driver) HardwareErrors() (map[int]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	out := map[int]byte{}
	for _, id := range d.ids {
		data, err := d.bus.Read(id, AddrHardwareError, 1)
		if err != nil && !isHardwareError(err) {
			return nil, fmt.Errorf("failed to read hardware status from motor %d: %w", id, err)
		}
		if len(data) > 0 && data[0] != 0 {
			out[int(id)] = data[0]
		}
	}
	return out, nil
}

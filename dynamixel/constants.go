// Package dynamixel provides low-level Dynamixel servo communication for the
// biped's legs.
package dynamixel

import "math"

// Protocol and communication constants.
const (
	DefaultBaudRate = 1000000

	// Control table addresses (XM series, Protocol 2.0)
	AddrOperatingMode      uint16 = 11
	AddrCurrentLimit       uint16 = 38
	AddrTorqueEnable       uint16 = 64
	AddrHardwareError      uint16 = 70
	AddrGoalCurrent        uint16 = 102
	AddrGoalPosition       uint16 = 116
	AddrPresentCurrent     uint16 = 126
	AddrPresentVelocity    uint16 = 128
	AddrPresentPosition    uint16 = 132
	AddrPresentTemperature uint16 = 146

	// Position resolution
	TicksPerRevolution = 4096
	CenterPosition     = 2048

	// Raw unit sizes
	VelocityUnitRPM = 0.229
	CurrentUnitAmps = 0.00269

	// Operating modes
	CurrentControlMode       = 0
	PositionControlMode      = 3
	CurrentBasedPositionMode = 5
)

// stateLen covers present current, velocity and position, which are
// contiguous in the control table.
const stateLen = 10

// NumJoints is the number of leg joints on the bus.
const NumJoints = 6

// JointConfig defines a single joint's servo mapping and limits.
type JointConfig struct {
	Name    string
	MotorID int
	// Sign maps servo rotation onto the joint axis.
	Sign       float64
	MinRadians float64
	MaxRadians float64
	// TorqueConstant is N·m per ampere at the joint.
	TorqueConstant float64
}

// DegreesToRadians converts degrees to radians.
func DegreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// LegJoints is the joint layout in controller order: right abduction, hip,
// knee, then the left leg. The left leg is mounted mirrored.
var LegJoints = []JointConfig{
	{Name: "right_abduction", MotorID: 1, Sign: 1, MinRadians: DegreesToRadians(-30), MaxRadians: DegreesToRadians(30), TorqueConstant: 1.77},
	{Name: "right_hip", MotorID: 2, Sign: 1, MinRadians: DegreesToRadians(-110), MaxRadians: DegreesToRadians(45), TorqueConstant: 1.77},
	{Name: "right_knee", MotorID: 3, Sign: 1, MinRadians: DegreesToRadians(0), MaxRadians: DegreesToRadians(140), TorqueConstant: 1.77},
	{Name: "left_abduction", MotorID: 4, Sign: -1, MinRadians: DegreesToRadians(-30), MaxRadians: DegreesToRadians(30), TorqueConstant: 1.77},
	{Name: "left_hip", MotorID: 5, Sign: -1, MinRadians: DegreesToRadians(-110), MaxRadians: DegreesToRadians(45), TorqueConstant: 1.77},
	{Name: "left_knee", MotorID: 6, Sign: -1, MinRadians: DegreesToRadians(0), MaxRadians: DegreesToRadians(140), TorqueConstant: 1.77},
}

// AllMotorIDs contains every leg servo ID.
var AllMotorIDs = []int{1, 2, 3, 4, 5, 6}

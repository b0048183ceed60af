package dynamixel

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

// fakePort answers with queued bytes and records what was written. An empty
// queue reads as a serial timeout.
type fakePort struct {
	written bytes.Buffer
	replies bytes.Buffer
	resets  int
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.replies.Len() == 0 {
		return 0, nil
	}
	return p.replies.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.resets++
	return nil
}

func statusBytes(id, errByte byte, params []byte) []byte {
	body := stuff(append([]byte{instStatus, errByte}, params...))
	pkt := append([]byte(nil), packetHeader[:]...)
	pkt = append(pkt, id)
	pkt = binary.LittleEndian.AppendUint16(pkt, uint16(len(body)+2))
	pkt = append(pkt, body...)
	return binary.LittleEndian.AppendUint16(pkt, crc16(pkt))
}

func TestCRC(t *testing.T) {
	// reference packets from the protocol manual
	ping := encodePacket(1, instPing, nil)
	test.That(t, ping, test.ShouldResemble, []byte{0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x03, 0x00, 0x01, 0x19, 0x4E})

	read := encodePacket(1, instRead, addrLen(AddrPresentPosition, 4))
	test.That(t, read, test.ShouldResemble, []byte{
		0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x07, 0x00, 0x02, 0x84, 0x00, 0x04, 0x00, 0x1D, 0x15,
	})

	status := statusBytes(1, 0, []byte{0x06, 0x04, 0x26})
	test.That(t, status[len(status)-2:], test.ShouldResemble, []byte{0x65, 0x5D})
}

func TestByteStuffing(t *testing.T) {
	raw := []byte{0x01, 0xFF, 0xFF, 0xFD, 0xFD, 0xFF, 0xFF, 0xFD}
	stuffed := stuff(raw)
	test.That(t, stuffed, test.ShouldResemble, []byte{0x01, 0xFF, 0xFF, 0xFD, 0xFD, 0xFD, 0xFF, 0xFF, 0xFD, 0xFD})
	test.That(t, unstuff(stuffed), test.ShouldResemble, raw)

	plain := []byte{0x02, 0xFF, 0xFD, 0x00}
	test.That(t, stuff(plain), test.ShouldResemble, plain)
}

func TestReadStatus(t *testing.T) {
	var r bytes.Buffer
	r.Write([]byte{0x00, 0x13}) // line noise
	r.Write(statusBytes(3, 0, []byte{0xFF, 0xFF, 0xFD, 0x10}))
	st, err := readStatus(&r)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st.id, test.ShouldEqual, byte(3))
	test.That(t, st.params, test.ShouldResemble, []byte{0xFF, 0xFF, 0xFD, 0x10})

	bad := statusBytes(3, 0, []byte{0x01})
	bad[len(bad)-1] ^= 0xFF
	_, err = readStatus(bytes.NewReader(bad))
	test.That(t, errors.Is(err, ErrCRC), test.ShouldBeTrue)

	_, err = readStatus(&fakePort{})
	test.That(t, errors.Is(err, ErrTimeout), test.ShouldBeTrue)
}

func TestStatusErrors(t *testing.T) {
	port := &fakePort{}
	bus := NewBus(port)

	port.replies.Write(statusBytes(2, 0x04, nil))
	err := bus.Write(2, AddrGoalPosition, Int32ToBytes(5000)...)
	var se *StatusError
	test.That(t, errors.As(err, &se), test.ShouldBeTrue)
	test.That(t, se.Code, test.ShouldEqual, byte(4))
	test.That(t, err.Error(), test.ShouldContainSubstring, "data range error")
	test.That(t, isHardwareError(err), test.ShouldBeFalse)

	// a latched alert still returns the data
	port.replies.Write(statusBytes(2, 0x80, []byte{0x20}))
	data, err := bus.Read(2, AddrHardwareError, 1)
	test.That(t, isHardwareError(err), test.ShouldBeTrue)
	test.That(t, data, test.ShouldResemble, []byte{0x20})
	test.That(t, port.resets, test.ShouldEqual, 2)

	port.replies.Write(statusBytes(5, 0, []byte{0x01}))
	_, err = bus.Read(2, AddrOperatingMode, 1)
	test.That(t, errors.Is(err, ErrBadPacket), test.ShouldBeTrue)
}

func TestConversions(t *testing.T) {
	test.That(t, TicksToRadians(CenterPosition), test.ShouldEqual, 0.0)
	test.That(t, TicksToRadians(CenterPosition+1024), test.ShouldAlmostEqual, math.Pi/2, 1e-12)
	test.That(t, RadiansToTicks(-math.Pi/2), test.ShouldEqual, CenterPosition-1024)
	test.That(t, RawToRadPerSec(100), test.ShouldAlmostEqual, 100*0.229*2*math.Pi/60, 1e-12)
	test.That(t, RawToAmps(AmpsToRaw(1.5)), test.ShouldAlmostEqual, 1.5, CurrentUnitAmps)
	test.That(t, AmpsToRaw(1e6), test.ShouldEqual, int16(math.MaxInt16))
	test.That(t, ValidateJointLimits(2, DegreesToRadians(-10)), test.ShouldBeFalse)
	test.That(t, ValidateJointLimits(2, DegreesToRadians(60)), test.ShouldBeTrue)
	test.That(t, ValidateJointLimits(len(LegJoints), 0), test.ShouldBeFalse)
}

func stateReply(current int16, vel, ticks int32) []byte {
	out := Int16ToBytes(current)
	out = append(out, Int32ToBytes(vel)...)
	return append(out, Int32ToBytes(ticks)...)
}

func TestDriverReadState(t *testing.T) {
	port := &fakePort{}
	d := newDriver(port)
	for i, j := range LegJoints {
		port.replies.Write(statusBytes(byte(j.MotorID), 0, stateReply(100, 10, int32(CenterPosition+100*(i+1)))))
	}
	js, err := d.ReadState()
	test.That(t, err, test.ShouldBeNil)
	for i, j := range LegJoints {
		test.That(t, js.Pos[i], test.ShouldAlmostEqual, j.Sign*TicksToRadians(CenterPosition+100*(i+1)), 1e-12)
		test.That(t, js.Vel[i], test.ShouldAlmostEqual, j.Sign*RawToRadPerSec(10), 1e-12)
		test.That(t, js.Torque[i], test.ShouldAlmostEqual, j.Sign*RawToAmps(100)*j.TorqueConstant, 1e-12)
	}

	want := encodePacket(BroadcastID, instSyncRead, append(addrLen(AddrPresentCurrent, stateLen), 1, 2, 3, 4, 5, 6))
	test.That(t, port.written.Bytes(), test.ShouldResemble, want)

	// a missing reply fails the whole read
	_, err = d.ReadState()
	test.That(t, errors.Is(err, ErrTimeout), test.ShouldBeTrue)
}

func TestDriverWriteGoals(t *testing.T) {
	port := &fakePort{}
	d := newDriver(port)
	pos := []float64{0.1, -0.5, 1.0, 0.1, -0.5, 1.0}
	test.That(t, d.WriteJointPositions(pos), test.ShouldBeNil)

	params := addrLen(AddrGoalPosition, 4)
	for i, j := range LegJoints {
		params = append(params, byte(j.MotorID))
		params = append(params, Int32ToBytes(int32(RadiansToTicks(j.Sign*pos[i])))...)
	}
	test.That(t, port.written.Bytes(), test.ShouldResemble, encodePacket(BroadcastID, instSyncWrite, params))

	port.written.Reset()
	test.That(t, d.WriteJointTorques([]float64{1.77, 0, 0, 1.77, 0, 0}), test.ShouldBeNil)
	pkt := port.written.Bytes()
	// entries of id plus two bytes start after the address and length
	first := int16(binary.LittleEndian.Uint16(pkt[13:15]))
	test.That(t, first, test.ShouldEqual, AmpsToRaw(1))
	// the left leg is mirrored
	fourth := int16(binary.LittleEndian.Uint16(pkt[22:24]))
	test.That(t, fourth, test.ShouldEqual, AmpsToRaw(-1))

	test.That(t, d.WriteJointPositions(pos[:3]), test.ShouldNotBeNil)

	// a knee bent backwards is never sent
	port.written.Reset()
	err := d.WriteJointPositions([]float64{0.1, -0.5, -0.2, 0.1, -0.5, 1.0})
	test.That(t, errors.Is(err, ErrJointLimit), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "right_knee")
	test.That(t, port.written.Len(), test.ShouldEqual, 0)

	test.That(t, d.Close(), test.ShouldBeNil)
	test.That(t, port.closed, test.ShouldBeTrue)
	test.That(t, errors.Is(d.WriteJointPositions(pos), ErrNotOpen), test.ShouldBeTrue)
	test.That(t, d.Close(), test.ShouldBeNil)
}

func TestDriverIgnoresLatchedAlertOnTorqueEnable(t *testing.T) {
	port := &fakePort{}
	d := newDriver(port)
	port.replies.Write(statusBytes(1, 0x80, nil))
	port.replies.Write(statusBytes(2, 0x00, nil))
	test.That(t, d.EnableTorque([]int{1, 2}), test.ShouldBeNil)

	port.replies.Write(statusBytes(1, 0x07, nil))
	err := d.EnableTorque([]int{1})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "motor 1")
}

func TestDriverChecksMotors(t *testing.T) {
	port := &fakePort{}
	d := newDriver(port)
	port.replies.Write(statusBytes(1, 0, []byte{0x06, 0x04, 0x26}))
	port.replies.Write(statusBytes(2, 0, []byte{0x06, 0x04, 0x26}))
	test.That(t, d.Ping([]int{1, 2}), test.ShouldBeNil)
	err := d.Ping([]int{3})
	test.That(t, errors.Is(err, ErrTimeout), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "motor 3 did not answer")

	port.replies.Write(statusBytes(4, 0, []byte{CurrentControlMode}))
	mode, err := d.ReadOperatingMode(4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, CurrentControlMode)

	for _, id := range AllMotorIDs {
		var code byte
		if id == 5 {
			code = 0x20
		}
		port.replies.Write(statusBytes(byte(id), 0x80, []byte{code}))
	}
	hw, err := d.HardwareErrors()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, hw, test.ShouldResemble, map[int]byte{5: 0x20})
}

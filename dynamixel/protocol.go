package dynamixel

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Instructions (Protocol 2.0).
const (
	instPing      byte = 0x01
	instRead      byte = 0x02
	instWrite     byte = 0x03
	instReboot    byte = 0x08
	instStatus    byte = 0x55
	instSyncRead  byte = 0x82
	instSyncWrite byte = 0x83

	// BroadcastID addresses every servo on the bus.
	BroadcastID byte = 0xFE
)

var packetHeader = [4]byte{0xFF, 0xFF, 0xFD, 0x00}

var (
	// ErrTimeout is returned when a status packet does not arrive in time.
	ErrTimeout = errors.New("status packet timeout")
	// ErrCRC is returned for a status packet with a bad checksum.
	ErrCRC = errors.New("status packet crc mismatch")
	// ErrBadPacket is returned for a malformed status packet.
	ErrBadPacket = errors.New("malformed status packet")
)

// StatusError is the error field of a status packet.
type StatusError struct {
	ID byte
	// Code is the result code in the low seven bits.
	Code byte
	// Alert is set while the servo latches a hardware error.
	Alert bool
}

var statusCodes = map[byte]string{
	1: "result fail",
	2: "instruction error",
	3: "crc error",
	4: "data range error",
	5: "data length error",
	6: "data limit error",
	7: "access error",
}

func (e *StatusError) Error() string {
	msg, ok := statusCodes[e.Code]
	if !ok {
		msg = fmt.Sprintf("error code %d", e.Code)
	}
	if e.Code == 0 {
		msg = "ok"
	}
	if e.Alert {
		msg += ", hardware alert"
	}
	return fmt.Sprintf("motor %d: %s", e.ID, msg)
}

func statusError(id, b byte) error {
	if b == 0 {
		return nil
	}
	return &StatusError{ID: id, Code: b & 0x7F, Alert: b&0x80 != 0}
}

// isHardwareError reports whether err only carries a latched hardware alert
// or a data limit clamp. The servo still executes the instruction.
func isHardwareError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == 0 || se.Code == 6
}

// crc16 is CRC-16/BUYPASS (polynomial 0x8005, no reflection, zero init).
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x8005
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// stuff inserts 0xFD after every 0xFF 0xFF 0xFD so the payload never
// contains a header.
func stuff(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(payload)/3)
	for i, b := range payload {
		out = append(out, b)
		if i >= 2 && b == 0xFD && payload[i-1] == 0xFF && payload[i-2] == 0xFF {
			out = append(out, 0xFD)
		}
	}
	return out
}

// unstuff drops the 0xFD inserted by stuff.
func unstuff(payload []byte) []byte {
	out := make([]byte, 0, len(payload))
	for i := 0; i < len(payload); i++ {
		out = append(out, payload[i])
		n := len(out)
		if n >= 3 && out[n-1] == 0xFD && out[n-2] == 0xFF && out[n-3] == 0xFF &&
			i+1 < len(payload) && payload[i+1] == 0xFD {
			i++
		}
	}
	return out
}

// encodePacket builds an instruction packet.
func encodePacket(id, inst byte, params []byte) []byte {
	body := stuff(append([]byte{inst}, params...))
	pkt := make([]byte, 0, 7+len(body)+2)
	pkt = append(pkt, packetHeader[:]...)
	pkt = append(pkt, id)
	pkt = binary.LittleEndian.AppendUint16(pkt, uint16(len(body)+2))
	pkt = append(pkt, body...)
	return binary.LittleEndian.AppendUint16(pkt, crc16(pkt))
}

// statusPacket is a decoded status packet.
type statusPacket struct {
	id     byte
	err    byte
	params []byte
}

// readFull fills buf. A read returning no data and no error is a timeout, as
// serial ports report one.
func readFull(r io.Reader, buf []byte) error {
	for got := 0; got < len(buf); {
		n, err := r.Read(buf[got:])
		got += n
		if err != nil {
			if got == len(buf) {
				return nil
			}
			return errors.Wrap(err, "failed to read status packet")
		}
		if n == 0 {
			return ErrTimeout
		}
	}
	return nil
}

// readStatus reads one status packet, skipping noise before the header.
func readStatus(r io.Reader) (statusPacket, error) {
	var win [4]byte
	var one [1]byte
	for skipped := 0; win != packetHeader; skipped++ {
		if skipped > 256 {
			return statusPacket{}, errors.Wrap(ErrBadPacket, "no header")
		}
		if err := readFull(r, one[:]); err != nil {
			return statusPacket{}, err
		}
		copy(win[:], win[1:])
		win[3] = one[0]
	}
	var head [3]byte
	if err := readFull(r, head[:]); err != nil {
		return statusPacket{}, err
	}
	length := int(binary.LittleEndian.Uint16(head[1:]))
	if length < 4 {
		return statusPacket{}, errors.Wrapf(ErrBadPacket, "length %d", length)
	}
	rest := make([]byte, length)
	if err := readFull(r, rest); err != nil {
		return statusPacket{}, err
	}

	pkt := make([]byte, 0, 7+length)
	pkt = append(pkt, packetHeader[:]...)
	pkt = append(pkt, head[:]...)
	pkt = append(pkt, rest[:length-2]...)
	if want := binary.LittleEndian.Uint16(rest[length-2:]); crc16(pkt) != want {
		return statusPacket{}, errors.Wrapf(ErrCRC, "motor %d", head[0])
	}
	body := unstuff(rest[:length-2])
	if body[0] != instStatus {
		return statusPacket{}, errors.Wrapf(ErrBadPacket, "instruction 0x%02x", body[0])
	}
	return statusPacket{id: head[0], err: body[1], params: body[2:]}, nil
}

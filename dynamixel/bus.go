package dynamixel

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Bus runs Protocol 2.0 transactions over a half-duplex link. It is not safe
// for concurrent use; Driver serializes access.
type Bus struct {
	rw io.ReadWriter
}

// NewBus returns a bus over rw.
func NewBus(rw io.ReadWriter) *Bus {
	return &Bus{rw: rw}
}

type inputResetter interface {
	ResetInputBuffer() error
}

func (b *Bus) send(id, inst byte, params []byte) error {
	// drop stale replies from a previous timeout
	if r, ok := b.rw.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return errors.Wrap(err, "failed to reset input buffer")
		}
	}
	if _, err := b.rw.Write(encodePacket(id, inst, params)); err != nil {
		return errors.Wrapf(err, "failed to write to motor %d", id)
	}
	return nil
}

func (b *Bus) receive(id byte) (statusPacket, error) {
	st, err := readStatus(b.rw)
	if err != nil {
		return st, errors.Wrapf(err, "motor %d", id)
	}
	if st.id != id {
		return st, errors.Wrapf(ErrBadPacket, "expected motor %d, got %d", id, st.id)
	}
	return st, statusError(st.id, st.err)
}

func (b *Bus) transact(id, inst byte, params []byte) (statusPacket, error) {
	if err := b.send(id, inst, params); err != nil {
		return statusPacket{}, err
	}
	return b.receive(id)
}

func addrLen(addr uint16, n int) []byte {
	p := binary.LittleEndian.AppendUint16(nil, addr)
	return binary.LittleEndian.AppendUint16(p, uint16(n))
}

// Ping checks that a servo answers.
func (b *Bus) Ping(id byte) error {
	_, err := b.transact(id, instPing, nil)
	return err
}

// Read reads n bytes of the control table of one servo. With a hardware
// alert it returns the data and the *StatusError.
func (b *Bus) Read(id byte, addr uint16, n int) ([]byte, error) {
	st, err := b.transact(id, instRead, addrLen(addr, n))
	if err != nil && !isHardwareError(err) {
		return nil, err
	}
	if len(st.params) != n {
		return nil, errors.Wrapf(ErrBadPacket, "motor %d returned %d bytes, want %d", id, len(st.params), n)
	}
	// the data is valid alongside a hardware alert
	return st.params, err
}

// Write writes data to the control table of one servo.
func (b *Bus) Write(id byte, addr uint16, data ...byte) error {
	params := binary.LittleEndian.AppendUint16(nil, addr)
	_, err := b.transact(id, instWrite, append(params, data...))
	return err
}

// Reboot restarts one servo, clearing its hardware error.
func (b *Bus) Reboot(id byte) error {
	_, err := b.transact(id, instReboot, nil)
	return err
}

// SyncRead reads the same n bytes from every servo in ids with one
// instruction. Replies come back in id order.
func (b *Bus) SyncRead(ids []byte, addr uint16, n int) ([][]byte, error) {
	if err := b.send(BroadcastID, instSyncRead, append(addrLen(addr, n), ids...)); err != nil {
		return nil, err
	}
	out := make([][]byte, len(ids))
	for i, id := range ids {
		st, err := b.receive(id)
		if err != nil && !isHardwareError(err) {
			return nil, err
		}
		if len(st.params) != n {
			return nil, errors.Wrapf(ErrBadPacket, "motor %d returned %d bytes, want %d", id, len(st.params), n)
		}
		out[i] = st.params
	}
	return out, nil
}

// SyncWrite writes n bytes at addr on every servo in ids. data[i] goes to
// ids[i]. Servos do not answer a sync write.
func (b *Bus) SyncWrite(ids []byte, addr uint16, n int, data [][]byte) error {
	if len(data) != len(ids) {
		return errors.Errorf("sync write for %d motors with %d values", len(ids), len(data))
	}
	params := addrLen(addr, n)
	for i, id := range ids {
		if len(data[i]) != n {
			return errors.Errorf("sync write to motor %d: %d bytes, want %d", id, len(data[i]), n)
		}
		params = append(params, id)
		params = append(params, data[i]...)
	}
	return b.send(BroadcastID, instSyncWrite, params)
}

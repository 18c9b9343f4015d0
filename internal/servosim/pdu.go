package servosim

import (
	"encoding/binary"
)

// Function codes answered by the simulator.
const (
	fnReadHolding   byte = 0x03
	fnReadInput     byte = 0x04
	fnWriteSingle   byte = 0x06
	fnWriteMultiple byte = 0x10
)

// Exception codes.
const (
	excIllegalFunction byte = 0x01
	excIllegalAddress  byte = 0x02
	excIllegalValue    byte = 0x03
)

func exception(fn, code byte) []byte { return []byte{fn | 0x80, code} }

// Handle returns the response PDU for a request PDU addressed to id. ok is
// false when id is not simulated; such requests get no answer at all.
func (b *Bank) Handle(id uint8, pdu []byte) (resp []byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs, ok := b.slaves[id]
	if !ok {
		return nil, false
	}
	if len(pdu) < 5 {
		if len(pdu) == 0 {
			return nil, false
		}
		return exception(pdu[0], excIllegalValue), true
	}
	fn := pdu[0]
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	switch fn {
	case fnReadHolding, fnReadInput:
		if qty == 0 || qty > 125 {
			return exception(fn, excIllegalValue), true
		}
		if int(start)+int(qty) > len(regs) {
			return exception(fn, excIllegalAddress), true
		}
		out := make([]byte, 2+2*int(qty))
		out[0], out[1] = fn, byte(2*qty)
		for i := 0; i < int(qty); i++ {
			binary.BigEndian.PutUint16(out[2+2*i:], regs[int(start)+i])
		}
		return out, true

	case fnWriteSingle:
		if int(start) >= len(regs) {
			return exception(fn, excIllegalAddress), true
		}
		regs[start] = qty
		return append([]byte{fn}, pdu[1:5]...), true

	case fnWriteMultiple:
		if len(pdu) < 6 || qty == 0 || qty > 123 || int(pdu[5]) != 2*int(qty) || len(pdu) != 6+int(pdu[5]) {
			return exception(fn, excIllegalValue), true
		}
		if int(start)+int(qty) > len(regs) {
			return exception(fn, excIllegalAddress), true
		}
		for i := 0; i < int(qty); i++ {
			regs[int(start)+i] = binary.BigEndian.Uint16(pdu[6+2*i:])
		}
		return append([]byte{fn}, pdu[1:5]...), true
	}
	return exception(fn, excIllegalFunction), true
}

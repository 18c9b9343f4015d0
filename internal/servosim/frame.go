package servosim

import (
	"encoding/binary"
	"errors"
	"io"
)

// crc16 computes the Modbus RTU checksum.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// appendCRC appends the checksum of frame, low byte first.
func appendCRC(frame []byte) []byte {
	return binary.LittleEndian.AppendUint16(frame, crc16(frame))
}

// Frame builds an RTU request or response: address, pdu and checksum.
func Frame(id uint8, pdu []byte) []byte {
	out := make([]byte, 0, len(pdu)+3)
	out = append(out, id)
	out = append(out, pdu...)
	return appendCRC(out)
}

// Stats counts what Serve did with the frames it read.
type Stats struct {
	Answered int
	Ignored  int
	BadCRC   int
}

// Serve reads RTU request frames from rw and answers those addressed to a
// simulated servo until reading fails. Frames for unknown ids, broadcasts and
// frames with a bad checksum are dropped silently.
func (b *Bank) Serve(rw io.ReadWriter, st *Stats) error {
	if st == nil {
		st = &Stats{}
	}
	head := make([]byte, 2)
	for {
		if _, err := io.ReadFull(rw, head); err != nil {
			return err
		}
		id, fn := head[0], head[1]

		var body []byte
		switch fn {
		case fnWriteMultiple:
			hdr := make([]byte, 5)
			if _, err := io.ReadFull(rw, hdr); err != nil {
				return err
			}
			rest := make([]byte, int(hdr[4])+2)
			if _, err := io.ReadFull(rw, rest); err != nil {
				return err
			}
			body = append(hdr, rest...)
		case 0x01, 0x02, fnReadHolding, fnReadInput, 0x05, fnWriteSingle:
			body = make([]byte, 6)
			if _, err := io.ReadFull(rw, body); err != nil {
				return err
			}
		default:
			// Unknown length; resynchronise on the next byte pair.
			st.Ignored++
			continue
		}

		frame := append([]byte{id, fn}, body...)
		n := len(frame)
		if crc16(frame[:n-2]) != binary.LittleEndian.Uint16(frame[n-2:]) {
			st.BadCRC++
			continue
		}
		if id == 0 {
			st.Ignored++
			continue
		}
		resp, ok := b.Handle(id, frame[1:n-2])
		if !ok {
			st.Ignored++
			continue
		}
		if _, err := rw.Write(Frame(id, resp)); err != nil {
			return err
		}
		st.Answered++
	}
}

// closed reports whether err means the stream is gone for good.
func closed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe)
}

// Package servosim simulates a bus of Modbus RTU servos for bench testing.
//
// A Bank holds the register space of every simulated servo; Serve answers RTU
// frames addressed to any of them and stays silent for unknown ids, which is
// what discovery relies on.
package servosim

import (
	"sort"
	"sync"

	"servo-dispatcher/internal/servo"
)

// registerSpace is the number of holding registers each servo exposes.
const registerSpace = 256

// maxStep bounds how far present_position moves per Step.
const maxStep = 64

// ServoSpec seeds one simulated servo.
type ServoSpec struct {
	ID          uint8  `yaml:"id"`
	ModelNumber uint16 `yaml:"model_number"`
	Position    int32  `yaml:"position"`
	Temperature uint16 `yaml:"temperature"`
}

// Bank is the register space of every simulated servo. Safe for concurrent use.
type Bank struct {
	mu     sync.Mutex
	table  servo.Table
	slaves map[uint8][]uint16
}

// NewBank creates servos laid out according to table.
func NewBank(table servo.Table, specs []ServoSpec) *Bank {
	if table == nil {
		table = servo.DefaultTable()
	}
	b := &Bank{table: table, slaves: make(map[uint8][]uint16, len(specs))}
	for _, sp := range specs {
		if sp.ModelNumber == 0 {
			sp.ModelNumber = 1060
		}
		if sp.Temperature == 0 {
			sp.Temperature = 30
		}
		b.slaves[sp.ID] = make([]uint16, registerSpace)
		b.set(sp.ID, servo.ModelNumber, int64(sp.ModelNumber))
		b.set(sp.ID, servo.FirmwareVersion, 45)
		b.set(sp.ID, servo.ID, int64(sp.ID))
		b.set(sp.ID, servo.BaudRate, 1)
		b.set(sp.ID, servo.ReturnDelayTime, 250)
		b.set(sp.ID, servo.PresentTemperature, int64(sp.Temperature))
		b.set(sp.ID, servo.PresentInputVoltage, 120)
		b.set(sp.ID, servo.PresentPosition, int64(sp.Position))
		b.set(sp.ID, servo.GoalPosition, int64(sp.Position))
	}
	return b
}

// IDs lists the simulated servo ids in ascending order.
func (b *Bank) IDs() []uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint8, 0, len(b.slaves))
	for id := range b.slaves {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Value returns a register of one servo; ok is false for an unknown servo or
// register.
func (b *Bank) Value(id uint8, rt servo.RegisterType) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.slaves[id]; !ok {
		return 0, false
	}
	if _, ok := b.table[rt]; !ok {
		return 0, false
	}
	return b.get(id, rt), true
}

// Step advances the simulation: servos with torque enabled move toward their
// goal position.
func (b *Bank) Step() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.slaves {
		if b.get(id, servo.TorqueEnable) == 0 {
			b.set(id, servo.Moving, 0)
			continue
		}
		pos := b.get(id, servo.PresentPosition)
		goal := b.get(id, servo.GoalPosition)
		delta := goal - pos
		switch {
		case delta > maxStep:
			delta = maxStep
		case delta < -maxStep:
			delta = -maxStep
		}
		b.set(id, servo.PresentPosition, pos+delta)
		if delta != 0 {
			b.set(id, servo.Moving, 1)
		} else {
			b.set(id, servo.Moving, 0)
		}
	}
}

// get and set address the table; callers hold b.mu or own b exclusively.
func (b *Bank) get(id uint8, rt servo.RegisterType) int64 {
	r, ok := b.table[rt]
	regs := b.slaves[id]
	if !ok || int(r.Address)+int(r.Words) > len(regs) {
		return 0
	}
	if r.Words == 2 {
		return int64(int32(uint32(regs[r.Address])<<16 | uint32(regs[r.Address+1])))
	}
	return int64(regs[r.Address])
}

func (b *Bank) set(id uint8, rt servo.RegisterType, v int64) {
	r, ok := b.table[rt]
	regs := b.slaves[id]
	if !ok || int(r.Address)+int(r.Words) > len(regs) {
		return
	}
	if r.Words == 2 {
		u := uint32(int32(v))
		regs[r.Address] = uint16(u >> 16)
		regs[r.Address+1] = uint16(u)
		return
	}
	regs[r.Address] = uint16(v)
}

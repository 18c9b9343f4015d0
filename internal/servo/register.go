package servo

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// RegisterType names one entry of a servo control table.
type RegisterType string

const (
	ModelNumber         RegisterType = "model_number"
	FirmwareVersion     RegisterType = "firmware_version"
	ID                  RegisterType = "id"
	BaudRate            RegisterType = "baud_rate"
	ReturnDelayTime     RegisterType = "return_delay_time"
	DriveMode           RegisterType = "drive_mode"
	OperatingMode       RegisterType = "operating_mode"
	TemperatureLimit    RegisterType = "temperature_limit"
	MaxVoltageLimit     RegisterType = "max_voltage_limit"
	MinVoltageLimit     RegisterType = "min_voltage_limit"
	TorqueEnable        RegisterType = "torque_enable"
	LED                 RegisterType = "led"
	StatusReturnLevel   RegisterType = "status_return_level"
	HardwareErrorStatus RegisterType = "hardware_error_status"
	VelocityIGain       RegisterType = "velocity_i_gain"
	VelocityPGain       RegisterType = "velocity_p_gain"
	PositionDGain       RegisterType = "position_d_gain"
	PositionIGain       RegisterType = "position_i_gain"
	PositionPGain       RegisterType = "position_p_gain"
	GoalCurrent         RegisterType = "goal_current"
	GoalVelocity        RegisterType = "goal_velocity"
	ProfileAcceleration RegisterType = "profile_acceleration"
	ProfileVelocity     RegisterType = "profile_velocity"
	GoalPosition        RegisterType = "goal_position"
	Moving              RegisterType = "moving"
	PresentCurrent      RegisterType = "present_current"
	PresentVelocity     RegisterType = "present_velocity"
	PresentPosition     RegisterType = "present_position"
	PresentInputVoltage RegisterType = "present_input_voltage"
	PresentTemperature  RegisterType = "present_temperature"
)

// Register locates a value in the servo's holding register space.
// Words is 1 (unsigned 16 bit) or 2 (signed 32 bit, big-endian word order).
type Register struct {
	Address  uint16 `yaml:"address" json:"address"`
	Words    uint16 `yaml:"words" json:"words"`
	ReadOnly bool   `yaml:"read_only" json:"read_only"`
}

// RegisterValue is one entry of an initialisation list.
type RegisterValue struct {
	Register RegisterType `yaml:"register" json:"register"`
	Value    int64        `yaml:"value" json:"value"`
}

// Table maps register names to their location on the device.
type Table map[RegisterType]Register

// DefaultTable returns the control table of the supported servo family.
func DefaultTable() Table {
	return Table{
		ModelNumber:         {Address: 0, Words: 1, ReadOnly: true},
		FirmwareVersion:     {Address: 6, Words: 1, ReadOnly: true},
		ID:                  {Address: 7, Words: 1},
		BaudRate:            {Address: 8, Words: 1},
		ReturnDelayTime:     {Address: 9, Words: 1},
		DriveMode:           {Address: 10, Words: 1},
		OperatingMode:       {Address: 11, Words: 1},
		TemperatureLimit:    {Address: 31, Words: 1},
		MaxVoltageLimit:     {Address: 32, Words: 1},
		MinVoltageLimit:     {Address: 34, Words: 1},
		TorqueEnable:        {Address: 64, Words: 1},
		LED:                 {Address: 65, Words: 1},
		StatusReturnLevel:   {Address: 68, Words: 1},
		HardwareErrorStatus: {Address: 70, Words: 1, ReadOnly: true},
		VelocityIGain:       {Address: 76, Words: 1},
		VelocityPGain:       {Address: 78, Words: 1},
		PositionDGain:       {Address: 80, Words: 1},
		PositionIGain:       {Address: 82, Words: 1},
		PositionPGain:       {Address: 84, Words: 1},
		GoalCurrent:         {Address: 102, Words: 1},
		GoalVelocity:        {Address: 104, Words: 2},
		ProfileAcceleration: {Address: 108, Words: 2},
		ProfileVelocity:     {Address: 112, Words: 2},
		GoalPosition:        {Address: 116, Words: 2},
		Moving:              {Address: 122, Words: 1, ReadOnly: true},
		PresentCurrent:      {Address: 126, Words: 1, ReadOnly: true},
		PresentVelocity:     {Address: 128, Words: 2, ReadOnly: true},
		PresentPosition:     {Address: 132, Words: 2, ReadOnly: true},
		PresentInputVoltage: {Address: 144, Words: 1, ReadOnly: true},
		PresentTemperature:  {Address: 146, Words: 1, ReadOnly: true},
	}
}

// Merge returns a copy of t with the entries of overrides applied on top.
func (t Table) Merge(overrides Table) Table {
	out := make(Table, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		if v.Words == 0 {
			v.Words = 1
		}
		out[k] = v
	}
	return out
}

// Lookup returns the register for rt.
func (t Table) Lookup(rt RegisterType) (Register, error) {
	r, ok := t[rt]
	if !ok {
		return Register{}, fmt.Errorf("%w: %s", ErrUnknownRegister, rt)
	}
	return r, nil
}

// Types lists the table's registers ordered by address.
func (t Table) Types() []RegisterType {
	out := make([]RegisterType, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := t[out[i]].Address, t[out[j]].Address
		if ai != aj {
			return ai < aj
		}
		return out[i] < out[j]
	})
	return out
}

func decode(r Register, data []byte) (int64, error) {
	switch r.Words {
	case 0, 1:
		if len(data) < 2 {
			return 0, fmt.Errorf("insufficient data for 1 word: %d bytes", len(data))
		}
		return int64(binary.BigEndian.Uint16(data[:2])), nil
	case 2:
		if len(data) < 4 {
			return 0, fmt.Errorf("insufficient data for 2 words: %d bytes", len(data))
		}
		return int64(int32(binary.BigEndian.Uint32(data[:4]))), nil
	default:
		return 0, fmt.Errorf("unsupported register width %d", r.Words)
	}
}

func encode(r Register, v int64) ([]uint16, error) {
	switch r.Words {
	case 0, 1:
		if v < 0 || v > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %d does not fit 16 bits", ErrValueRange, v)
		}
		return []uint16{uint16(v)}, nil
	case 2:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d does not fit 32 bits", ErrValueRange, v)
		}
		u := uint32(int32(v))
		return []uint16{uint16(u >> 16), uint16(u)}, nil
	default:
		return nil, fmt.Errorf("unsupported register width %d", r.Words)
	}
}

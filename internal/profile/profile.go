// Package profile holds the chip and board data the MSPI timing engine is
// driven by: clock plans, sampling-rate modes, the candidate tables swept
// during tuning and the rules that turn a passing window into a choice.
//
// Everything here is static data or derived from it. A Board is built once at
// startup and treated as read-only afterwards.
package profile

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Device identifies one of the two external memories on the MSPI bus.
type Device uint8

const (
	Flash Device = iota
	PSRAM
)

func (d Device) String() string {
	switch d {
	case Flash:
		return "flash"
	case PSRAM:
		return "psram"
	default:
		return fmt.Sprintf("device(%d)", uint8(d))
	}
}

// Rate is the data sampling mode of a device.
type Rate uint8

const (
	STR Rate = iota // single transfer rate
	DTR             // double transfer rate
)

func (r Rate) String() string {
	if r == DTR {
		return "dtr"
	}
	return "str"
}

// ParseRate accepts "str" or "dtr".
func ParseRate(s string) (Rate, error) {
	switch s {
	case "str", "STR", "":
		return STR, nil
	case "dtr", "DTR":
		return DTR, nil
	}
	return STR, fmt.Errorf("profile: unknown rate %q", s)
}

// TuningParam is one point of the search space: the input delay mode and
// stage count applied to every data line, and the dummy cycles added on top
// of what the chip requires.
type TuningParam struct {
	DinMode    uint8 `json:"din_mode"`
	DinNum     uint8 `json:"din_num"`
	ExtraDummy uint8 `json:"extra_dummy"`
}

func (p TuningParam) String() string {
	return fmt.Sprintf("{mode %d, num %d, dummy +%d}", p.DinMode, p.DinNum, p.ExtraDummy)
}

// Geometry is the phase layout of a device's read command. Dummy is the
// chip's own requirement; the tuned extra dummy is added on top.
type Geometry struct {
	Opcode     uint16 `json:"opcode"`
	OpcodeBits uint8  `json:"opcode_bits"`
	AddrBits   uint8  `json:"addr_bits"`
	Dummy      uint8  `json:"dummy"`
}

// Table is the ordered candidate list for one clock configuration together
// with the index used when tuning cannot pick one.
type Table struct {
	Params    []TuningParam
	DefaultID int
}

// Default returns the fallback candidate.
func (t Table) Default() TuningParam {
	return t.Params[t.DefaultID]
}

// TableKey selects a candidate table.
type TableKey struct {
	Device Device
	Core   physic.Frequency
	Module physic.Frequency
	Rate   Rate
}

func (k TableKey) String() string {
	return fmt.Sprintf("%s core %s module %s %s", k.Device, k.Core, k.Module, k.Rate)
}

// Rule decides whether a run of passing candidates is trustworthy and where
// inside it to sample. Runs shorter than MinLen or longer than MaxLen fail.
// Offsets maps an accepted run length to the distance back from the run's
// last index; lengths without an entry use the middle of the run.
type Rule struct {
	MinLen  int
	MaxLen  int
	Offsets map[int]int
}

// Accepts reports whether a run of n passing candidates can be used.
func (r Rule) Accepts(n int) bool {
	return n >= r.MinLen && n <= r.MaxLen
}

// Offset returns how far before the run's end the chosen index lies.
func (r Rule) Offset(n int) int {
	if off, ok := r.Offsets[n]; ok {
		return off
	}
	return n / 2
}

// RuleKey selects a window rule. The offset arithmetic depends only on the
// core clock and rate, not on the module clock.
type RuleKey struct {
	Core physic.Frequency
	Rate Rate
}

// LookupTable returns the candidate table for key.
func LookupTable(key TableKey) (Table, bool) {
	t, ok := tables[key]
	return t, ok
}

// LookupRule returns the window rule for a core clock and rate.
func LookupRule(core physic.Frequency, rate Rate) (Rule, bool) {
	r, ok := rules[RuleKey{Core: core, Rate: rate}]
	return r, ok
}

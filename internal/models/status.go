// Package models defines the JSON types the bench daemon exposes: controller
// status, tuning reports and the events streamed to subscribers.
package models

import (
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/micro-nova/mspi-tuning/internal/mspi"
	"github.com/micro-nova/mspi-tuning/internal/profile"
)

// Speed modes as they appear on the wire.
const (
	ModeLow  = "low"
	ModeHigh = "high"
)

// DeviceStatus is the configuration and tuning state of one memory device.
type DeviceStatus struct {
	Present    bool   `json:"present"`
	FreqMHz    int    `json:"freq_mhz"`
	Rate       string `json:"rate"`
	Lines      int    `json:"lines"`
	Divider    uint32 `json:"divider"`
	Tuned      bool   `json:"tuned"`
	DinMode    uint8  `json:"din_mode"`
	DinNum     uint8  `json:"din_num"`
	ExtraDummy uint8  `json:"extra_dummy"`

	Geometry profile.Geometry `json:"geometry"`
}

// FlashTiming mirrors mspi.FlashTiming.
type FlashTiming struct {
	ClockReg   uint32 `json:"clock_reg"`
	ExtraDummy uint8  `json:"extra_dummy"`
	CSSetup    uint8  `json:"cs_setup"`
	CSHold     uint8  `json:"cs_hold"`
}

// Status is the full controller state returned by GET /api/status.
type Status struct {
	Board          string       `json:"board"`
	CoreClockMHz   int          `json:"core_clock_mhz"`
	Mode           string       `json:"mode"`
	TuningPortHeld bool         `json:"tuning_port_held"`
	Flash          DeviceStatus `json:"flash"`
	PSRAM          DeviceStatus `json:"psram"`
	FlashTiming    FlashTiming  `json:"flash_timing"`
	Outcomes       []Outcome    `json:"outcomes"`
}

// Outcome is one device's tuning result.
type Outcome struct {
	Device    string              `json:"device"`
	Kind      string              `json:"kind"`
	Index     int                 `json:"index"`
	Param     profile.TuningParam `json:"param"`
	WindowLen int                 `json:"window_len"`
	WindowEnd int                 `json:"window_end"`
	Reason    string              `json:"reason,omitempty"`
	Results   string              `json:"results,omitempty"` // one '1' or '0' per candidate
}

// SpeedRequest is the POST /api/speed body.
type SpeedRequest struct {
	Mode string `json:"mode"`
}

func mhz(f physic.Frequency) int { return int(f / physic.MegaHertz) }

func modeName(m mspi.SpeedMode) string {
	if m == mspi.HighSpeed {
		return ModeHigh
	}
	return ModeLow
}

func deviceStatus(cfg profile.DeviceConfig, p mspi.DeviceParams) DeviceStatus {
	return DeviceStatus{
		Present:    p.Present,
		FreqMHz:    mhz(cfg.Freq),
		Rate:       p.Rate.String(),
		Lines:      p.Lines,
		Divider:    p.Divider,
		Tuned:      p.Tuned,
		DinMode:    p.Param.DinMode,
		DinNum:     p.Param.DinNum,
		ExtraDummy: p.Param.ExtraDummy,
		Geometry:   p.Geometry,
	}
}

// NewOutcome converts a tuning outcome to its wire form.
func NewOutcome(o mspi.Outcome) Outcome {
	out := Outcome{
		Device:    o.Device.String(),
		Kind:      o.Kind.String(),
		Index:     o.Index,
		Param:     o.Param,
		WindowLen: o.Window.Length,
		WindowEnd: o.Window.End,
	}
	if o.Reason != mspi.ReasonNone {
		out.Reason = o.Reason.String()
	}
	if o.Results != nil {
		var sb strings.Builder
		for _, ok := range o.Results {
			if ok {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		out.Results = sb.String()
	}
	return out
}

// NewStatus builds the wire status from a controller snapshot and the flash
// timing export.
func NewStatus(s mspi.Snapshot, ft mspi.FlashTiming) Status {
	st := Status{
		Board:          s.Board.Name,
		CoreClockMHz:   mhz(s.Board.CoreClock),
		Mode:           modeName(s.Mode),
		TuningPortHeld: s.TuningPortHeld,
		Flash:          deviceStatus(s.Board.Flash, s.Params.Flash),
		PSRAM:          deviceStatus(s.Board.PSRAM, s.Params.PSRAM),
		FlashTiming: FlashTiming{
			ClockReg:   ft.ClockReg,
			ExtraDummy: ft.ExtraDummy,
			CSSetup:    ft.CSSetup,
			CSHold:     ft.CSHold,
		},
		Outcomes: []Outcome{},
	}
	for _, o := range s.Outcomes {
		st.Outcomes = append(st.Outcomes, NewOutcome(o))
	}
	return st
}

// Event types.
const (
	EventMode  = "mode"
	EventTuned = "tuned"
)

// Event is what subscribers to /api/subscribe receive.
type Event struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Elapsed string    `json:"elapsed,omitempty"` // transition duration
	Status  Status    `json:"status"`
}

// Report is a persisted record of one tuning run.
type Report struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Backend  string    `json:"backend"`
	Board    string    `json:"board"`
	Outcomes []Outcome `json:"outcomes"`
}

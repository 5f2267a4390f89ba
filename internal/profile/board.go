package profile

import (
	"encoding/json"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
)

// DeviceConfig describes how one external memory is wired and clocked.
type DeviceConfig struct {
	Present  bool
	Freq     physic.Frequency
	Rate     Rate
	Lines    int    // 1, 2, 4 or 8
	TestAddr uint32 // tuning test region
	ExpectID uint32 // 0 accepts any responding chip
}

// Board is the clock plan and memory population of a target.
type Board struct {
	Name      string
	CoreClock physic.Frequency // MSPI core clock in HIGH_SPEED mode
	Flash     DeviceConfig
	PSRAM     DeviceConfig
	CSSetup   uint8 // chip select setup time, in core cycles
	CSHold    uint8
}

// Default returns the profile of an ESP32-S3 module with octal flash and
// octal PSRAM, both at 80 MHz DTR.
func Default() Board {
	return Board{
		Name:      "esp32s3-octal-80m",
		CoreClock: 160 * mhz,
		Flash: DeviceConfig{
			Present: true,
			Freq:    80 * mhz,
			Rate:    DTR,
			Lines:   8,
		},
		PSRAM: DeviceConfig{
			Present: true,
			Freq:    80 * mhz,
			Rate:    DTR,
			Lines:   8,
		},
		CSSetup: 1,
		CSHold:  1,
	}
}

// Device returns the configuration of d.
func (b *Board) Device(d Device) DeviceConfig {
	if d == PSRAM {
		return b.PSRAM
	}
	return b.Flash
}

// Divider returns the module clock divider of d in HIGH_SPEED mode.
func (b *Board) Divider(d Device) uint32 {
	f := b.Device(d).Freq
	if f == 0 {
		return LowSpeedDivider
	}
	return uint32(b.CoreClock / f)
}

// NeedsTuning reports whether d runs fast enough that its sampling point must
// be calibrated. STR devices up to 80 MHz and DTR devices up to 40 MHz have
// enough margin at the default sampling point.
func (b *Board) NeedsTuning(d Device) bool {
	c := b.Device(d)
	if !c.Present {
		return false
	}
	if c.Rate == DTR {
		return c.Freq > 40*mhz
	}
	return c.Freq > 80*mhz
}

// TableKey returns the key of d's candidate table.
func (b *Board) TableKey(d Device) TableKey {
	c := b.Device(d)
	return TableKey{Device: d, Core: b.CoreClock, Module: c.Freq, Rate: c.Rate}
}

// Table returns d's candidate table.
func (b *Board) Table(d Device) (Table, bool) {
	return LookupTable(b.TableKey(d))
}

// Rule returns the window rule for d.
func (b *Board) Rule(d Device) (Rule, bool) {
	return LookupRule(b.CoreClock, b.Device(d).Rate)
}

// Validate checks the clock plan against what the controller can produce.
func (b *Board) Validate() error {
	if _, ok := hardware.CoreClockSel(uint32(b.CoreClock / mhz)); !ok || b.CoreClock%mhz != 0 {
		return fmt.Errorf("profile %s: unsupported core clock %s", b.Name, b.CoreClock)
	}
	if !b.Flash.Present {
		return errors.New("profile " + b.Name + ": flash is required")
	}
	for _, d := range []Device{Flash, PSRAM} {
		c := b.Device(d)
		if !c.Present {
			continue
		}
		if c.Freq <= 0 || c.Freq > b.CoreClock || b.CoreClock%c.Freq != 0 {
			return fmt.Errorf("profile %s: %s clock %s is not a divisor of core clock %s", b.Name, d, c.Freq, b.CoreClock)
		}
		switch c.Lines {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("profile %s: %s has %d data lines", b.Name, d, c.Lines)
		}
		if c.Rate == DTR && c.Lines != 8 {
			return fmt.Errorf("profile %s: %s DTR requires octal mode", b.Name, d)
		}
		if !b.NeedsTuning(d) {
			continue
		}
		if _, ok := b.Table(d); !ok {
			return fmt.Errorf("profile %s: no tuning table for %s", b.Name, b.TableKey(d))
		}
		if _, ok := b.Rule(d); !ok {
			return fmt.Errorf("profile %s: no window rule for core %s %s", b.Name, b.CoreClock, c.Rate)
		}
	}
	if b.CSSetup > hardware.Ctrl2CSTimeMask || b.CSHold > hardware.Ctrl2CSTimeMask {
		return fmt.Errorf("profile %s: cs setup/hold out of range", b.Name)
	}
	return nil
}

// boardFile is the on-disk form of a Board. Frequencies are whole MHz.
type boardFile struct {
	Name         string     `json:"name"`
	CoreClockMHz int64      `json:"core_clock_mhz"`
	Flash        deviceFile `json:"flash"`
	PSRAM        deviceFile `json:"psram"`
	CSSetup      uint8      `json:"cs_setup"`
	CSHold       uint8      `json:"cs_hold"`
}

type deviceFile struct {
	Present  bool   `json:"present"`
	FreqMHz  int64  `json:"freq_mhz"`
	Rate     string `json:"rate"`
	Lines    int    `json:"lines"`
	TestAddr uint32 `json:"test_addr,omitempty"`
	ExpectID uint32 `json:"expect_id,omitempty"`
}

func (c DeviceConfig) file() deviceFile {
	return deviceFile{
		Present:  c.Present,
		FreqMHz:  int64(c.Freq / mhz),
		Rate:     c.Rate.String(),
		Lines:    c.Lines,
		TestAddr: c.TestAddr,
		ExpectID: c.ExpectID,
	}
}

func (f deviceFile) config() (DeviceConfig, error) {
	rate, err := ParseRate(f.Rate)
	if err != nil {
		return DeviceConfig{}, err
	}
	return DeviceConfig{
		Present:  f.Present,
		Freq:     physic.Frequency(f.FreqMHz) * mhz,
		Rate:     rate,
		Lines:    f.Lines,
		TestAddr: f.TestAddr,
		ExpectID: f.ExpectID,
	}, nil
}

func (b Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(boardFile{
		Name:         b.Name,
		CoreClockMHz: int64(b.CoreClock / mhz),
		Flash:        b.Flash.file(),
		PSRAM:        b.PSRAM.file(),
		CSSetup:      b.CSSetup,
		CSHold:       b.CSHold,
	})
}

func (b *Board) UnmarshalJSON(data []byte) error {
	var f boardFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	flash, err := f.Flash.config()
	if err != nil {
		return fmt.Errorf("flash: %w", err)
	}
	psram, err := f.PSRAM.config()
	if err != nil {
		return fmt.Errorf("psram: %w", err)
	}
	*b = Board{
		Name:      f.Name,
		CoreClock: physic.Frequency(f.CoreClockMHz) * mhz,
		Flash:     flash,
		PSRAM:     psram,
		CSSetup:   f.CSSetup,
		CSHold:    f.CSHold,
	}
	return nil
}

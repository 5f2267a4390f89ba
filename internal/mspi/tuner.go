package mspi

import (
	"log/slog"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/profile"
)

// OutcomeKind classifies the result of a tuning pass.
type OutcomeKind uint8

const (
	// Untuned: the device runs slowly enough that no tuning is needed, or is absent.
	Untuned OutcomeKind = iota
	// Tuned: the candidate was chosen from a trustworthy passing window.
	Tuned
	// FellBackToDefault: the table default is applied at unverified margin.
	FellBackToDefault
)

func (k OutcomeKind) String() string {
	switch k {
	case Untuned:
		return "untuned"
	case Tuned:
		return "tuned"
	case FellBackToDefault:
		return "fell_back_to_default"
	default:
		return "unknown"
	}
}

// Outcome is the result of one device's tuning pass.
type Outcome struct {
	Device  profile.Device
	Kind    OutcomeKind
	Param   profile.TuningParam
	Index   int // into the candidate table, -1 when Untuned
	Window  Window
	Reason  Reason
	Results []bool
}

// TuneFlash calibrates the flash sampling point by reading the board's test
// region through mem. On return the bus is in HIGH_SPEED with the chosen
// candidate applied.
func (c *Controller) TuneFlash(mem Memory) (Outcome, error) {
	addr := c.board.Flash.TestAddr
	return c.tune(profile.Flash, mem, func() ([]byte, bool, error) {
		golden, err := flashReference(mem, addr)
		return golden, err == nil, err
	})
}

// TunePSRAM calibrates the PSRAM sampling point. The test region is
// overwritten with the reference pattern.
func (c *Controller) TunePSRAM(mem WritableMemory) (Outcome, error) {
	addr := c.board.PSRAM.TestAddr
	verify := c.opts.VerifyReference
	return c.tune(profile.PSRAM, mem, func() ([]byte, bool, error) {
		return psramReference(mem, addr, verify)
	})
}

func (c *Controller) tune(d profile.Device, mem Memory, reference func() ([]byte, bool, error)) (Outcome, error) {
	tp, err := c.AcquireTuningPort()
	if err != nil {
		return Outcome{}, err
	}
	defer tp.Release()

	c.mu.Lock()
	out, err := c.tuneLocked(tp, d, mem, reference)
	mode := c.mode
	c.mu.Unlock()

	if err == nil && out.Kind != Untuned && c.opts.Observer != nil {
		c.opts.Observer(Transition{Mode: mode, TuningPort: true})
	}
	return out, err
}

func (c *Controller) tuneLocked(tp *TuningPort, d profile.Device, mem Memory, reference func() ([]byte, bool, error)) (Outcome, error) {
	s := &c.state[d]
	if s.done {
		return s.outcome, ErrAlreadyTuned
	}
	if g, ok := mem.(Describer); ok {
		s.geo = g.Geometry()
	}
	out := Outcome{Device: d, Index: -1}
	if !c.board.NeedsTuning(d) {
		s.done, s.outcome = true, out
		slog.Info("mspi: timing tuning not needed", "device", d.String(), "freq", c.board.Device(d).Freq.String())
		return out, nil
	}
	table, _ := c.board.Table(d)
	rule, _ := c.board.Rule(d)
	addr := c.board.Device(d).TestAddr

	prev := c.mode
	c.guard.Do(func() { c.enterLowSpeed(tp) })
	// Some flash parts misread in variable dummy mode at the reference clock.
	hardware.ClearBits(c.regs, hardware.SPI1Base+hardware.RegDDR, hardware.DDRVarDummy)

	golden, stable, err := reference()
	if err != nil {
		// Devices tuned by an earlier pass keep running at their margin.
		if prev == HighSpeed {
			c.guard.Do(func() { c.enterHighSpeed(tp) })
		}
		return out, err
	}

	var sel Selection
	if stable {
		c.guard.Do(func() { c.prepareTuningPort(d) })
		out.Results = c.sweep(d, mem, table.Params, golden, addr)
		sel = SelectBest(out.Results, table, rule)
	} else {
		sel = Selection{Index: table.DefaultID, Fallback: true, Reason: ReasonReferenceUnstable}
		slog.Warn("mspi: tuning fail, fell back to default", "device", d.String(), "reason", sel.Reason.String())
	}

	out.Kind = Tuned
	if sel.Fallback {
		out.Kind = FellBackToDefault
	}
	out.Index = sel.Index
	out.Param = table.Params[sel.Index]
	out.Window = sel.Window
	out.Reason = sel.Reason

	s.done, s.tuned, s.param, s.outcome = true, true, out.Param, out
	c.guard.Do(func() { c.enterHighSpeed(tp) })

	slog.Info("mspi: timing tuning index", "device", d.String(), "index", out.Index,
		"param", out.Param.String(), "outcome", out.Kind.String())
	return out, nil
}

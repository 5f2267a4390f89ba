// Package mspi is the MSPI timing engine: it calibrates the sampling point of
// external flash and PSRAM running at high clock rates and switches the bus
// between the always-correct LOW_SPEED configuration and the tuned HIGH_SPEED
// one without disturbing cache fetches.
//
// Two controllers share the external bus. The cache port (SPI0) serves
// instruction and data cache misses; the tuning port (SPI1) issues the user
// commands of a calibration pass. The input delay registers and the core
// clock select live in SPI0 and apply to both, so every write to them is made
// inside a CacheGuard.
package mspi

import (
	"errors"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/profile"
)

var (
	// ErrTuningPortBusy is returned when the tuning port is already owned.
	ErrTuningPortBusy = errors.New("mspi: tuning port in use")
	// ErrAlreadyTuned is returned by a second tuning pass for the same device.
	ErrAlreadyTuned = errors.New("mspi: device already tuned")
)

// SpeedMode is the bus configuration in effect.
type SpeedMode uint8

const (
	LowSpeed SpeedMode = iota
	HighSpeed
)

func (m SpeedMode) String() string {
	if m == HighSpeed {
		return "high"
	}
	return "low"
}

// Options configures a Controller.
type Options struct {
	// VerifyReference reads the PSRAM reference pattern back before a sweep
	// and falls back to the default candidate if it does not match.
	VerifyReference bool
	// Observer, if set, is called after every speed mode transition, outside
	// the controller lock.
	Observer func(Transition)
}

// DefaultOptions returns the options used by the daemon.
func DefaultOptions() Options {
	return Options{VerifyReference: true}
}

// Transition describes a completed speed mode change.
type Transition struct {
	Mode       SpeedMode
	TuningPort bool // the tuning port was reprogrammed as well
	Elapsed    time.Duration
}

type deviceState struct {
	done    bool // a tuning pass ran
	tuned   bool // param holds a calibrated or fallback candidate
	param   profile.TuningParam
	geo     profile.Geometry
	outcome Outcome
}

// Controller owns the MSPI timing registers of one target.
type Controller struct {
	mu    sync.Mutex
	regs  hardware.Registers
	board profile.Board
	guard *CacheGuard
	opts  Options

	mode  SpeedMode
	port  *TuningPort
	state [2]deviceState // indexed by profile.Device
}

// New returns a controller for a bus whose registers are at reset, that is
// in LOW_SPEED with no tuning applied.
func New(regs hardware.Registers, board profile.Board, guard *CacheGuard, opts Options) (*Controller, error) {
	if err := board.Validate(); err != nil {
		return nil, err
	}
	return &Controller{regs: regs, board: board, guard: guard, opts: opts}, nil
}

// TuningPort is exclusive ownership of the tuning port's timing registers.
// Transitions given a TuningPort reprogram the tuning port as well as the
// cache port; transitions given nil leave it alone.
type TuningPort struct {
	c *Controller
}

// AcquireTuningPort takes ownership of the tuning port.
func (c *Controller) AcquireTuningPort() (*TuningPort, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port != nil {
		return nil, ErrTuningPortBusy
	}
	c.port = &TuningPort{c: c}
	return c.port, nil
}

// Release gives up ownership. Releasing twice is harmless.
func (tp *TuningPort) Release() {
	c := tp.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == tp {
		c.port = nil
	}
}

// checkPort panics on a token this controller did not hand out or that was
// released. Called with mu held.
func (c *Controller) checkPort(tp *TuningPort) {
	if tp != nil && (tp.c != c || c.port != tp) {
		panic("mspi: tuning port token not held")
	}
}

// EnterLowSpeed switches to the reference clock and clears all tuned
// sampling fields. The caller must be inside Guard().Do.
func (c *Controller) EnterLowSpeed(tp *TuningPort) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkPort(tp)
	c.enterLowSpeed(tp)
}

// EnterHighSpeed switches to the board's clock plan and applies the tuned
// sampling fields; untuned devices get the zero setting. The caller must be
// inside Guard().Do.
func (c *Controller) EnterHighSpeed(tp *TuningPort) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkPort(tp)
	c.enterHighSpeed(tp)
}

// ChangeSpeedModeCacheSafe is the hot-path transition used around CPU clock
// changes. It leaves the tuning port untouched.
func (c *Controller) ChangeSpeedModeCacheSafe(switchDown bool) {
	var start time.Time
	if c.opts.Observer != nil {
		start = time.Now()
	}

	c.mu.Lock()
	if switchDown {
		c.guard.Do(func() { c.enterLowSpeed(nil) })
	} else {
		c.guard.Do(func() { c.enterHighSpeed(nil) })
	}
	mode := c.mode
	c.mu.Unlock()

	if c.opts.Observer != nil {
		c.opts.Observer(Transition{Mode: mode, Elapsed: time.Since(start)})
	}
}

// Guard returns the cache guard transitions run under.
func (c *Controller) Guard() *CacheGuard { return c.guard }

// Board returns the board profile the controller was built with.
func (c *Controller) Board() profile.Board { return c.board }

func (c *Controller) enterLowSpeed(tp *TuningPort) {
	r := c.regs
	c.setCoreClock(profile.LowSpeedCore)
	lowClk := hardware.ClockRegValue(profile.LowSpeedDivider)
	r.Write32(hardware.SPI0Base+hardware.RegClock, lowClk)
	if c.board.PSRAM.Present {
		r.Write32(hardware.SPI0Base+hardware.RegSramClk, lowClk)
	}
	c.writeCachePortTiming(profile.Flash, profile.TuningParam{}, false)
	c.writeCachePortTiming(profile.PSRAM, profile.TuningParam{}, false)
	if tp != nil {
		r.Write32(hardware.SPI1Base+hardware.RegClock, lowClk)
	}
	c.mode = LowSpeed
}

func (c *Controller) enterHighSpeed(tp *TuningPort) {
	r := c.regs
	c.setCoreClock(c.board.CoreClock)
	flashClk := hardware.ClockRegValue(c.board.Divider(profile.Flash))
	r.Write32(hardware.SPI0Base+hardware.RegClock, flashClk)
	if c.board.PSRAM.Present {
		r.Write32(hardware.SPI0Base+hardware.RegSramClk, hardware.ClockRegValue(c.board.Divider(profile.PSRAM)))
	}
	for _, d := range []profile.Device{profile.Flash, profile.PSRAM} {
		s := &c.state[d]
		c.writeCachePortTiming(d, s.param, s.tuned)
	}
	if tp != nil {
		r.Write32(hardware.SPI1Base+hardware.RegClock, flashClk)
	}
	c.mode = HighSpeed
}

func (c *Controller) setCoreClock(f physic.Frequency) {
	sel, _ := hardware.CoreClockSel(uint32(f / physic.MegaHertz))
	hardware.SetField(c.regs, hardware.SPI0Base+hardware.RegCoreClkSel, hardware.CoreClkSelMask, 0, sel)
}

// writeCachePortTiming writes absolute values to the input delay and extra
// dummy fields of d. The input delay registers are also used by the tuning
// port.
func (c *Controller) writeCachePortTiming(d profile.Device, p profile.TuningParam, enable bool) {
	cali, mode, num := hardware.RegTimingCali, hardware.RegDinMode, hardware.RegDinNum
	if d == profile.PSRAM {
		if !c.board.PSRAM.Present {
			return
		}
		cali, mode, num = hardware.RegSmemTimingCali, hardware.RegSmemDinMode, hardware.RegSmemDinNum
	}
	if !enable {
		p = profile.TuningParam{}
	}
	r := c.regs
	r.Write32(hardware.SPI0Base+mode, hardware.DinModeAll(p.DinMode))
	r.Write32(hardware.SPI0Base+num, hardware.DinNumAll(p.DinNum))

	v := r.Read32(hardware.SPI0Base+cali) &^ (hardware.TimingCali | hardware.TimingExtraDummyMask<<hardware.TimingExtraDummyS)
	if p.ExtraDummy > 0 {
		v |= hardware.TimingCali | (uint32(p.ExtraDummy)&hardware.TimingExtraDummyMask)<<hardware.TimingExtraDummyS
	}
	r.Write32(hardware.SPI0Base+cali, v)
}

// Mode returns the speed mode of the bus. Flash and PSRAM share the core
// clock, so they always move together.
func (c *Controller) Mode() SpeedMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// IsTuned reports whether the board runs any device fast enough for tuning
// to apply.
func (c *Controller) IsTuned() bool {
	return c.board.NeedsTuning(profile.Flash) || c.board.NeedsTuning(profile.PSRAM)
}

// DeviceParams is the HIGH_SPEED configuration of one device.
type DeviceParams struct {
	Present bool
	Tuned   bool
	Param   profile.TuningParam
	Lines   int
	Rate    profile.Rate
	Divider uint32
	// Geometry is the read command of the device that was tuned; zero until
	// a tuning pass has seen it.
	Geometry profile.Geometry
}

// TunedParameterSet holds what enterHighSpeed applies for each device.
type TunedParameterSet struct {
	Flash DeviceParams
	PSRAM DeviceParams
}

// TunedParams returns the current tuned parameter set.
func (c *Controller) TunedParams() TunedParameterSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return TunedParameterSet{Flash: c.deviceParams(profile.Flash), PSRAM: c.deviceParams(profile.PSRAM)}
}

func (c *Controller) deviceParams(d profile.Device) DeviceParams {
	cfg := c.board.Device(d)
	s := c.state[d]
	return DeviceParams{
		Present:  cfg.Present,
		Tuned:    s.tuned,
		Param:    s.param,
		Lines:    cfg.Lines,
		Rate:     cfg.Rate,
		Divider:  c.board.Divider(d),
		Geometry: s.geo,
	}
}

// FlashTiming is what the flash driver programs for steady-state operation.
type FlashTiming struct {
	ClockReg   uint32 // cache port CLOCK register value
	ExtraDummy uint8
	CSSetup    uint8
	CSHold     uint8
}

// FlashTimingParam returns the flash timing to use after tuning.
func (c *Controller) FlashTimingParam() FlashTiming {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := FlashTiming{
		ClockReg: hardware.ClockRegValue(c.board.Divider(profile.Flash)),
		CSSetup:  c.board.CSSetup,
		CSHold:   c.board.CSHold,
	}
	if s := c.state[profile.Flash]; s.tuned {
		t.ExtraDummy = s.param.ExtraDummy
	}
	return t
}

// Outcome returns the result of d's tuning pass, if one ran.
func (c *Controller) Outcome(d profile.Device) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state[d]
	return s.outcome, s.done
}

// Snapshot is a consistent view of the controller state.
type Snapshot struct {
	Board          profile.Board
	Mode           SpeedMode
	TuningPortHeld bool
	Params         TunedParameterSet
	Outcomes       []Outcome
}

// Snapshot returns the current controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Board:          c.board,
		Mode:           c.mode,
		TuningPortHeld: c.port != nil,
		Params:         TunedParameterSet{Flash: c.deviceParams(profile.Flash), PSRAM: c.deviceParams(profile.PSRAM)},
	}
	for _, st := range c.state {
		if st.done {
			s.Outcomes = append(s.Outcomes, st.outcome)
		}
	}
	return s
}

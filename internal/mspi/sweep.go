package mspi

import (
	"bytes"
	"log/slog"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/profile"
)

// Sweep tries every candidate in order and reports which reproduce golden.
// It needs the tuning port and leaves the input delay registers at the last
// candidate; the caller reprograms them afterwards.
func (c *Controller) Sweep(tp *TuningPort, d profile.Device, mem Memory, params []profile.TuningParam, golden []byte, addr uint32) []bool {
	if tp == nil {
		panic("mspi: sweep needs the tuning port")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkPort(tp)
	return c.sweep(d, mem, params, golden, addr)
}

func (c *Controller) sweep(d profile.Device, mem Memory, params []profile.TuningParam, golden []byte, addr uint32) []bool {
	results := make([]bool, len(params))
	buf := make([]byte, len(golden))
	for i, p := range params {
		c.guard.Do(func() { c.setInputDelay(d, p) })

		clear(buf)
		if err := mem.ReadAt(buf, addr, p.ExtraDummy); err != nil {
			slog.Debug("mspi: sample read failed", "device", d.String(), "index", i, "err", err)
			continue
		}
		results[i] = bytes.Equal(buf, golden)
		slog.Debug("mspi: sample", "device", d.String(), "index", i, "param", p.String(), "pass", results[i])
	}
	return results
}

// setInputDelay programs the shared input delay fields of d. The extra dummy
// of a candidate travels with the read command instead.
func (c *Controller) setInputDelay(d profile.Device, p profile.TuningParam) {
	mode, num := hardware.RegDinMode, hardware.RegDinNum
	if d == profile.PSRAM {
		mode, num = hardware.RegSmemDinMode, hardware.RegSmemDinNum
	}
	c.regs.Write32(hardware.SPI0Base+mode, hardware.DinModeAll(p.DinMode))
	c.regs.Write32(hardware.SPI0Base+num, hardware.DinNumAll(p.DinNum))
}

// prepareTuningPort raises the core clock and clocks the tuning port at d's
// target frequency, with the timing module clock enabled.
func (c *Controller) prepareTuningPort(d profile.Device) {
	c.setCoreClock(c.board.CoreClock)
	c.regs.Write32(hardware.SPI1Base+hardware.RegClock, hardware.ClockRegValue(c.board.Divider(d)))
	cali := hardware.RegTimingCali
	if d == profile.PSRAM {
		cali = hardware.RegSmemTimingCali
	}
	hardware.SetBits(c.regs, hardware.SPI0Base+cali, hardware.TimingClkEna)
}

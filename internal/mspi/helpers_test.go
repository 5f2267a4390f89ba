package mspi_test

import (
	"testing"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/mspi"
	"github.com/micro-nova/mspi-tuning/internal/profile"
	"github.com/micro-nova/mspi-tuning/internal/psram"
	"github.com/micro-nova/mspi-tuning/internal/spiflash"
)

// rig is a simulated target with octal flash and PSRAM on the default board.
type rig struct {
	m         *hardware.Mock
	c         *mspi.Controller
	flash     *spiflash.Device
	psram     *psram.Device
	flashData []byte
	psramChip *hardware.MockChip
}

// eyeAt builds an eye that passes, above the reference clock, exactly the
// candidates at the given indices of table.
func eyeAt(table profile.Table, idx ...int) hardware.Eye {
	var pass []hardware.Sample
	for _, i := range idx {
		p := table.Params[i]
		pass = append(pass, hardware.Sample{DinMode: p.DinMode, DinNum: p.DinNum, Extra: p.ExtraDummy})
	}
	return hardware.WindowEye(profile.LowSpeedFreq, pass...)
}

func defaultTable(t *testing.T, d profile.Device) profile.Table {
	t.Helper()
	b := profile.Default()
	tbl, ok := b.Table(d)
	if !ok {
		t.Fatalf("no %s table on default board", d)
	}
	return tbl
}

func newRig(t *testing.T, flashEye, psramEye hardware.Eye, opts mspi.Options) *rig {
	t.Helper()
	r := &rig{m: hardware.NewMock()}
	r.flashData = make([]byte, 4096)
	for i := range r.flashData {
		r.flashData[i] = byte(i*37 + 11)
	}
	r.m.Attach(hardware.CSFlash, spiflash.NewMockChip(0xC2813A, r.flashData, flashEye))
	r.psramChip = psram.NewMockChip(make([]byte, 4096), psramEye)
	r.m.Attach(hardware.CSPSRAM, r.psramChip)

	bus := hardware.NewMSPI(r.m)
	var err error
	r.flash, err = spiflash.Detect(bus, hardware.PortTuning, spiflash.Config{Lines: 8, DTR: true})
	if err != nil {
		t.Fatalf("spiflash.Detect: %v", err)
	}
	r.psram, err = psram.Detect(bus, hardware.PortTuning, 8)
	if err != nil {
		t.Fatalf("psram.Detect: %v", err)
	}

	guard := mspi.FreezingGuard(hardware.NewExtmemFreezer(r.m))
	r.c, err = mspi.New(r.m, profile.Default(), guard, opts)
	if err != nil {
		t.Fatalf("mspi.New: %v", err)
	}
	return r
}

// tunedRig returns a rig whose flash passes candidates 5..7 and PSRAM 1..4,
// with both tuning passes already run.
func tunedRig(t *testing.T) *rig {
	t.Helper()
	r := newRig(t,
		eyeAt(defaultTable(t, profile.Flash), 5, 6, 7),
		eyeAt(defaultTable(t, profile.PSRAM), 1, 2, 3, 4),
		mspi.DefaultOptions())
	if _, err := r.c.TuneFlash(r.flash); err != nil {
		t.Fatalf("TuneFlash: %v", err)
	}
	if _, err := r.c.TunePSRAM(r.psram); err != nil {
		t.Fatalf("TunePSRAM: %v", err)
	}
	return r
}

var timingRegs = []uint32{
	hardware.SPI0Base + hardware.RegCoreClkSel,
	hardware.SPI0Base + hardware.RegClock,
	hardware.SPI0Base + hardware.RegSramClk,
	hardware.SPI0Base + hardware.RegTimingCali,
	hardware.SPI0Base + hardware.RegDinMode,
	hardware.SPI0Base + hardware.RegDinNum,
	hardware.SPI0Base + hardware.RegSmemTimingCali,
	hardware.SPI0Base + hardware.RegSmemDinMode,
	hardware.SPI0Base + hardware.RegSmemDinNum,
}

func dumpTiming(r hardware.Registers) map[uint32]uint32 {
	out := make(map[uint32]uint32, len(timingRegs))
	for _, a := range timingRegs {
		out[a] = r.Read32(a)
	}
	return out
}

// recordingRegs records the address of every write.
type recordingRegs struct {
	hardware.Registers
	writes []uint32
}

func (r *recordingRegs) Write32(addr, val uint32) {
	r.writes = append(r.writes, addr)
	r.Registers.Write32(addr, val)
}

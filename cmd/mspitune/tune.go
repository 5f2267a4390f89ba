package main

import (
	"fmt"
	"log/slog"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/mspi"
	"github.com/micro-nova/mspi-tuning/internal/profile"
	"github.com/micro-nova/mspi-tuning/internal/psram"
	"github.com/micro-nova/mspi-tuning/internal/spiflash"
)

// devices are the detected memories of a board.
type devices struct {
	flash *spiflash.Device
	psram *psram.Device // nil when the board has none
}

// detect identifies the chips through the tuning port at LOW_SPEED. A missing
// or wrong chip is fatal to the caller.
func detect(ctrl *mspi.Controller, bus hardware.Bus, board profile.Board) (devices, error) {
	var devs devices
	tp, err := ctrl.AcquireTuningPort()
	if err != nil {
		return devs, err
	}
	defer tp.Release()
	ctrl.Guard().Do(func() { ctrl.EnterLowSpeed(tp) })

	devs.flash, err = spiflash.Detect(bus, hardware.PortTuning, spiflash.Config{
		Lines:    board.Flash.Lines,
		DTR:      board.Flash.Rate == profile.DTR,
		ExpectID: board.Flash.ExpectID,
	})
	if err != nil {
		return devs, fmt.Errorf("flash: %w", err)
	}
	if board.PSRAM.Present {
		devs.psram, err = psram.Detect(bus, hardware.PortTuning, board.PSRAM.Lines)
		if err != nil {
			return devs, fmt.Errorf("psram: %w", err)
		}
	}
	return devs, nil
}

// tuneAll runs the flash pass, then the PSRAM pass, and leaves the bus in
// HIGH_SPEED.
func tuneAll(ctrl *mspi.Controller, devs devices) ([]mspi.Outcome, error) {
	var outs []mspi.Outcome
	out, err := ctrl.TuneFlash(devs.flash)
	if err != nil {
		return nil, fmt.Errorf("tune flash: %w", err)
	}
	outs = append(outs, out)

	if devs.psram != nil {
		out, err = ctrl.TunePSRAM(devs.psram)
		if err != nil {
			return nil, fmt.Errorf("tune psram: %w", err)
		}
		outs = append(outs, out)
	}

	// Untuned devices never trigger a transition, so make sure we end up fast.
	if ctrl.Mode() != mspi.HighSpeed {
		ctrl.ChangeSpeedModeCacheSafe(false)
	}
	for _, o := range outs {
		if o.Kind == mspi.FellBackToDefault {
			slog.Warn("running at unverified timing margin", "device", o.Device.String(), "reason", o.Reason.String())
		}
	}
	return outs, nil
}

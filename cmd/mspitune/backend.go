package main

import (
	"fmt"
	"io"
	"log/slog"

	"periph.io/x/conn/v3/physic"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/profile"
	"github.com/micro-nova/mspi-tuning/internal/psram"
	"github.com/micro-nova/mspi-tuning/internal/spiflash"
)

// simFlashID is what the simulated flash answers to RDID: a 256 Mbit
// Macronix octal part.
const simFlashID = 0xC2813A

// backend is an opened register file plus whatever owns its resources.
type backend struct {
	name   string
	regs   hardware.Registers
	closer io.Closer
	mock   *hardware.Mock // sim only
}

func (b *backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// Err reports a sticky access error from backends that can fail.
func (b *backend) Err() error {
	if e, ok := b.regs.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}

type backendOptions struct {
	kind     string // sim, devmem or bridge
	serial   string
	baud     int
	resetPin string // host GPIO wired to the target's EN, bridge only
	bootPin  string
}

func openBackend(opts backendOptions, board profile.Board) (*backend, error) {
	switch opts.kind {
	case "sim":
		m := newSimTarget(board)
		slog.Info("using simulated target", "board", board.Name)
		return &backend{name: "sim", regs: m, mock: m}, nil
	case "devmem":
		regs, closer, err := openDevMem()
		if err != nil {
			return nil, err
		}
		return &backend{name: "devmem", regs: regs, closer: closer}, nil
	case "bridge":
		if opts.serial == "" {
			return nil, fmt.Errorf("backend bridge needs -serial")
		}
		if opts.resetPin != "" {
			if err := hardware.ResetTarget(opts.resetPin, opts.bootPin, false); err != nil {
				return nil, fmt.Errorf("reset target: %w", err)
			}
		}
		br, err := hardware.OpenBridge(opts.serial, opts.baud)
		if err != nil {
			return nil, err
		}
		return &backend{name: "bridge", regs: br, closer: br}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want sim, devmem or bridge)", opts.kind)
	}
}

// simEye passes the three candidates starting at the table default, which is
// where a healthy board's window usually sits. Devices that need no tuning
// read correctly at any setting.
func simEye(board profile.Board, d profile.Device) hardware.Eye {
	if !board.NeedsTuning(d) {
		return func(physic.Frequency, hardware.Sample) bool { return true }
	}
	table, _ := board.Table(d)
	var pass []hardware.Sample
	for i := table.DefaultID; i < len(table.Params) && i <= table.DefaultID+2; i++ {
		p := table.Params[i]
		pass = append(pass, hardware.Sample{DinMode: p.DinMode, DinNum: p.DinNum, Extra: p.ExtraDummy})
	}
	return hardware.WindowEye(profile.LowSpeedFreq, pass...)
}

// newSimTarget builds a mock with chips matching board.
func newSimTarget(board profile.Board) *hardware.Mock {
	m := hardware.NewMock()
	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(i*131 + 7)
	}
	id := uint32(simFlashID)
	if board.Flash.ExpectID != 0 {
		id = board.Flash.ExpectID
	}
	m.Attach(hardware.CSFlash, spiflash.NewMockChip(id, data, simEye(board, profile.Flash)))
	if board.PSRAM.Present {
		m.Attach(hardware.CSPSRAM, psram.NewMockChip(make([]byte, 64*1024), simEye(board, profile.PSRAM)))
	}
	return m
}

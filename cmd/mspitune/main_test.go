package main

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/physic"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/mspi"
	"github.com/micro-nova/mspi-tuning/internal/profile"
	"github.com/micro-nova/mspi-tuning/internal/spiflash"
)

func bootSim(t *testing.T, board profile.Board) (*hardware.Mock, *mspi.Controller, []mspi.Outcome) {
	t.Helper()
	be, err := openBackend(backendOptions{kind: "sim"}, board)
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	ctrl, err := mspi.New(be.regs, board, mspi.FreezingGuard(hardware.NewExtmemFreezer(be.regs)), mspi.DefaultOptions())
	if err != nil {
		t.Fatalf("mspi.New: %v", err)
	}
	devs, err := detect(ctrl, hardware.NewMSPI(be.regs), board)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	outs, err := tuneAll(ctrl, devs)
	if err != nil {
		t.Fatalf("tuneAll: %v", err)
	}
	return be.mock, ctrl, outs
}

func TestSimBootTunesDefaultBoard(t *testing.T) {
	board := profile.Default()
	m, ctrl, outs := bootSim(t, board)

	if len(outs) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outs))
	}
	for _, o := range outs {
		table, _ := board.Table(o.Device)
		// The simulated window is [default, default+2]; a run of three picks
		// its middle.
		if o.Kind != mspi.Tuned || o.Index != table.DefaultID+1 {
			t.Errorf("%s: %s index %d, want tuned index %d", o.Device, o.Kind, o.Index, table.DefaultID+1)
		}
	}
	if ctrl.Mode() != mspi.HighSpeed {
		t.Error("not in HighSpeed after boot")
	}
	if !m.FetchOK(hardware.CSFlash) || !m.FetchOK(hardware.CSPSRAM) {
		t.Error("cache fetch fails after boot")
	}
	if v := m.Violations(); len(v) != 0 {
		t.Errorf("timing registers written with caches live: %x", v)
	}
}

func TestSimBootSlowBoard(t *testing.T) {
	board := profile.Default()
	board.Flash.Freq = 40 * physic.MegaHertz
	board.Flash.Rate = profile.STR
	board.Flash.Lines = 4
	board.PSRAM.Present = false

	_, ctrl, outs := bootSim(t, board)
	if len(outs) != 1 || outs[0].Kind != mspi.Untuned {
		t.Fatalf("outcomes = %+v, want one untuned", outs)
	}
	if ctrl.Mode() != mspi.HighSpeed {
		t.Error("untuned boot did not end in HighSpeed")
	}
}

func TestDetectWrongFlash(t *testing.T) {
	board := profile.Default()
	m := newSimTarget(board)
	board.Flash.ExpectID = 0xEF4018
	ctrl, err := mspi.New(m, board, mspi.FreezingGuard(hardware.NewExtmemFreezer(m)), mspi.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := detect(ctrl, hardware.NewMSPI(m), board); !errors.Is(err, spiflash.ErrIDMismatch) {
		t.Errorf("detect err = %v, want ErrIDMismatch", err)
	}
}

func TestOpenBackendRejects(t *testing.T) {
	for _, opts := range []backendOptions{{kind: "jtag"}, {kind: "bridge"}} {
		if _, err := openBackend(opts, profile.Default()); err == nil {
			t.Errorf("openBackend(%+v) succeeded", opts)
		}
	}
}

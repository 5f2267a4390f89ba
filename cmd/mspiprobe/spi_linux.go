//go:build linux

package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"

	"periph.io/x/conn/v3/physic"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/spiflash"
)

type spiFlags struct {
	dev  *string
	freq physic.Frequency
	id   *uint
}

func addSPIFlags(fs *flag.FlagSet) *spiFlags {
	f := &spiFlags{freq: 10 * physic.MegaHertz}
	f.dev = fs.String("dev", "/dev/spidev0.0", "spidev device")
	fs.Var(&f.freq, "freq", "SPI clock")
	f.id = fs.Uint("expect-id", 0, "fail unless the JEDEC ID matches")
	return f
}

func (f *spiFlags) open() (*hardware.SPIDev, *spiflash.Device, error) {
	dev, err := hardware.OpenSPIDev(*f.dev, f.freq)
	if err != nil {
		return nil, nil, err
	}
	flash, err := spiflash.Detect(dev, hardware.PortTuning, spiflash.Config{Lines: 1, ExpectID: uint32(*f.id)})
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	return dev, flash, nil
}

func runID(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("id", flag.ExitOnError)
	sf := addSPIFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	dev, flash, err := sf.open()
	if err != nil {
		return err
	}
	defer dev.Close()
	fmt.Fprintln(w, flash)
	return nil
}

func runDump(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	sf := addSPIFlags(fs)
	addr := fs.Uint("addr", 0, "start address")
	n := fs.Int("len", 256, "bytes to read")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dev, flash, err := sf.open()
	if err != nil {
		return err
	}
	defer dev.Close()

	buf := make([]byte, *n)
	if err := flash.ReadAt(buf, uint32(*addr), 0); err != nil {
		return fmt.Errorf("read 0x%x+%d: %w", *addr, *n, err)
	}
	d := hex.Dumper(w)
	defer d.Close()
	_, err = d.Write(buf)
	return err
}

// Package psram drives an APMemory-compatible PSRAM through the MSPI
// user-command interface in quad (QPI/SPI) or octal DTR mode.
package psram

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/profile"
)

var (
	// ErrNotFound is returned when the bus floats on the ID read.
	ErrNotFound = errors.New("psram: no psram detected")
	// ErrIDMismatch is returned for a responding chip of an unsupported vendor.
	ErrIDMismatch = errors.New("psram: unsupported psram")
)

const (
	vendorAPMemory = 0x0D
	knownGoodDie   = 0x5D
)

// DeviceError carries the identification bytes of a failed detection.
type DeviceError struct {
	ID  []byte
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("%v: id % X", e.Err, e.ID) }

func (e *DeviceError) Unwrap() error { return e.Err }

type commandSet struct {
	lines     int
	dtr       bool
	cmdBits   uint8
	addrBits  uint8
	read      uint16
	readDummy uint8
	write     uint16
	wrDummy   uint8
	id        uint16
	idAddr    uint32
	idDummy   uint8
	idLen     int
}

var (
	octal = commandSet{
		lines: 8, dtr: true, cmdBits: 16, addrBits: 32,
		read: 0x0000, readDummy: 18,
		write: 0x8080, wrDummy: 8,
		id: 0x4040, idAddr: 1, idDummy: 8, idLen: 1, // MR1
	}
	quad = commandSet{
		lines: 4, cmdBits: 8, addrBits: 24,
		read: 0xEB, readDummy: 6,
		write: 0x38,
		id: 0x9F, idLen: 2, // MFID, KGD
	}
)

// Device is a detected PSRAM.
type Device struct {
	bus    hardware.Bus
	port   hardware.Port
	cmds   commandSet
	Vendor uint8
}

// Detect identifies the PSRAM on its chip select. lines is 4 or 8; octal
// parts always run DTR.
func Detect(bus hardware.Bus, port hardware.Port, lines int) (*Device, error) {
	var cmds commandSet
	switch lines {
	case 8:
		cmds = octal
	case 4:
		cmds = quad
	default:
		return nil, fmt.Errorf("psram: %d data lines: %w", lines, hardware.ErrUnsupported)
	}

	id := make([]byte, cmds.idLen)
	cmd := &hardware.Command{
		Opcode: cmds.id, OpcodeBits: cmds.cmdBits,
		Addr: cmds.idAddr, AddrBits: cmds.addrBits,
		Dummy: cmds.idDummy,
		Read:  id,
		CS:    hardware.CSPSRAM,
		Lines: cmds.lines,
		DTR:   cmds.dtr,
	}
	if err := bus.Execute(port, cmd); err != nil {
		return nil, fmt.Errorf("psram: read id: %w", err)
	}

	switch {
	case id[0] == 0x00 || id[0] == 0xFF:
		slog.Error("psram: no chip answered", "id", fmt.Sprintf("% X", id))
		return nil, &DeviceError{ID: id, Err: ErrNotFound}
	case id[0]&0x1F != vendorAPMemory:
		slog.Error("psram: unsupported vendor", "id", fmt.Sprintf("% X", id))
		return nil, &DeviceError{ID: id, Err: ErrIDMismatch}
	case cmds.idLen > 1 && id[1] != knownGoodDie:
		slog.Error("psram: die failed factory test", "id", fmt.Sprintf("% X", id))
		return nil, &DeviceError{ID: id, Err: ErrIDMismatch}
	}
	slog.Info("psram: detected", "vendor", fmt.Sprintf("0x%02X", id[0]&0x1F), "lines", lines)
	return &Device{bus: bus, port: port, cmds: cmds, Vendor: id[0] & 0x1F}, nil
}

// WriteAt writes p at addr in controller-buffer sized chunks.
func (d *Device) WriteAt(p []byte, addr uint32) error {
	for off := 0; off < len(p); off += hardware.MaxTransfer {
		n := min(len(p)-off, hardware.MaxTransfer)
		cmd := d.command(d.cmds.write, addr+uint32(off), d.cmds.wrDummy)
		cmd.Write = p[off : off+n]
		if err := d.bus.Execute(d.port, cmd); err != nil {
			return fmt.Errorf("psram: write 0x%x: %w", cmd.Addr, err)
		}
	}
	return nil
}

// ReadAt reads len(p) bytes at addr with extraDummy cycles beyond the chip's
// read latency.
func (d *Device) ReadAt(p []byte, addr uint32, extraDummy uint8) error {
	for off := 0; off < len(p); off += hardware.MaxTransfer {
		n := min(len(p)-off, hardware.MaxTransfer)
		cmd := d.command(d.cmds.read, addr+uint32(off), d.cmds.readDummy+extraDummy)
		cmd.Read = p[off : off+n]
		if err := d.bus.Execute(d.port, cmd); err != nil {
			return fmt.Errorf("psram: read 0x%x: %w", cmd.Addr, err)
		}
	}
	return nil
}

func (d *Device) command(op uint16, addr uint32, dummy uint8) *hardware.Command {
	return &hardware.Command{
		Opcode: op, OpcodeBits: d.cmds.cmdBits,
		Addr: addr, AddrBits: d.cmds.addrBits,
		Dummy: dummy,
		CS:    hardware.CSPSRAM,
		Lines: d.cmds.lines,
		DTR:   d.cmds.dtr,
	}
}

func (d *Device) Geometry() profile.Geometry {
	c := d.cmds
	return profile.Geometry{Opcode: c.read, OpcodeBits: c.cmdBits, AddrBits: c.addrBits, Dummy: c.readDummy}
}

func (d *Device) String() string {
	mode := "quad"
	if d.cmds.dtr {
		mode = "octal dtr"
	}
	return fmt.Sprintf("psram vendor 0x%02X (%s)", d.Vendor, mode)
}

// NewMockChip returns a simulated APMemory PSRAM of len(data) bytes that
// answers both the quad and the octal command sets.
func NewMockChip(data []byte, eye hardware.Eye) *hardware.MockChip {
	return &hardware.MockChip{
		Name:         "psram",
		ID:           []byte{vendorAPMemory, knownGoodDie},
		IDOpcodes:    map[uint16]uint8{octal.id: octal.idDummy, quad.id: quad.idDummy},
		ReadOpcodes:  map[uint16]uint8{octal.read: octal.readDummy, quad.read: quad.readDummy},
		WriteOpcodes: map[uint16]bool{octal.write: true, quad.write: true},
		Data:         data,
		Eye:          eye,
	}
}

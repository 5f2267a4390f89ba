// Package spiflash drives an SPI-NOR flash chip through the MSPI user-command
// interface: JEDEC identification and the reads the timing tuner issues.
package spiflash

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/profile"
)

var (
	// ErrNotFound is returned when no chip answers the identification command.
	ErrNotFound = errors.New("spiflash: no flash chip detected")
	// ErrIDMismatch is returned when the chip is not the one the board declares.
	ErrIDMismatch = errors.New("spiflash: unexpected flash chip")
)

// DeviceError carries the identification result of a failed detection.
type DeviceError struct {
	ID   uint32
	Want uint32
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Want != 0 {
		return fmt.Sprintf("%v: id 0x%06X, want 0x%06X", e.Err, e.ID, e.Want)
	}
	return fmt.Sprintf("%v: id 0x%06X", e.Err, e.ID)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Config selects the bus mode the chip is operated in.
type Config struct {
	Lines    int
	DTR      bool
	ExpectID uint32 // 0 accepts any manufacturer
}

// geometry is the phase layout of the commands used in one bus mode.
type geometry struct {
	read     uint16
	cmdBits  uint8
	addrBits uint8
	dummy    uint8
	id       uint16
	idAddr   uint8
	idDummy  uint8
}

func geometryFor(cfg Config) (geometry, error) {
	switch {
	case cfg.Lines == 8 && cfg.DTR:
		return geometry{read: 0xEE11, cmdBits: 16, addrBits: 32, dummy: 20, id: 0x9F60, idAddr: 32, idDummy: 4}, nil
	case cfg.Lines == 8:
		return geometry{read: 0xEC13, cmdBits: 16, addrBits: 32, dummy: 20, id: 0x9F60, idAddr: 32, idDummy: 4}, nil
	case cfg.DTR:
		return geometry{}, fmt.Errorf("spiflash: DTR needs octal mode, have %d lines", cfg.Lines)
	case cfg.Lines == 4:
		return geometry{read: 0xEB, cmdBits: 8, addrBits: 24, dummy: 6, id: 0x9F}, nil
	case cfg.Lines == 2:
		return geometry{read: 0xBB, cmdBits: 8, addrBits: 24, dummy: 4, id: 0x9F}, nil
	case cfg.Lines <= 1:
		return geometry{read: 0x0B, cmdBits: 8, addrBits: 24, dummy: 8, id: 0x9F}, nil
	}
	return geometry{}, fmt.Errorf("spiflash: %d data lines: %w", cfg.Lines, hardware.ErrUnsupported)
}

var vendors = map[uint8]string{
	0x0B: "XTX",
	0x1C: "EON",
	0x20: "XMC",
	0x68: "BoyaMicro",
	0x9D: "ISSI",
	0xA1: "Fudan",
	0xC2: "MXIC",
	0xC8: "GigaDevice",
	0xEF: "Winbond",
}

// Device is a detected flash chip.
type Device struct {
	bus   hardware.Bus
	port  hardware.Port
	cfg   Config
	geo   geometry
	ID    uint32
	Size  uint32 // bytes; 0 when the density byte is not a power of two we know
	Maker string
}

// Detect identifies the chip on the flash chip select through port. The bus
// must be in a mode where every read is correct, i.e. LOW_SPEED.
func Detect(bus hardware.Bus, port hardware.Port, cfg Config) (*Device, error) {
	geo, err := geometryFor(cfg)
	if err != nil {
		return nil, err
	}
	d := &Device{bus: bus, port: port, cfg: cfg, geo: geo}

	var id [3]byte
	cmd := &hardware.Command{
		Opcode: geo.id, OpcodeBits: geo.cmdBits,
		AddrBits: geo.idAddr,
		Dummy:    geo.idDummy,
		Read:     id[:],
		CS:       hardware.CSFlash,
		Lines:    cfg.Lines,
		DTR:      cfg.DTR,
	}
	if err := bus.Execute(port, cmd); err != nil {
		return nil, fmt.Errorf("spiflash: read id: %w", err)
	}
	d.ID = uint32(id[0])<<16 | uint32(id[1])<<8 | uint32(id[2])

	if d.ID == 0 || d.ID == 0xFFFFFF {
		slog.Error("spiflash: no chip answered RDID", "id", fmt.Sprintf("0x%06X", d.ID))
		return nil, &DeviceError{ID: d.ID, Err: ErrNotFound}
	}
	if cfg.ExpectID != 0 && d.ID != cfg.ExpectID {
		slog.Error("spiflash: wrong chip", "id", fmt.Sprintf("0x%06X", d.ID), "want", fmt.Sprintf("0x%06X", cfg.ExpectID))
		return nil, &DeviceError{ID: d.ID, Want: cfg.ExpectID, Err: ErrIDMismatch}
	}

	d.Maker = vendors[id[0]]
	if d.Maker == "" {
		d.Maker = "generic"
	}
	if density := id[2]; density >= 0x10 && density <= 0x20 {
		d.Size = 1 << density
	}
	slog.Info("spiflash: detected", "id", fmt.Sprintf("0x%06X", d.ID), "maker", d.Maker, "size", d.Size,
		"lines", cfg.Lines, "dtr", cfg.DTR)
	return d, nil
}

// ReadAt reads len(p) bytes at addr with extraDummy cycles on top of the
// chip's own requirement, in controller-buffer sized chunks.
func (d *Device) ReadAt(p []byte, addr uint32, extraDummy uint8) error {
	for off := 0; off < len(p); off += hardware.MaxTransfer {
		n := min(len(p)-off, hardware.MaxTransfer)
		cmd := &hardware.Command{
			Opcode: d.geo.read, OpcodeBits: d.geo.cmdBits,
			Addr: addr + uint32(off), AddrBits: d.geo.addrBits,
			Dummy: d.geo.dummy + extraDummy,
			Read:  p[off : off+n],
			CS:    hardware.CSFlash,
			Lines: d.cfg.Lines,
			DTR:   d.cfg.DTR,
		}
		if err := d.bus.Execute(d.port, cmd); err != nil {
			return fmt.Errorf("spiflash: read 0x%x: %w", cmd.Addr, err)
		}
	}
	return nil
}

// Geometry returns the fast read command used in the configured bus mode.
func (d *Device) Geometry() profile.Geometry {
	return profile.Geometry{Opcode: d.geo.read, OpcodeBits: d.geo.cmdBits, AddrBits: d.geo.addrBits, Dummy: d.geo.dummy}
}

func (d *Device) String() string {
	return fmt.Sprintf("%s flash 0x%06X (%d KiB)", d.Maker, d.ID, d.Size/1024)
}

// NewMockChip returns a simulated flash chip that answers every command set
// this package uses. id is the 24-bit JEDEC ID.
func NewMockChip(id uint32, data []byte, eye hardware.Eye) *hardware.MockChip {
	chip := &hardware.MockChip{
		Name:        "spiflash",
		ID:          []byte{byte(id >> 16), byte(id >> 8), byte(id)},
		IDOpcodes:   map[uint16]uint8{},
		ReadOpcodes: map[uint16]uint8{},
		Data:        data,
		Eye:         eye,
	}
	for _, cfg := range []Config{{Lines: 1}, {Lines: 2}, {Lines: 4}, {Lines: 8}, {Lines: 8, DTR: true}} {
		geo, _ := geometryFor(cfg)
		chip.IDOpcodes[geo.id] = geo.idDummy
		chip.ReadOpcodes[geo.read] = geo.dummy
	}
	return chip
}

package mspi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/micro-nova/mspi-tuning/internal/profile"
)

// Memory is an external device read through the tuning port.
type Memory interface {
	// ReadAt reads len(p) bytes at addr using extraDummy cycles beyond the
	// device's own dummy requirement.
	ReadAt(p []byte, addr uint32, extraDummy uint8) error
}

// Describer is implemented by devices that report the read command the cache
// port issues for them.
type Describer interface {
	Geometry() profile.Geometry
}

// WritableMemory is a Memory that can also be written, i.e. PSRAM.
type WritableMemory interface {
	Memory
	WriteAt(p []byte, addr uint32) error
}

// ReferencePattern returns the PSRAM test data: PSRAMPattern repeated over
// TestDataLen bytes, in memory order.
func ReferencePattern() []byte {
	p := make([]byte, profile.TestDataLen)
	for i := 0; i < len(p); i += 4 {
		binary.LittleEndian.PutUint32(p[i:], profile.PSRAMPattern)
	}
	return p
}

// flashReference reads the existing flash contents at addr. Flash is never
// written here: the region is not known to be erased.
func flashReference(mem Memory, addr uint32) ([]byte, error) {
	golden := make([]byte, profile.TestDataLen)
	if err := mem.ReadAt(golden, addr, 0); err != nil {
		return nil, fmt.Errorf("mspi: flash reference read: %w", err)
	}
	return golden, nil
}

// psramReference writes the pattern at addr. The written buffer is the
// reference; with verify set it is read back first and stable reports whether
// the read matched.
func psramReference(mem WritableMemory, addr uint32, verify bool) (golden []byte, stable bool, err error) {
	golden = ReferencePattern()
	if err := mem.WriteAt(golden, addr); err != nil {
		return nil, false, fmt.Errorf("mspi: psram reference write: %w", err)
	}
	if !verify {
		return golden, true, nil
	}
	back := make([]byte, len(golden))
	if err := mem.ReadAt(back, addr, 0); err != nil {
		return nil, false, fmt.Errorf("mspi: psram reference read: %w", err)
	}
	if !bytes.Equal(back, golden) {
		slog.Warn("mspi: psram reference did not read back at low speed", "addr", addr)
		return golden, false, nil
	}
	return golden, true, nil
}

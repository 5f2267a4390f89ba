// Package hardware provides the register-level abstraction used by the MSPI
// timing engine. It defines the Registers and Bus interfaces together with the
// backends that implement them: the simulator, a /dev/mem window, a serial
// monitor bridge and a Linux spidev port.
package hardware

import "errors"

// Registers is a 32-bit memory-mapped register file.
//
// Accesses never return errors: on silicon a register access cannot fail, and
// the speed-mode transitions that use this interface have no error path.
// Backends that can fail (serial links) record the first failure and expose it
// through an Err method.
type Registers interface {
	Read32(addr uint32) uint32
	Write32(addr uint32, val uint32)
}

// Port selects one of the two MSPI controllers sharing the external bus.
type Port uint8

const (
	PortCache  Port = 0 // SPI0: feeds instruction/data cache fetches
	PortTuning Port = 1 // SPI1: user commands, used by the boot-time tuning pass
)

func (p Port) String() string {
	switch p {
	case PortCache:
		return "spi0"
	case PortTuning:
		return "spi1"
	default:
		return "unknown"
	}
}

// Chip select lines on the shared bus.
const (
	CSFlash = 0
	CSPSRAM = 1
)

// MaxTransfer is the size of the controller data buffer (W0..W15).
const MaxTransfer = 64

// Command is one user transaction: command, address, dummy and data phases.
// A zero bit length disables the corresponding phase.
type Command struct {
	Opcode     uint16
	OpcodeBits uint8
	Addr       uint32
	AddrBits   uint8
	Dummy      uint8 // dummy clock cycles between address and data phase
	Write      []byte
	Read       []byte
	CS         int
	Lines      int  // 1, 2, 4 or 8 data lines
	DTR        bool // sample on both clock edges
}

// Bus issues raw commands to an external memory device.
type Bus interface {
	Execute(port Port, cmd *Command) error
}

var (
	// ErrTimeout is returned when a polled done bit never asserts.
	ErrTimeout = errors.New("hardware: poll timed out")
	// ErrTooLong is returned for transfers that exceed the data buffer.
	ErrTooLong = errors.New("hardware: transfer exceeds controller buffer")
	// ErrUnsupported is returned when a backend cannot express a command.
	ErrUnsupported = errors.New("hardware: command not supported by backend")
)

// HardwareError is returned when a backend operation fails.
type HardwareError struct {
	msg string
}

func (e HardwareError) Error() string { return e.msg }

// ErrHardware creates a new hardware error.
func ErrHardware(msg string) error { return HardwareError{msg: msg} }

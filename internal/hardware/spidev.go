//go:build linux

package hardware

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// SPIDev issues commands to a flash chip wired to a Linux SPI controller.
// Only single-line transfers are possible and dummy cycles are rounded up to
// whole bytes, so it serves identification and reference reads on a bench,
// not timing tuning.
type SPIDev struct {
	port spi.PortCloser
	conn spi.Conn
}

// OpenSPIDev opens dev (e.g. "/dev/spidev0.0") at freq in SPI mode 0.
func OpenSPIDev(dev string, freq physic.Frequency) (*SPIDev, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("spidev: periph.io init: %w", err)
	}
	port, err := spireg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("spidev: open %s: %w", dev, err)
	}
	conn, err := port.Connect(freq, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("spidev: connect %s: %w", dev, err)
	}
	slog.Debug("spidev: connected", "device", dev, "freq", freq)
	return &SPIDev{port: port, conn: conn}, nil
}

// Execute ignores port: a spidev has a single controller.
func (s *SPIDev) Execute(port Port, cmd *Command) error {
	if cmd.Lines > 1 || cmd.DTR {
		return fmt.Errorf("spidev: %d lines dtr=%v: %w", cmd.Lines, cmd.DTR, ErrUnsupported)
	}
	var w []byte
	for i := int(cmd.OpcodeBits)/8 - 1; i >= 0; i-- {
		w = append(w, byte(cmd.Opcode>>(8*i)))
	}
	for i := int(cmd.AddrBits)/8 - 1; i >= 0; i-- {
		w = append(w, byte(cmd.Addr>>(8*i)))
	}
	w = append(w, make([]byte, align(int(cmd.Dummy), 8)/8)...)
	w = append(w, cmd.Write...)
	head := len(w)
	w = append(w, make([]byte, len(cmd.Read))...)

	r := make([]byte, len(w))
	if err := s.conn.Tx(w, r); err != nil {
		return fmt.Errorf("spidev: tx opcode 0x%x: %w", cmd.Opcode, err)
	}
	copy(cmd.Read, r[head:])
	return nil
}

// Close releases the SPI port.
func (s *SPIDev) Close() error {
	return s.port.Close()
}

package hardware

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
	"golang.org/x/time/rate"
)

// maxBridgeOpsPerSec keeps the monitor stub's UART receive buffer from overflowing.
const maxBridgeOpsPerSec = 2000

// Bridge accesses the registers of a bench target through a monitor stub on
// its UART. The stub speaks a line protocol:
//
//	r AAAAAAAA          -> VVVVVVVV
//	w AAAAAAAA VVVVVVVV -> ok
//
// with addresses and values in hex. Any other reply is an error.
type Bridge struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	rd      *bufio.Reader
	limiter *rate.Limiter
	err     error
}

// OpenBridge opens the serial device dev at the given baud rate.
func OpenBridge(dev string, baud int) (*Bridge, error) {
	port, err := serial.Open(dev, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: open %s: %w", dev, err)
	}
	slog.Info("bridge: serial monitor opened", "device", dev, "baud", baud)
	return NewBridge(port, maxBridgeOpsPerSec), nil
}

// NewBridge wraps an already-open link. opsPerSec <= 0 disables rate limiting.
func NewBridge(port io.ReadWriteCloser, opsPerSec int) *Bridge {
	lim := rate.NewLimiter(rate.Inf, 1)
	if opsPerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(opsPerSec), 16)
	}
	return &Bridge{port: port, rd: bufio.NewReader(port), limiter: lim}
}

func (b *Bridge) Read32(addr uint32) uint32 {
	reply, ok := b.roundTrip(fmt.Sprintf("r %08x\n", addr))
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(reply, 16, 32)
	if err != nil {
		b.fail(fmt.Errorf("bridge: read 0x%08x: bad reply %q", addr, reply))
		return 0
	}
	return uint32(v)
}

func (b *Bridge) Write32(addr uint32, val uint32) {
	reply, ok := b.roundTrip(fmt.Sprintf("w %08x %08x\n", addr, val))
	if ok && reply != "ok" {
		b.fail(fmt.Errorf("bridge: write 0x%08x: bad reply %q", addr, reply))
	}
}

// Err returns the first link failure. Once set, further accesses are dropped.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Close closes the underlying link.
func (b *Bridge) Close() error {
	return b.port.Close()
}

func (b *Bridge) roundTrip(req string) (string, bool) {
	// A dead link answers at once; only live traffic is paced.
	if b.Err() != nil {
		return "", false
	}
	if err := b.limiter.Wait(context.Background()); err != nil {
		b.fail(err)
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", false
	}
	if _, err := io.WriteString(b.port, req); err != nil {
		b.err = fmt.Errorf("bridge: write: %w", err)
		return "", false
	}
	line, err := b.rd.ReadString('\n')
	if err != nil {
		b.err = fmt.Errorf("bridge: read: %w", err)
		return "", false
	}
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "err") {
		b.err = ErrHardware("bridge: target rejected " + strings.TrimSpace(req) + ": " + line)
		slog.Error("bridge: link failed", "err", b.err)
		return "", false
	}
	return line, true
}

func (b *Bridge) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
		slog.Error("bridge: link failed", "err", err)
	}
}

//go:build linux

package hardware

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const devMemPath = "/dev/mem"

// DevMem is a register window mapped from /dev/mem. It is used when the
// engine runs on the target itself under Linux or on a co-processor with the
// MSPI block mapped into its physical address space.
type DevMem struct {
	base uint32
	mem  []byte

	mu  sync.Mutex
	err error // first out-of-window access
}

// OpenDevMem maps size bytes of physical memory starting at base.
func OpenDevMem(base, size uint32) (*DevMem, error) {
	fd, err := unix.Open(devMemPath, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("devmem: open %s: %w", devMemPath, err)
	}
	defer unix.Close(fd)

	pageSize := uint32(os.Getpagesize())
	if base%pageSize != 0 {
		return nil, fmt.Errorf("devmem: base 0x%08x not page aligned", base)
	}
	mem, err := unix.Mmap(fd, int64(base), int(align(size, pageSize)), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("devmem: mmap 0x%08x+0x%x: %w", base, size, err)
	}
	slog.Debug("devmem: mapped register window", "base", fmt.Sprintf("0x%08x", base), "size", size)
	return &DevMem{base: base, mem: mem}, nil
}

func (d *DevMem) word(addr uint32) *uint32 {
	off := addr - d.base
	if addr < d.base || int(off)+4 > len(d.mem) || off%4 != 0 {
		d.mu.Lock()
		if d.err == nil {
			d.err = fmt.Errorf("devmem: address 0x%08x outside window", addr)
		}
		d.mu.Unlock()
		return nil
	}
	return (*uint32)(unsafe.Pointer(&d.mem[off]))
}

func (d *DevMem) Read32(addr uint32) uint32 {
	if p := d.word(addr); p != nil {
		return atomic.LoadUint32(p)
	}
	return 0
}

func (d *DevMem) Write32(addr uint32, val uint32) {
	if p := d.word(addr); p != nil {
		atomic.StoreUint32(p, val)
	}
}

// Err returns the first invalid access, if any.
func (d *DevMem) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close unmaps the window.
func (d *DevMem) Close() error {
	return unix.Munmap(d.mem)
}

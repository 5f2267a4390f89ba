package mspi

import "github.com/micro-nova/mspi-tuning/internal/hardware"

// AddrRange is a region of the cache address space.
type AddrRange struct {
	Addr uint32
	Size uint32
}

// ExternalMemoryRanges covers the instruction and data bus windows onto
// external memory. Disabling guards invalidate them before re-enabling.
var ExternalMemoryRanges = []AddrRange{
	{Addr: 0x42000000, Size: 0x02000000}, // instruction bus
	{Addr: 0x3C000000, Size: 0x02000000}, // data bus
}

// CacheGuard runs register updates with no cache traffic in flight on the
// external bus. It is not a lock: the caller must already be the only code
// touching the bus configuration, and the body must not block.
type CacheGuard struct {
	freezer  hardware.Freezer
	disabler hardware.Disabler
	ranges   []AddrRange
}

// FreezingGuard suspends both caches with the freeze primitive. Cache
// contents stay valid, so nothing is invalidated.
func FreezingGuard(f hardware.Freezer) *CacheGuard {
	return &CacheGuard{freezer: f}
}

// DisablingGuard is for targets without a freeze primitive. The caches are
// disabled around the body and the given ranges invalidated before they are
// re-enabled.
func DisablingGuard(d hardware.Disabler, ranges ...AddrRange) *CacheGuard {
	return &CacheGuard{disabler: d, ranges: ranges}
}

// Do suspends the instruction cache then the data cache, runs body, and
// resumes them in reverse order.
func (g *CacheGuard) Do(body func()) {
	if g.freezer != nil {
		g.freezer.FreezeICache()
		g.freezer.FreezeDCache()
		body()
		g.freezer.UnfreezeDCache()
		g.freezer.UnfreezeICache()
		return
	}

	icache := g.disabler.DisableICache()
	dcache := g.disabler.DisableDCache()
	body()
	for _, r := range g.ranges {
		g.disabler.InvalidateRange(r.Addr, r.Size)
	}
	g.disabler.EnableDCache(dcache)
	g.disabler.EnableICache(icache)
}

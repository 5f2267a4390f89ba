package hardware

import "log/slog"

// Freezer suspends cache activity without discarding cache contents.
type Freezer interface {
	FreezeICache()
	FreezeDCache()
	UnfreezeDCache()
	UnfreezeICache()
}

// Disabler is the cache capability of targets that have no freeze primitive.
// Disable returns whether the cache was enabled so Enable can restore it.
type Disabler interface {
	DisableICache() bool
	DisableDCache() bool
	EnableDCache(wasEnabled bool)
	EnableICache(wasEnabled bool)
	InvalidateRange(addr, size uint32)
}

// ExtmemFreezer drives the EXTMEM freeze registers.
type ExtmemFreezer struct {
	regs      Registers
	pollLimit int
}

// NewExtmemFreezer returns a Freezer backed by regs.
func NewExtmemFreezer(regs Registers) *ExtmemFreezer {
	return &ExtmemFreezer{regs: regs, pollLimit: DefaultPollLimit}
}

func (c *ExtmemFreezer) FreezeICache() { c.freeze(RegICacheFreeze, "icache") }
func (c *ExtmemFreezer) FreezeDCache() { c.freeze(RegDCacheFreeze, "dcache") }

func (c *ExtmemFreezer) UnfreezeDCache() { ClearBits(c.regs, RegDCacheFreeze, CacheFreezeEna) }
func (c *ExtmemFreezer) UnfreezeICache() { ClearBits(c.regs, RegICacheFreeze, CacheFreezeEna) }

func (c *ExtmemFreezer) freeze(reg uint32, name string) {
	// Mode 0 stalls misses until unfreeze instead of faulting.
	v := c.regs.Read32(reg)&^CacheFreezeMode | CacheFreezeEna
	c.regs.Write32(reg, v)
	if err := Poll(c.pollLimit, func() bool { return c.regs.Read32(reg)&CacheFreezeDone != 0 }); err != nil {
		slog.Error("hardware: cache freeze did not complete", "cache", name, "err", err)
	}
}

// ExtmemDisabler disables and invalidates caches through the EXTMEM control
// and sync registers.
type ExtmemDisabler struct {
	regs      Registers
	pollLimit int
}

// NewExtmemDisabler returns a Disabler backed by regs.
func NewExtmemDisabler(regs Registers) *ExtmemDisabler {
	return &ExtmemDisabler{regs: regs, pollLimit: DefaultPollLimit}
}

func (c *ExtmemDisabler) DisableICache() bool { return c.disable(RegICacheCtrl) }
func (c *ExtmemDisabler) DisableDCache() bool { return c.disable(RegDCacheCtrl) }

func (c *ExtmemDisabler) EnableDCache(wasEnabled bool) {
	if wasEnabled {
		SetBits(c.regs, RegDCacheCtrl, CacheEnable)
	}
}

func (c *ExtmemDisabler) EnableICache(wasEnabled bool) {
	if wasEnabled {
		SetBits(c.regs, RegICacheCtrl, CacheEnable)
	}
}

func (c *ExtmemDisabler) disable(reg uint32) bool {
	was := c.regs.Read32(reg)&CacheEnable != 0
	ClearBits(c.regs, reg, CacheEnable)
	return was
}

// InvalidateRange invalidates both caches over [addr, addr+size).
func (c *ExtmemDisabler) InvalidateRange(addr, size uint32) {
	for _, sync := range [...][3]uint32{
		{RegICacheSyncAddr, RegICacheSyncSize, RegICacheSyncCtrl},
		{RegDCacheSyncAddr, RegDCacheSyncSize, RegDCacheSyncCtrl},
	} {
		c.regs.Write32(sync[0], addr)
		c.regs.Write32(sync[1], size)
		c.regs.Write32(sync[2], CacheSyncInvalidate)
		ctrl := sync[2]
		if err := Poll(c.pollLimit, func() bool { return c.regs.Read32(ctrl)&CacheSyncDone != 0 }); err != nil {
			slog.Error("hardware: cache invalidate did not complete", "addr", addr, "size", size, "err", err)
		}
	}
}

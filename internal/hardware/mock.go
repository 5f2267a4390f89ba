package hardware

import (
	"encoding/binary"
	"sync"

	"periph.io/x/conn/v3/physic"
)

// Sample is the sampling configuration a read was captured with.
type Sample struct {
	DinMode uint8
	DinNum  uint8
	Extra   uint8 // dummy cycles beyond what the chip requires
}

// Eye reports whether a chip returns correct data at the given bus frequency
// and sampling configuration.
type Eye func(freq physic.Frequency, s Sample) bool

// WindowEye passes every read at or below lowSpeed that uses no extra dummy
// cycles, and above lowSpeed passes only the listed samples.
func WindowEye(lowSpeed physic.Frequency, pass ...Sample) Eye {
	set := make(map[Sample]bool, len(pass))
	for _, s := range pass {
		set[s] = true
	}
	return func(freq physic.Frequency, s Sample) bool {
		if freq <= lowSpeed {
			return s.Extra == 0
		}
		return set[s]
	}
}

// MockChip is a memory device attached to the mock bus.
type MockChip struct {
	Name         string
	ID           []byte
	IDOpcodes    map[uint16]uint8 // opcode → dummy cycles the chip needs
	ReadOpcodes  map[uint16]uint8 // opcode → dummy cycles the chip needs
	WriteOpcodes map[uint16]bool
	Data         []byte
	Eye          Eye
}

// Mock is a thread-safe simulated register file. Writing the USR bit of a
// controller executes the programmed command against the attached chips, and
// the outcome depends on the clock and sampling registers in effect: reads
// captured outside the chip's eye come back shifted by one bit.
//
// Mock also tracks the cache freeze/enable state and records every write to a
// cache-port timing register made while either cache was live.
type Mock struct {
	mu            sync.Mutex
	regs          map[uint32]uint32
	chips         [2]*MockChip
	transactions  int
	invalidations int
	violations    []uint32
}

// NewMock creates a mock with reset register values: 80 MHz core clock,
// divider 4 on every module clock, caches enabled and unfrozen.
func NewMock() *Mock {
	m := &Mock{regs: make(map[uint32]uint32)}
	for _, base := range []uint32{SPI0Base, SPI1Base} {
		m.regs[base+RegClock] = ClockRegValue(4)
		m.regs[base+RegSramClk] = ClockRegValue(4)
		m.regs[base+RegMisc] = MiscCS0Dis | MiscCS1Dis
	}
	m.regs[RegICacheCtrl] = CacheEnable
	m.regs[RegDCacheCtrl] = CacheEnable
	return m
}

// Attach connects chip to chip-select line cs.
func (m *Mock) Attach(cs int, chip *MockChip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chips[cs] = chip
}

func (m *Mock) Read32(addr uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[addr]
}

func (m *Mock) Write32(addr uint32, val uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isCacheTimingReg(addr) && !m.cacheSuspended() {
		m.violations = append(m.violations, addr)
	}
	switch addr {
	case RegICacheFreeze, RegDCacheFreeze:
		if val&CacheFreezeEna != 0 {
			val |= CacheFreezeDone
		} else {
			val &^= CacheFreezeDone
		}
	case RegICacheSyncCtrl, RegDCacheSyncCtrl:
		if val&CacheSyncInvalidate != 0 {
			m.invalidations++
			val = val&^CacheSyncInvalidate | CacheSyncDone
		}
	case SPI0Base + RegCmd, SPI1Base + RegCmd:
		if val&CmdUsr != 0 {
			m.execute(addr - RegCmd)
			val &^= CmdUsr
		}
	}
	m.regs[addr] = val
}

// Violations returns the cache-port timing registers written while caches were live.
func (m *Mock) Violations() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint32, len(m.violations))
	copy(out, m.violations)
	return out
}

// Transactions returns the number of bus commands executed.
func (m *Mock) Transactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactions
}

// Invalidations returns the number of cache sync invalidations performed.
func (m *Mock) Invalidations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidations
}

// CacheSuspended reports whether both caches are frozen or disabled.
func (m *Mock) CacheSuspended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheSuspended()
}

// FetchOK reports whether a cache fetch from the chip on cs would return
// correct data with the current cache-port configuration.
func (m *Mock) FetchOK(cs int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	chip := m.chips[cs]
	if chip == nil || chip.Eye == nil {
		return false
	}
	clk, cali, mode, num := RegClock, RegTimingCali, RegDinMode, RegDinNum
	if cs == CSPSRAM {
		clk, cali, mode, num = RegSramClk, RegSmemTimingCali, RegSmemDinMode, RegSmemDinNum
	}
	var extra uint8
	if c := m.regs[SPI0Base+cali]; c&TimingCali != 0 {
		extra = uint8((c >> TimingExtraDummyS) & TimingExtraDummyMask)
	}
	return chip.Eye(m.freq(SPI0Base+clk), Sample{
		DinMode: uint8(m.regs[SPI0Base+mode] & DinModeFieldMask),
		DinNum:  uint8(m.regs[SPI0Base+num] & DinNumFieldMask),
		Extra:   extra,
	})
}

func (m *Mock) cacheSuspended() bool {
	icache := m.regs[RegICacheFreeze]&CacheFreezeEna != 0 || m.regs[RegICacheCtrl]&CacheEnable == 0
	dcache := m.regs[RegDCacheFreeze]&CacheFreezeEna != 0 || m.regs[RegDCacheCtrl]&CacheEnable == 0
	return icache && dcache
}

func isCacheTimingReg(addr uint32) bool {
	switch addr - SPI0Base {
	case RegClock, RegSramClk, RegCoreClkSel, RegTimingCali, RegDinMode, RegDinNum,
		RegSmemTimingCali, RegSmemDinMode, RegSmemDinNum:
		return addr >= SPI0Base
	}
	return false
}

func (m *Mock) freq(clockReg uint32) physic.Frequency {
	core := physic.Frequency(CoreClockMHz(m.regs[SPI0Base+RegCoreClkSel])) * physic.MegaHertz
	return core / physic.Frequency(ClockRegDivider(m.regs[clockReg]))
}

// execute runs the command programmed on the controller at base. Called with mu held.
func (m *Mock) execute(base uint32) {
	m.transactions++
	user := m.regs[base+RegUser]

	cs := -1
	misc := m.regs[base+RegMisc]
	if misc&MiscCS0Dis == 0 {
		cs = CSFlash
	} else if misc&MiscCS1Dis == 0 {
		cs = CSPSRAM
	}

	var opcode uint16
	if user&UserCommand != 0 {
		opcode = uint16(m.regs[base+RegUser2] & User2CmdValueMask)
	}
	addr := m.regs[base+RegAddr]
	var dummy int
	if user&UserDummy != 0 {
		dummy = int(m.regs[base+RegUser1]&User1DummyMask) + 1
	}
	var rlen int
	if user&UserMiso != 0 {
		rlen = int((m.regs[base+RegMisoDlen]&DlenMask)+1) / 8
	}

	resp := make([]byte, align(rlen, 4))
	for i := range resp {
		resp[i] = 0xFF
	}
	if cs >= 0 && m.chips[cs] != nil {
		chip := m.chips[cs]
		switch {
		case chip.WriteOpcodes[opcode] && user&UserMosi != 0:
			wlen := int((m.regs[base+RegMosiDlen]&DlenMask)+1) / 8
			data := m.wbuf(base, wlen)
			if int(addr) < len(chip.Data) {
				copy(chip.Data[addr:], data)
			}
		case rlen > 0:
			var src []byte
			need, isID := chip.IDOpcodes[opcode]
			if isID {
				src = chip.ID
			} else if d, ok := chip.ReadOpcodes[opcode]; ok {
				need = d
				if int(addr) < len(chip.Data) {
					src = chip.Data[addr:]
				}
			}
			n := copy(resp[:rlen], src)
			for i := n; i < rlen; i++ {
				resp[i] = 0xFF
			}
			extra := dummy - int(need)
			ok := extra >= 0 && chip.Eye != nil && chip.Eye(m.freq(base+RegClock), m.sample(cs, uint8(max(extra, 0))))
			if !ok {
				shiftOneBit(resp[:rlen])
			}
		}
	}
	for i := 0; i < len(resp); i += 4 {
		m.regs[base+RegW0+uint32(i)] = binary.LittleEndian.Uint32(resp[i:])
	}
}

func (m *Mock) sample(cs int, extra uint8) Sample {
	mode, num := RegDinMode, RegDinNum
	if cs == CSPSRAM {
		mode, num = RegSmemDinMode, RegSmemDinNum
	}
	// Input delay registers are shared by both controllers and live in SPI0.
	return Sample{
		DinMode: uint8(m.regs[SPI0Base+mode] & DinModeFieldMask),
		DinNum:  uint8(m.regs[SPI0Base+num] & DinNumFieldMask),
		Extra:   extra,
	}
}

func (m *Mock) wbuf(base uint32, n int) []byte {
	out := make([]byte, align(n, 4))
	for i := 0; i < len(out); i += 4 {
		binary.LittleEndian.PutUint32(out[i:], m.regs[base+RegW0+uint32(i)])
	}
	return out[:n]
}

// shiftOneBit models sampling one bit late.
func shiftOneBit(b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		var carry byte
		if i > 0 {
			carry = b[i-1] << 7
		}
		b[i] = b[i]>>1 | carry
	}
}

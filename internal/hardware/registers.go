package hardware

import "golang.org/x/exp/constraints"

// Peripheral base addresses (ESP32-S3 memory map).
const (
	SPI0Base   uint32 = 0x60003000
	SPI1Base   uint32 = 0x60002000
	ExtmemBase uint32 = 0x600C4000

	// PeriphWindow covers every register this package touches.
	PeriphWindowBase uint32 = 0x60000000
	PeriphWindowSize uint32 = 0x000D0000
)

// SPIBase returns the register block base of the given MSPI port.
func SPIBase(p Port) uint32 {
	if p == PortTuning {
		return SPI1Base
	}
	return SPI0Base
}

// SPI_MEM register offsets, relative to SPIBase.
const (
	RegCmd            uint32 = 0x00
	RegAddr           uint32 = 0x04
	RegCtrl           uint32 = 0x08
	RegCtrl2          uint32 = 0x10
	RegClock          uint32 = 0x14 // flash module clock
	RegUser           uint32 = 0x18
	RegUser1          uint32 = 0x1C
	RegUser2          uint32 = 0x20
	RegMosiDlen       uint32 = 0x24
	RegMisoDlen       uint32 = 0x28
	RegMisc           uint32 = 0x34
	RegSramClk        uint32 = 0x50 // PSRAM module clock
	RegW0             uint32 = 0x58 // W0..W15 data buffer
	RegTimingCali     uint32 = 0xA8
	RegDinMode        uint32 = 0xAC
	RegDinNum         uint32 = 0xB0
	RegSmemTimingCali uint32 = 0xBC
	RegSmemDinMode    uint32 = 0xC0
	RegSmemDinNum     uint32 = 0xC4
	RegSmemAC         uint32 = 0xDC
	RegDDR            uint32 = 0xE0
	RegSmemDDR        uint32 = 0xE4
	RegCoreClkSel     uint32 = 0xEC
)

// SPI_MEM register fields.
const (
	CmdUsr uint32 = 1 << 18

	CtrlFreadQIO  uint32 = 1 << 24
	CtrlFreadDIO  uint32 = 1 << 23
	CtrlFcmdOct   uint32 = 1 << 9
	CtrlFaddrOct  uint32 = 1 << 6
	CtrlFdinOct   uint32 = 1 << 5
	CtrlFdoutOct  uint32 = 1 << 4
	CtrlLineMask         = CtrlFreadQIO | CtrlFreadDIO | CtrlFcmdOct | CtrlFaddrOct | CtrlFdinOct | CtrlFdoutOct
	Ctrl2CSSetupS        = 0
	Ctrl2CSHoldS         = 5
	Ctrl2CSTimeMask      = 0x1F

	ClockEquSysclk uint32 = 1 << 31
	ClockCntNS            = 16
	ClockCntHS            = 8
	ClockCntLS            = 0
	ClockCntMask   uint32 = 0xFF

	UserCommand uint32 = 1 << 31
	UserAddr    uint32 = 1 << 30
	UserDummy   uint32 = 1 << 29
	UserMiso    uint32 = 1 << 28
	UserMosi    uint32 = 1 << 27

	User1AddrBitlenS           = 26
	User1AddrBitlenMask uint32 = 0x3F
	User1DummyS                = 0
	User1DummyMask      uint32 = 0x3F

	User2CmdBitlenS           = 28
	User2CmdBitlenMask uint32 = 0xF
	User2CmdValueMask  uint32 = 0xFFFF

	DlenMask uint32 = 0x3FF

	MiscCS0Dis uint32 = 1 << 0
	MiscCS1Dis uint32 = 1 << 1

	TimingClkEna          uint32 = 1 << 0
	TimingCali            uint32 = 1 << 1
	TimingExtraDummyS            = 2
	TimingExtraDummyMask  uint32 = 0x7
	DinModeFieldMask      uint32 = 0x7 // 3 bits per line, din0..din7 then dins at bit 24
	DinModeDinsS                 = 24
	DinNumFieldMask       uint32 = 0x3 // 2 bits per line, din0..din7 then dins at bit 16
	DinNumDinsS                  = 16
	SmemACCSSetupTimeS           = 2
	SmemACCSHoldTimeS            = 7
	DDREn                 uint32 = 1 << 0
	DDRVarDummy           uint32 = 1 << 1
	CoreClkSelMask        uint32 = 0x3
)

// EXTMEM (cache controller) registers, absolute addresses.
const (
	RegDCacheCtrl     uint32 = ExtmemBase + 0x000
	RegDCacheSyncCtrl uint32 = ExtmemBase + 0x028
	RegDCacheSyncAddr uint32 = ExtmemBase + 0x02C
	RegDCacheSyncSize uint32 = ExtmemBase + 0x030
	RegICacheCtrl     uint32 = ExtmemBase + 0x060
	RegICacheSyncCtrl uint32 = ExtmemBase + 0x088
	RegICacheSyncAddr uint32 = ExtmemBase + 0x08C
	RegICacheSyncSize uint32 = ExtmemBase + 0x090
	RegDCacheFreeze   uint32 = ExtmemBase + 0x150
	RegICacheFreeze   uint32 = ExtmemBase + 0x154

	CacheEnable         uint32 = 1 << 0
	CacheFreezeEna      uint32 = 1 << 0
	CacheFreezeMode     uint32 = 1 << 1
	CacheFreezeDone     uint32 = 1 << 2
	CacheSyncInvalidate uint32 = 1 << 0
	CacheSyncDone       uint32 = 1 << 1
)

// CoreClockSel maps an MSPI core clock in MHz to its CORE_CLK_SEL encoding.
func CoreClockSel(mhz uint32) (uint32, bool) {
	switch mhz {
	case 80:
		return 0, true
	case 120:
		return 1, true
	case 160:
		return 2, true
	case 240:
		return 3, true
	}
	return 0, false
}

// CoreClockMHz decodes a CORE_CLK_SEL value.
func CoreClockMHz(sel uint32) uint32 {
	return [...]uint32{80, 120, 160, 240}[sel&CoreClkSelMask]
}

// ClockRegValue encodes a module clock divider for the CLOCK / SRAM_CLK registers.
// A divider of 1 routes the core clock straight through.
func ClockRegValue(div uint32) uint32 {
	if div <= 1 {
		return ClockEquSysclk
	}
	return (div-1)<<ClockCntNS | (div/2-1)<<ClockCntHS | (div-1)<<ClockCntLS
}

// ClockRegDivider decodes a CLOCK / SRAM_CLK register value.
func ClockRegDivider(val uint32) uint32 {
	if val&ClockEquSysclk != 0 {
		return 1
	}
	return (val>>ClockCntNS)&ClockCntMask + 1
}

// DinModeAll replicates a 3-bit input delay mode across din0..din7 and dins.
func DinModeAll(mode uint8) uint32 {
	m := uint32(mode) & DinModeFieldMask
	var v uint32
	for line := 0; line < 8; line++ {
		v |= m << (3 * line)
	}
	return v | m<<DinModeDinsS
}

// DinNumAll replicates a 2-bit input delay stage count across din0..din7 and dins.
func DinNumAll(num uint8) uint32 {
	n := uint32(num) & DinNumFieldMask
	var v uint32
	for line := 0; line < 8; line++ {
		v |= n << (2 * line)
	}
	return v | n<<DinNumDinsS
}

// GetField extracts a register field.
func GetField(r Registers, addr, mask uint32, shift uint) uint32 {
	return (r.Read32(addr) >> shift) & mask
}

// SetField read-modify-writes a register field.
func SetField(r Registers, addr, mask uint32, shift uint, val uint32) {
	v := r.Read32(addr)
	v &^= mask << shift
	v |= (val & mask) << shift
	r.Write32(addr, v)
}

// SetBits sets bits in a register.
func SetBits(r Registers, addr, bits uint32) {
	r.Write32(addr, r.Read32(addr)|bits)
}

// ClearBits clears bits in a register.
func ClearBits(r Registers, addr, bits uint32) {
	r.Write32(addr, r.Read32(addr)&^bits)
}

// align rounds `val` up to nearest multiple of `align`.
func align[T constraints.Integer](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}

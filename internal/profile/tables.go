package profile

import "periph.io/x/conn/v3/physic"

const mhz = physic.MegaHertz

// Reference configuration used for the golden read and for LOW_SPEED mode.
const (
	LowSpeedCore    = 80 * mhz
	LowSpeedDivider = 4
	LowSpeedFreq    = LowSpeedCore / LowSpeedDivider
)

// Tuning test data.
const (
	TestDataLen  = 64
	PSRAMPattern = 0xa5ff005a
)

// The eye of an octal DTR device at 80 MHz from a 160 MHz core is narrow:
// candidates alternate between delay modes at two dummy settings.
var dtr160to80 = []TuningParam{
	{0, 0, 0}, {4, 2, 2}, {2, 1, 2}, {4, 1, 2}, {1, 0, 2}, {4, 0, 2},
	{0, 0, 2}, {4, 2, 4}, {2, 1, 4}, {4, 1, 4}, {1, 0, 4}, {4, 0, 4},
}

var str120to120 = []TuningParam{
	{2, 0, 1}, {0, 0, 0}, {2, 2, 2}, {1, 0, 1}, {2, 0, 2}, {0, 0, 1},
	{2, 2, 3}, {1, 0, 2}, {2, 0, 3}, {0, 0, 2}, {2, 2, 4}, {1, 0, 3},
}

var str240to120 = []TuningParam{
	{0, 0, 0}, {4, 2, 1}, {2, 1, 1}, {4, 1, 1}, {1, 0, 1}, {4, 0, 1},
	{0, 0, 1}, {4, 2, 2}, {2, 1, 2}, {4, 1, 2}, {1, 0, 2}, {4, 0, 2},
}

var tables = map[TableKey]Table{
	{Flash, 160 * mhz, 80 * mhz, DTR}:  {Params: dtr160to80, DefaultID: 4},
	{Flash, 120 * mhz, 120 * mhz, STR}: {Params: str120to120, DefaultID: 2},
	{Flash, 240 * mhz, 120 * mhz, STR}: {Params: str240to120, DefaultID: 4},
	{PSRAM, 160 * mhz, 80 * mhz, DTR}:  {Params: dtr160to80, DefaultID: 4},
	{PSRAM, 120 * mhz, 120 * mhz, STR}: {Params: str120to120, DefaultID: 2},
	{PSRAM, 240 * mhz, 120 * mhz, STR}: {Params: str240to120, DefaultID: 4},
}

var rules = map[RuleKey]Rule{
	// Short DTR runs sit against the late edge of the eye.
	{160 * mhz, DTR}: {MinLen: 3, MaxLen: 5, Offsets: map[int]int{3: 1, 4: 1, 5: 2}},
	{120 * mhz, STR}: {MinLen: 3, MaxLen: 4},
	{240 * mhz, STR}: {MinLen: 3, MaxLen: 4},
}

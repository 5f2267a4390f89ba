//go:build race

package mspi_test

import "time"

// The race detector slows register accesses on the simulator by an order of magnitude.
const speedSwitchBudget = 200 * time.Microsecond

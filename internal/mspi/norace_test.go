//go:build !race

package mspi_test

import "time"

const speedSwitchBudget = 10 * time.Microsecond

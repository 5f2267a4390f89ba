package config

import (
	"log/slog"

	"github.com/micro-nova/mspi-tuning/internal/profile"
)

// migrateBoard fills in fields that older or hand-written profiles leave out.
func migrateBoard(b *profile.Board) {
	def := profile.Default()

	if b.Name == "" {
		b.Name = "custom"
	}
	if b.CoreClock == 0 {
		slog.Warn("config: profile has no core clock, using default", "core", def.CoreClock)
		b.CoreClock = def.CoreClock
	}
	migrateDevice(&b.Flash)
	migrateDevice(&b.PSRAM)
	if b.CSSetup == 0 && b.CSHold == 0 {
		b.CSSetup, b.CSHold = def.CSSetup, def.CSHold
	}
}

func migrateDevice(c *profile.DeviceConfig) {
	if !c.Present || c.Lines != 0 {
		return
	}
	// DTR only exists in octal mode; plain SPI is the safe guess otherwise.
	if c.Rate == profile.DTR {
		c.Lines = 8
	} else {
		c.Lines = 1
	}
}

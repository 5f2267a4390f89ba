//go:build linux

package hardware

import (
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ResetTarget pulses the target's EN line through a host GPIO so it runs a
// fresh boot before tuning. bootPin, when set, drives the GPIO0 strap: high
// boots from flash, low enters the ROM download mode.
//
// Sequence:
//  1. Drive EN low to hold the chip in reset.
//  2. Set the boot strap.
//  3. Hold reset for 10ms (the EN RC filter needs several ms).
//  4. Release EN and wait for the ROM to hand over to the application.
func ResetTarget(enPin, bootPin string, download bool) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("gpio: host init failed: %w", err)
	}

	en := gpioreg.ByName(enPin)
	if en == nil {
		return fmt.Errorf("gpio: failed to open %s (EN)", enPin)
	}
	if err := en.Out(gpio.Low); err != nil {
		return fmt.Errorf("gpio: failed to assert EN: %w", err)
	}

	if bootPin != "" {
		boot := gpioreg.ByName(bootPin)
		if boot == nil {
			return fmt.Errorf("gpio: failed to open %s (GPIO0 strap)", bootPin)
		}
		level := gpio.High
		if download {
			level = gpio.Low
		}
		if err := boot.Out(level); err != nil {
			return fmt.Errorf("gpio: failed to set boot strap: %w", err)
		}
	}

	time.Sleep(10 * time.Millisecond)

	if err := en.Out(gpio.High); err != nil {
		return fmt.Errorf("gpio: failed to release EN: %w", err)
	}

	// ROM boot and monitor start-up.
	time.Sleep(300 * time.Millisecond)

	slog.Debug("gpio: target reset complete", "en_pin", enPin, "boot_pin", bootPin, "download", download)
	return nil
}

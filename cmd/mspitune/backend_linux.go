//go:build linux

package main

import (
	"io"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
)

func openDevMem() (hardware.Registers, io.Closer, error) {
	dm, err := hardware.OpenDevMem(hardware.PeriphWindowBase, hardware.PeriphWindowSize)
	if err != nil {
		return nil, nil, err
	}
	return dm, dm, nil
}

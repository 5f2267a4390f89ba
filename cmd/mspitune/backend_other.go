//go:build !linux

package main

import (
	"errors"
	"io"

	"github.com/micro-nova/mspi-tuning/internal/hardware"
)

func openDevMem() (hardware.Registers, io.Closer, error) {
	return nil, nil, errors.New("backend devmem is only available on linux")
}

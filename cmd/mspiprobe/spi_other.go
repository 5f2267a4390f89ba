//go:build !linux

package main

import (
	"errors"
	"io"
)

var errNoSPIDev = errors.New("spidev access is only available on linux")

func runID(args []string, w io.Writer) error   { return errNoSPIDev }
func runDump(args []string, w io.Writer) error { return errNoSPIDev }

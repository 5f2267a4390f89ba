//go:build !linux

package hardware

// ResetTarget needs host GPIOs, which are only driven on linux.
func ResetTarget(enPin, bootPin string, download bool) error {
	return ErrUnsupported
}

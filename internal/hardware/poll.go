package hardware

// PollForever disables the iteration limit of Poll. Hardware that never
// asserts its done bit then hangs the caller, which matches silicon behavior.
const PollForever = 0

// DefaultPollLimit bounds polling loops when the caller has no better figure.
// It is several orders of magnitude above the longest legitimate transaction.
const DefaultPollLimit = 1 << 20

// Poll calls done until it reports true or maxIter calls have been made.
// A maxIter of PollForever (or any value <= 0) polls without bound.
func Poll(maxIter int, done func() bool) error {
	for i := 0; maxIter <= 0 || i < maxIter; i++ {
		if done() {
			return nil
		}
	}
	return ErrTimeout
}

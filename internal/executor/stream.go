package executor

// Outcome carries the final report of a backgrounded fan-out call.
type Outcome struct {
	Report *Report
	Err    error
}

// Background runs a blocking fan-out call on its own goroutine and delivers
// the outcome on the returned channel. Interactive front-ends combine this
// with the Options callbacks to stream per-device output while the batch
// runs; the callbacks fire from worker goroutines, so their implementations
// must be thread-safe.
//
// Cancellation is cooperative via Options.Cancel: a soft cancel stops
// scheduling new devices, a hard cancel also stops in-flight command loops
// at the next command boundary. In-flight blocking network I/O is not
// interrupted.
func Background(run func() (*Report, error)) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		report, err := run()
		out <- Outcome{Report: report, Err: err}
		close(out)
	}()
	return out
}

package parallel

import "sync/atomic"

// Cancellation strengths. Soft stops scheduling new per-device work and
// lets in-flight devices finish; hard additionally abandons in-flight
// device loops at the next command boundary. Neither strength interrupts
// blocking network I/O already in progress, so a hard cancel is best-effort,
// not pre-emptive.
const (
	cancelNone int32 = iota
	cancelSoft
	cancelHard
)

// CancelToken is a cooperative cancellation flag shared between an
// interactive front-end and fan-out workers. All methods are safe for
// concurrent use.
type CancelToken struct {
	state atomic.Int32
}

// SoftCancel requests that no new per-device work be scheduled.
func (t *CancelToken) SoftCancel() {
	t.state.CompareAndSwap(cancelNone, cancelSoft)
}

// HardCancel requests that in-flight device loops also stop at the next
// command boundary. Upgrades a soft cancel.
func (t *CancelToken) HardCancel() {
	t.state.Store(cancelHard)
}

// Canceled reports whether any cancellation was requested.
func (t *CancelToken) Canceled() bool {
	return t.state.Load() != cancelNone
}

// Hard reports whether a hard cancel was requested.
func (t *CancelToken) Hard() bool {
	return t.state.Load() == cancelHard
}

// Reset clears the token for reuse between operations.
func (t *CancelToken) Reset() {
	t.state.Store(cancelNone)
}

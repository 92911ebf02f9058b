// Package clock implements timer and termination handling (spec.md Sections
// 4.4 and 5): wall-clock timestamping, a duration alarm, and the
// cancellation semantics every measurement loop shares.
//
// The C original delivers the duration alarm via SIGALRM and flips a
// sig_atomic_t from the handler. The idiomatic Go replacement is a
// time.AfterFunc callback writing to an atomic.Bool: the callback body is
// the only concurrent writer, the same single-writer-plus-one-flag shape
// spec.md Section 5 describes.
package clock

import (
	"errors"
	"net"
	"sync/atomic"
	"syscall"
	"time"
)

// Finished is the shared, write-once-per-test "time's up" flag (spec.md
// Section 4.4). Once set it is never cleared; CompareAndSwap enforces the
// write-once part even if more than one trigger (the alarm, a no_msgs cap,
// a peer EOF) races to set it.
type Finished struct {
	flag atomic.Bool
}

// Set marks the test finished. Safe to call more than once or concurrently;
// only the first call has any effect.
func (f *Finished) Set() {
	f.flag.CompareAndSwap(false, true)
}

// IsSet reports whether the test has been marked finished.
func (f *Finished) IsSet() bool {
	return f.flag.Load()
}

// Alarm arms a duration-bounded callback that sets a Finished flag. It is
// the Go analogue of the POSIX alarm(2) + SIGALRM handler spec.md Section
// 4.4 describes: "A POSIX-style alarm delivered after duration seconds sets
// the atomic finished flag and interrupts any blocking syscall." Blocking
// socket and RDMA calls in this codebase are themselves built on
// context.Context or short poll intervals, so "interrupts any blocking
// syscall" is realized by those call sites checking Finished rather than by
// an actual signal.
type Alarm struct {
	timer *time.Timer
}

// ArmAlarm starts a timer that sets fin after d elapses. Callers MUST call
// Stop once the measurement loop has exited, whether or not the alarm fired,
// to release the underlying timer.
func ArmAlarm(d time.Duration, fin *Finished) *Alarm {
	t := time.AfterFunc(d, fin.Set)
	return &Alarm{timer: t}
}

// Stop cancels the alarm. Safe to call after the alarm has already fired.
func (a *Alarm) Stop() {
	a.timer.Stop()
}

// Timer captures the t0/t1 wall-clock samples spec.md Section 4.4 requires:
// "A single monotonic real-time sample t0 is taken on barrier release; a
// second t1 is taken when the loop exits."
type Timer struct {
	t0, t1 time.Time
}

// Start records t0. Call this immediately after Channel.Synchronize
// returns, per spec.md Section 4.4.
func (t *Timer) Start() {
	t.t0 = time.Now()
}

// Stop records t1. Call this immediately after the measurement loop exits.
func (t *Timer) Stop() {
	t.t1 = time.Now()
}

// Elapsed returns t1 minus t0. Stop must have been called first.
func (t *Timer) Elapsed() time.Duration {
	return t.t1.Sub(t.t0)
}

// IOOutcome classifies the result of one blocking I/O attempt under the
// cancellation rules of spec.md Section 5: "syscalls interrupted by the
// alarm (EINTR) are treated as 'no work done this iteration'; they never
// increment the error counter."
type IOOutcome int

const (
	// OutcomeProgress means the call completed normally; account it.
	OutcomeProgress IOOutcome = iota
	// OutcomeNoProgress means the call was interrupted by the alarm (or
	// returned zero progress while Finished is set); do not count it as
	// an error and do not account any partial result.
	OutcomeNoProgress
	// OutcomeFatal means the call failed for a reason other than
	// cancellation; the caller should increment an error counter or
	// abort the test per spec.md Section 7.
	OutcomeFatal
)

// Classify turns a raw (n, err) result from a blocking syscall into an
// IOOutcome, given the shared Finished flag. A completion that returned
// because the alarm fired must not be counted (spec.md Section 4.4): if err
// is EINTR, or if err is nil but fin is already set, classify it as
// no-progress rather than success, discarding any partial count the caller
// observed — in-flight operations that complete after finished becomes true
// "may be partial" (spec.md Section 5) and must be discarded.
//
// net.Conn has no SIGALRM to interrupt a blocked Read/Write with EINTR, so
// callers that need the alarm to actually wake a blocked call arm a short
// I/O deadline instead (see PollInterval) and a resulting timeout error is
// the Go analogue of EINTR here: it means the deadline elapsed with no
// peer activity, not a transport failure, so it is also no-progress rather
// than fatal.
func Classify(n int, err error, fin *Finished) (IOOutcome, int) {
	if err != nil {
		if errors.Is(err, syscall.EINTR) {
			return OutcomeNoProgress, 0
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return OutcomeNoProgress, 0
		}
		return OutcomeFatal, 0
	}
	if fin.IsSet() {
		return OutcomeNoProgress, 0
	}
	return OutcomeProgress, n
}

// PollInterval bounds how long a socket measurement loop's Read or Write
// may block before checking Finished again. Callers arm it via
// SetReadDeadline/SetWriteDeadline ahead of each blocking call, the net.Conn
// equivalent of the alarm's signal-interrupt on a raw blocking syscall
// (spec.md Section 4.4).
const PollInterval = 100 * time.Millisecond

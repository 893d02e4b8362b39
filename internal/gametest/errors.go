package gametest

import (
	"errors"
	"fmt"
)

// Failure codes reported alongside a failed test.
const (
	CodeAssertion = "E_ASSERTION"
	CodeTiming    = "E_TIMING"
	CodeTimeout   = "E_TIMEOUT"
	CodeExhausted = "E_EXHAUSTED"
	CodeSetup     = "E_SETUP"
)

var (
	ErrAlreadyRunning = errors.New("runner already running")
	ErrNoBatches      = errors.New("no batches to run")
	ErrDuplicateTest  = errors.New("duplicate test name")
	ErrUnknownTest    = errors.New("unknown test")
)

// AssertionError is an expected, test-local failure.
type AssertionError struct {
	Msg  string
	Tick int64
	// Pos is set when the assertion is about a specific block.
	Pos *[3]int
}

func (e *AssertionError) Error() string {
	if e.Pos != nil {
		return fmt.Sprintf("%s at %v (t=%d)", e.Msg, *e.Pos, e.Tick)
	}
	return fmt.Sprintf("%s (t=%d)", e.Msg, e.Tick)
}

// Assertf builds an AssertionError. Tick is filled in by the sequence when
// the error is used to fail a test.
func Assertf(format string, args ...any) error {
	return &AssertionError{Msg: fmt.Sprintf(format, args...)}
}

// TimingError reports a step that passed on a different tick than declared.
type TimingError struct {
	ExpectedTick int64
	ActualTick   int64
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("succeeded in invalid tick: expected %d, but current tick is %d", e.ExpectedTick, e.ActualTick)
}

// TimeoutError reports a test that never finished within its timeout.
type TimeoutError struct {
	TimeoutTicks int
	Pending      int
	Cause        error
}

func (e *TimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("didn't succeed or fail within %d ticks (%d steps pending): %v", e.TimeoutTicks, e.Pending, e.Cause)
	}
	return fmt.Sprintf("didn't succeed or fail within %d ticks", e.TimeoutTicks)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// ExhaustedAttemptsError is the verdict of a flaky test that can no longer
// reach its required number of successes.
type ExhaustedAttemptsError struct {
	Attempts          int
	Successes         int
	RequiredSuccesses int
	// Cause is the failure of the last attempt.
	Cause error
}

func (e *ExhaustedAttemptsError) Error() string {
	msg := fmt.Sprintf("not enough successes: %d out of %d attempts, required %d", e.Successes, e.Attempts, e.RequiredSuccesses)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExhaustedAttemptsError) Unwrap() error { return e.Cause }

// SetupError is a programming or setup mistake. It fails the test and is
// never retried.
type SetupError struct {
	Msg   string
	Cause error
}

func (e *SetupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *SetupError) Unwrap() error { return e.Cause }

// Code maps a failure cause to its stable code.
func Code(err error) string {
	var (
		setup     *SetupError
		timeout   *TimeoutError
		timing    *TimingError
		exhausted *ExhaustedAttemptsError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &exhausted):
		return CodeExhausted
	case errors.As(err, &setup):
		return CodeSetup
	case errors.As(err, &timeout):
		return CodeTimeout
	case errors.As(err, &timing):
		return CodeTiming
	default:
		return CodeAssertion
	}
}

// IsRetryable reports whether a failure may be retried by a retry policy.
func IsRetryable(err error) bool {
	var setup *SetupError
	return !errors.As(err, &setup)
}

// waitingError marks a step whose condition is not met yet. It never fails a
// test by itself; it only becomes the cause of a timeout.
type waitingError struct{ cause error }

func (e *waitingError) Error() string { return "waiting: " + e.cause.Error() }
func (e *waitingError) Unwrap() error { return e.cause }

var errNotYet = errors.New("not yet")

package gametest

// RetryPolicy decides whether a whole-run retry should schedule another
// attempt of a test.
type RetryPolicy struct {
	numberOfTries int
	untilFailed   bool
}

// NoRetries never reruns anything.
var NoRetries = RetryPolicy{}

func NewRetryPolicy(numberOfTries int, untilFailed bool) RetryPolicy {
	if numberOfTries < 0 {
		numberOfTries = 0
	}
	return RetryPolicy{numberOfTries: numberOfTries, untilFailed: untilFailed}
}

func (p RetryPolicy) NumberOfTries() int { return p.numberOfTries }
func (p RetryPolicy) UntilFailed() bool  { return p.untilFailed }

func (p RetryPolicy) HasRetries() bool {
	return p.numberOfTries > 0 || p.untilFailed
}

// HasTriesLeft reports whether another attempt should run after attempts
// runs of which successes passed.
//
// With untilFailed the answer is yes as long as no attempt has failed yet.
// Otherwise it is yes while attempts < numberOfTries.
func (p RetryPolicy) HasTriesLeft(attempts, successes int) bool {
	if !p.HasRetries() {
		return false
	}
	if p.untilFailed {
		return attempts == successes
	}
	return attempts < p.numberOfTries
}

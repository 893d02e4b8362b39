package gametest

import "sort"

// Verdict is the aggregate outcome of a flaky definition over all attempts.
type Verdict struct {
	Test              string
	Attempts          int
	Successes         int
	RequiredSuccesses int
	Passed            bool
	// Err is an *ExhaustedAttemptsError when the verdict is a failure, or the
	// *SetupError that stopped the attempts.
	Err error
}

type tally struct {
	attempts  int
	successes int
}

// FlakyListener reruns instances of flaky definitions after every attempt
// until the required number of successes is reached or can no longer be
// reached, then records a verdict on the runner.
type FlakyListener struct {
	NopListener
	tallies map[string]*tally
}

func NewFlakyListener() *FlakyListener {
	return &FlakyListener{tallies: map[string]*tally{}}
}

func (l *FlakyListener) OnPassed(inst *Instance, r *Runner) { l.observe(inst, r) }
func (l *FlakyListener) OnFailed(inst *Instance, r *Runner) { l.observe(inst, r) }

func (l *FlakyListener) observe(inst *Instance, r *Runner) {
	def := inst.Definition()
	if !def.Flaky() || r == nil {
		return
	}
	t := l.tallies[def.Name]
	if t == nil {
		t = &tally{}
		l.tallies[def.Name] = t
	}
	t.attempts++
	if inst.Passed() {
		t.successes++
	}

	v := Verdict{Test: def.Name, Attempts: t.attempts, Successes: t.successes, RequiredSuccesses: def.RequiredSuccesses}
	if inst.Failed() && !IsRetryable(inst.Err()) {
		v.Err = inst.Err()
		r.recordVerdict(v)
		return
	}

	remaining := def.MaxAttempts - t.attempts
	switch {
	case t.successes >= def.RequiredSuccesses:
		v.Passed = true
		r.recordVerdict(v)
	case t.successes+remaining < def.RequiredSuccesses:
		// Listeners after this one report the final attempt with the
		// exhausted verdict as its cause.
		ex := &ExhaustedAttemptsError{Attempts: t.attempts, Successes: t.successes, RequiredSuccesses: def.RequiredSuccesses, Cause: inst.Err()}
		inst.err = ex
		v.Err = ex
		r.recordVerdict(v)
	default:
		r.RerunTest(inst)
	}
}

// RetryListener applies a RetryPolicy to non-flaky definitions.
type RetryListener struct {
	NopListener
	Policy  RetryPolicy
	tallies map[string]*tally
}

func NewRetryListener(p RetryPolicy) *RetryListener {
	return &RetryListener{Policy: p, tallies: map[string]*tally{}}
}

func (l *RetryListener) OnPassed(inst *Instance, r *Runner) { l.observe(inst, r) }
func (l *RetryListener) OnFailed(inst *Instance, r *Runner) { l.observe(inst, r) }

func (l *RetryListener) observe(inst *Instance, r *Runner) {
	if inst.Definition().Flaky() || r == nil {
		return
	}
	t := l.tallies[inst.Name()]
	if t == nil {
		t = &tally{}
		l.tallies[inst.Name()] = t
	}
	t.attempts++
	if inst.Passed() {
		t.successes++
	}
	if inst.Failed() && !IsRetryable(inst.Err()) {
		return
	}
	if l.Policy.HasTriesLeft(t.attempts, t.successes) {
		r.RerunTest(inst)
	}
}

func (r *Runner) recordVerdict(v Verdict) {
	if r.verdicts == nil {
		r.verdicts = map[string]Verdict{}
	}
	r.verdicts[v.Test] = v
	if v.Passed {
		r.log.Info("flaky test passed", "test", v.Test, "successes", v.Successes, "attempts", v.Attempts)
	} else {
		r.log.Warn("flaky test failed", "test", v.Test, "err", v.Err)
	}
}

// FlakyVerdicts returns the final verdicts of flaky definitions, sorted by
// test name. Definitions still being retried are absent.
func (r *Runner) FlakyVerdicts() []Verdict {
	out := make([]Verdict, 0, len(r.verdicts))
	for _, v := range r.verdicts {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Test < out[j].Test })
	return out
}

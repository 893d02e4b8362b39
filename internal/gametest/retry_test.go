package gametest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_NoRetries(t *testing.T) {
	assert.False(t, NoRetries.HasRetries())
	for attempts := 0; attempts < 4; attempts++ {
		assert.False(t, NoRetries.HasTriesLeft(attempts, attempts))
	}
}

func TestRetryPolicy_FixedCountIgnoresHistory(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		p := NewRetryPolicy(n, false)
		assert.True(t, p.HasRetries())
		for attempts := 0; attempts <= n; attempts++ {
			for successes := 0; successes <= attempts; successes++ {
				want := attempts < n
				assert.Equal(t, want, p.HasTriesLeft(attempts, successes), "n=%d attempts=%d successes=%d", n, attempts, successes)
			}
		}
	}
}

func TestRetryPolicy_UntilFailedStopsAtFirstFailure(t *testing.T) {
	p := NewRetryPolicy(0, true)
	assert.True(t, p.HasRetries())
	assert.True(t, p.HasTriesLeft(0, 0))
	assert.True(t, p.HasTriesLeft(1, 1))
	assert.True(t, p.HasTriesLeft(40, 40))
	assert.False(t, p.HasTriesLeft(3, 2))
	assert.False(t, p.HasTriesLeft(1, 0))
}

func TestRetryPolicy_NegativeTriesClamp(t *testing.T) {
	p := NewRetryPolicy(-3, false)
	assert.False(t, p.HasRetries())
	assert.Equal(t, 0, p.NumberOfTries())
}

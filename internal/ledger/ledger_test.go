package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycc/cc-dispatch/internal/clock"
)

func TestMarkAndIsRateLimited(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := New(c)

	assert.False(t, l.IsRateLimited("a@x.com", "gemini-3-pro-high"))

	l.MarkRateLimited("a@x.com", "gemini-3-pro-high", c.Now().Add(10*time.Second))
	assert.True(t, l.IsRateLimited("a@x.com", "gemini-3-pro-high"))

	// Different model on the same account is unaffected.
	assert.False(t, l.IsRateLimited("a@x.com", "claude-sonnet-4-5"))
}

func TestIsRateLimitedExpiresLazily(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := New(c)

	l.MarkRateLimited("a@x.com", "gemini-3-pro-high", c.Now().Add(5*time.Second))
	require.True(t, l.IsRateLimited("a@x.com", "gemini-3-pro-high"))

	c.Advance(4 * time.Second)
	assert.True(t, l.IsRateLimited("a@x.com", "gemini-3-pro-high"), "must not clear before reset time")

	c.Advance(2 * time.Second)
	assert.False(t, l.IsRateLimited("a@x.com", "gemini-3-pro-high"), "must clear exactly at/after reset time")

	// Must not reappear after expiry without a fresh 429.
	assert.False(t, l.IsRateLimited("a@x.com", "gemini-3-pro-high"))
}

func TestClear(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := New(c)
	l.MarkRateLimited("a@x.com", "m", c.Now().Add(time.Minute))
	require.True(t, l.IsRateLimited("a@x.com", "m"))
	l.Clear("a@x.com", "m")
	assert.False(t, l.IsRateLimited("a@x.com", "m"))
}

func TestAllRateLimited(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := New(c)

	// Vacuously true for an empty account list is not tested here (spec
	// says vacuously true for the selector's notion of "accounts
	// available"), but the ledger itself reports false for an empty slice
	// since there is nothing to be limited on.
	assert.False(t, l.AllRateLimited(nil, "m"))

	l.MarkRateLimited("a@x.com", "m", c.Now().Add(time.Minute))
	assert.False(t, l.AllRateLimited([]string{"a@x.com", "b@x.com"}, "m"))

	l.MarkRateLimited("b@x.com", "m", c.Now().Add(2*time.Minute))
	assert.True(t, l.AllRateLimited([]string{"a@x.com", "b@x.com"}, "m"))
}

func TestMinWait(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := New(c)

	// Not all rate-limited -> 0.
	assert.Equal(t, time.Duration(0), l.MinWait([]string{"a@x.com", "b@x.com"}, "m"))

	l.MarkRateLimited("a@x.com", "m", c.Now().Add(30*time.Second))
	l.MarkRateLimited("b@x.com", "m", c.Now().Add(10*time.Second))

	assert.Equal(t, 10*time.Second, l.MinWait([]string{"a@x.com", "b@x.com"}, "m"))
}

func TestClearExpired(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := New(c)

	l.MarkRateLimited("a@x.com", "m", c.Now().Add(5*time.Second))
	l.MarkRateLimited("b@x.com", "m", c.Now().Add(50*time.Second))

	c.Advance(10 * time.Second)
	removed := l.ClearExpired()
	assert.Equal(t, 1, removed)
	assert.False(t, l.IsRateLimited("a@x.com", "m"))
	assert.True(t, l.IsRateLimited("b@x.com", "m"))
}

func TestRemainingWait(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := New(c)

	_, limited := l.RemainingWait("a@x.com", "m")
	assert.False(t, limited)

	l.MarkRateLimited("a@x.com", "m", c.Now().Add(20*time.Second))
	wait, limited := l.RemainingWait("a@x.com", "m")
	require.True(t, limited)
	assert.Equal(t, 20*time.Second, wait)

	c.Advance(25 * time.Second)
	_, limited = l.RemainingWait("a@x.com", "m")
	assert.False(t, limited)
}

func TestAvailable(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := New(c)

	accounts := []string{"a@x.com", "b@x.com", "c@x.com"}
	assert.ElementsMatch(t, accounts, l.Available(accounts, "m"), "nothing limited yet")

	l.MarkRateLimited("b@x.com", "m", c.Now().Add(time.Minute))
	assert.ElementsMatch(t, []string{"a@x.com", "c@x.com"}, l.Available(accounts, "m"))

	// A different model's limit must not affect availability for "m".
	l.MarkRateLimited("c@x.com", "other-model", c.Now().Add(time.Minute))
	assert.ElementsMatch(t, []string{"a@x.com", "c@x.com"}, l.Available(accounts, "m"))

	c.Advance(2 * time.Minute)
	assert.ElementsMatch(t, accounts, l.Available(accounts, "m"), "expired limit must lazily clear")
}

func TestResetAll(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := New(c)

	l.MarkRateLimited("a@x.com", "m", c.Now().Add(time.Hour))
	l.MarkRateLimited("b@x.com", "other-model", c.Now().Add(time.Hour))
	require.True(t, l.IsRateLimited("a@x.com", "m"))
	require.True(t, l.IsRateLimited("b@x.com", "other-model"))

	l.ResetAll()

	assert.False(t, l.IsRateLimited("a@x.com", "m"), "ResetAll must clear unexpired records too")
	assert.False(t, l.IsRateLimited("b@x.com", "other-model"))
}

func TestSnapshotOmitsExpired(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := New(c)

	l.MarkRateLimited("a@x.com", "gemini-3-pro-high", c.Now().Add(time.Minute))
	l.MarkRateLimited("a@x.com", "claude-sonnet-4-5", c.Now().Add(time.Second))
	c.Advance(2 * time.Second)

	snap := l.Snapshot("a@x.com")
	_, stillThere := snap["claude-sonnet-4-5"]
	assert.False(t, stillThere)
	_, present := snap["gemini-3-pro-high"]
	assert.True(t, present)
}

package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycc/cc-dispatch/internal/clock"
	"github.com/relaycc/cc-dispatch/internal/ledger"
)

func allUsable(_, _ string) bool { return true }

// P1: sticky preference — repeated Pick calls return the same account.
func TestPickStickyPreference(t *testing.T) {
	s := New([]string{"a@x.com", "b@x.com", "c@x.com"}, nil, 0)

	acct, wait, ok := s.Pick("session-1", "m", allUsable)
	require.True(t, ok)
	require.Equal(t, time.Duration(0), wait)

	for i := 0; i < 5; i++ {
		got, _, ok := s.Pick("session-1", "m", allUsable)
		require.True(t, ok)
		assert.Equal(t, acct, got, "sticky account must not change while usable")
	}
}

// P2: advance on unusability — when the sticky account becomes unusable and
// another is usable, Pick switches to a different account.
func TestPickAdvancesWhenStickyUnusable(t *testing.T) {
	s := New([]string{"a@x.com", "b@x.com"}, nil, 0)

	first, _, ok := s.Pick("session-1", "m", allUsable)
	require.True(t, ok)

	onlyOther := func(email, _ string) bool { return email != first }
	second, _, ok := s.Pick("session-1", "m", onlyOther)
	require.True(t, ok)
	assert.NotEqual(t, first, second)

	// And it becomes sticky for subsequent picks.
	third, _, ok := s.Pick("session-1", "m", onlyOther)
	require.True(t, ok)
	assert.Equal(t, second, third)
}

// P3: wait-or-switch. With the sticky account's own limit clearing within
// maxWait and no other usable account, Pick reports {account:"", wait>0}.
func TestPickReportsWaitWhenOnlyStickyWillClear(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := ledger.New(c)
	s := New([]string{"a@x.com"}, l, 30*time.Second)

	// Bind "a@x.com" as sticky while usable.
	acct, _, ok := s.Pick("session-1", "m", allUsable)
	require.True(t, ok)
	require.Equal(t, "a@x.com", acct)

	l.MarkRateLimited("a@x.com", "m", c.Now().Add(10*time.Second))
	noneUsable := func(_, _ string) bool { return false }

	_, wait, ok := s.Pick("session-1", "m", noneUsable)
	assert.False(t, ok)
	assert.Equal(t, 10*time.Second, wait)
}

// When the wait would exceed maxWait, Pick must not offer a wait at all.
func TestPickDoesNotOfferWaitBeyondMax(t *testing.T) {
	c := clock.NewFake(time.Now())
	l := ledger.New(c)
	s := New([]string{"a@x.com"}, l, 5*time.Second)

	_, _, ok := s.Pick("session-1", "m", allUsable)
	require.True(t, ok)

	l.MarkRateLimited("a@x.com", "m", c.Now().Add(time.Minute))
	noneUsable := func(_, _ string) bool { return false }

	_, wait, ok := s.Pick("session-1", "m", noneUsable)
	assert.False(t, ok)
	assert.Equal(t, time.Duration(0), wait)
}

func TestPickNextScansWrappingFromActiveIndex(t *testing.T) {
	s := New([]string{"a@x.com", "b@x.com", "c@x.com"}, nil, 0)

	// Bind sticky to "a@x.com" via Pick, then force rotation past the end.
	_, _, ok := s.Pick("session-1", "m", allUsable)
	require.True(t, ok)

	onlyC := func(email, _ string) bool { return email == "c@x.com" }
	acct, ok := s.PickNext("session-1", "m", onlyC)
	require.True(t, ok)
	assert.Equal(t, "c@x.com", acct)
}

func TestPickNextReturnsFalseWhenNoneUsable(t *testing.T) {
	s := New([]string{"a@x.com", "b@x.com"}, nil, 0)
	_, ok := s.PickNext("session-1", "m", func(_, _ string) bool { return false })
	assert.False(t, ok)
}

func TestGetCurrentStickyReflectsUsability(t *testing.T) {
	s := New([]string{"a@x.com"}, nil, 0)
	acct, _, ok := s.Pick("session-1", "m", allUsable)
	require.True(t, ok)

	got, ok := s.GetCurrentSticky("session-1", "m", allUsable)
	require.True(t, ok)
	assert.Equal(t, acct, got)

	_, ok = s.GetCurrentSticky("session-1", "m", func(_, _ string) bool { return false })
	assert.False(t, ok)
}

func TestSetAccountsClampsActiveIndex(t *testing.T) {
	s := New([]string{"a@x.com", "b@x.com", "c@x.com"}, nil, 0)
	_, _, ok := s.Pick("sticky", "m", func(email, _ string) bool { return email == "c@x.com" })
	require.True(t, ok)

	s.SetAccounts([]string{"a@x.com"})
	// Should not panic on subsequent picks against the shrunk pool.
	acct, _, ok := s.Pick("new-session", "m", allUsable)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", acct)
}

func TestReleaseDropsStickyBinding(t *testing.T) {
	s := New([]string{"a@x.com", "b@x.com"}, nil, 0)
	_, _, ok := s.Pick("session-1", "m", allUsable)
	require.True(t, ok)

	s.Release("session-1")
	_, has := s.CurrentSticky("session-1")
	assert.False(t, has)
}

func TestPickEmptyPool(t *testing.T) {
	s := New(nil, nil, 0)
	_, _, ok := s.Pick("session-1", "m", allUsable)
	assert.False(t, ok)
}

// Package selector implements sticky-preference account selection: prefer
// the account used for the current session, only rotating when that
// account is unusable and a different one is free. Adapted from the
// round-robin rotation loop used across the account strategy package this
// project grew out of, collapsed to the single algorithm this system needs.
package selector

import (
	"sync"
	"time"

	"github.com/relaycc/cc-dispatch/internal/ledger"
)

// Usable reports whether account is eligible to serve model right now
// (enabled, credentials intact, not rate-limited for model).
type Usable func(account, model string) bool

// Selector picks an account for each dispatch, preferring the last account
// used (per sticky key, usually the session id) and only rotating away
// from it when it is no longer usable.
type Selector struct {
	mu          sync.Mutex
	accounts    []string
	activeIndex int
	sticky      map[string]string // stickyKey -> account email
	ledger      *ledger.Ledger
	maxWait     time.Duration
}

// New builds a Selector over the given account pool. maxWait bounds how
// long Pick will offer to wait on a still-bound sticky account before
// reporting no usable account at all (0 disables the wait offer).
func New(accounts []string, l *ledger.Ledger, maxWait time.Duration) *Selector {
	return &Selector{
		accounts: append([]string(nil), accounts...),
		sticky:   make(map[string]string),
		ledger:   l,
		maxWait:  maxWait,
	}
}

// SetAccounts replaces the pool, clamping activeIndex into range.
func (s *Selector) SetAccounts(accounts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append([]string(nil), accounts...)
	if s.activeIndex >= len(s.accounts) {
		s.activeIndex = 0
	}
	if s.activeIndex < 0 {
		s.activeIndex = 0
	}
}

// Pick returns the account to use for stickyKey+model, given usable to test
// eligibility. It implements getCurrentSticky -> pickSticky -> pickNext: if
// the sticky account is usable it is returned as-is; if not but another
// account is usable, it rotates to that one; if nothing else is usable but
// the sticky account's own rate limit clears within maxWait, it reports that
// wait instead of an account so the caller can sleep and retry the same
// account rather than failing outright.
func (s *Selector) Pick(stickyKey, model string, usable Usable) (account string, waitFor time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.accounts) == 0 {
		return "", 0, false
	}
	if s.activeIndex >= len(s.accounts) || s.activeIndex < 0 {
		s.activeIndex = 0
	}

	current, hasSticky := s.sticky[stickyKey]
	if hasSticky && usable(current, model) {
		return current, 0, true
	}

	if acct, idx, found := s.pickNextLocked(model, usable); found {
		s.activeIndex = idx
		s.sticky[stickyKey] = acct
		return acct, 0, true
	}

	if hasSticky && s.ledger != nil && s.maxWait > 0 {
		if wait, limited := s.ledger.RemainingWait(current, model); limited && wait > 0 && wait <= s.maxWait {
			return "", wait, false
		}
	}

	return "", 0, false
}

// GetCurrentSticky returns the account bound to stickyKey if it is usable
// right now, for use after a caller-driven wait (spec step 2: sleep, clear
// expired records, re-check the same sticky account before scanning further).
func (s *Selector) GetCurrentSticky(stickyKey, model string, usable Usable) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, has := s.sticky[stickyKey]
	if has && usable(current, model) {
		return current, true
	}
	return "", false
}

// PickNext scans the whole pool for a usable account, binding it as the new
// sticky account for stickyKey. Used after a caller-driven wait when even the
// sticky account is still unusable.
func (s *Selector) PickNext(stickyKey, model string, usable Usable) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.accounts) == 0 {
		return "", false
	}
	if acct, idx, found := s.pickNextLocked(model, usable); found {
		s.activeIndex = idx
		s.sticky[stickyKey] = acct
		return acct, true
	}
	return "", false
}

// pickNextLocked scans forward from activeIndex+1, wrapping once, for the
// first usable account. Caller must hold s.mu.
func (s *Selector) pickNextLocked(model string, usable Usable) (string, int, bool) {
	n := len(s.accounts)
	start := (s.activeIndex + 1) % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		acct := s.accounts[idx]
		if usable(acct, model) {
			return acct, idx, true
		}
	}
	return "", 0, false
}

// Release drops the sticky binding for stickyKey, e.g. once its session
// ends, so the slot can be reused by a future session without bias.
func (s *Selector) Release(stickyKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sticky, stickyKey)
}

// CurrentSticky returns the account currently bound to stickyKey, if any.
func (s *Selector) CurrentSticky(stickyKey string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.sticky[stickyKey]
	return acct, ok
}

// Package ledger tracks per-account, per-model rate-limit state in memory.
// It intentionally does not persist across process restarts or coordinate
// across processes — see the package-level Non-goal in SPEC_FULL.md.
package ledger

import (
	"sync"
	"time"

	"github.com/relaycc/cc-dispatch/internal/clock"
)

// Record is one (account, model) rate-limit entry.
type Record struct {
	IsRateLimited bool
	ResetTime     time.Time
}

type key struct {
	account string
	model   string
}

// Ledger is a mutex-guarded map of rate-limit records. The zero value is not
// usable; construct with New.
type Ledger struct {
	mu      sync.Mutex
	clock   clock.Clock
	records map[key]Record
}

// New builds a Ledger that reads the current time from c.
func New(c clock.Clock) *Ledger {
	return &Ledger{clock: c, records: make(map[key]Record)}
}

// MarkRateLimited records that account is rate-limited for model until
// resetAt.
func (l *Ledger) MarkRateLimited(account, model string, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[key{account, model}] = Record{IsRateLimited: true, ResetTime: resetAt}
}

// Clear removes any rate-limit record for account+model, e.g. after a
// successful response.
func (l *Ledger) Clear(account, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key{account, model})
}

// IsRateLimited reports whether account is currently rate-limited for model,
// lazily expiring the record if its reset time has passed.
func (l *Ledger) IsRateLimited(account, model string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isRateLimitedLocked(account, model)
}

func (l *Ledger) isRateLimitedLocked(account, model string) bool {
	k := key{account, model}
	rec, ok := l.records[k]
	if !ok || !rec.IsRateLimited {
		return false
	}
	if !l.clock.Now().Before(rec.ResetTime) {
		delete(l.records, k)
		return false
	}
	return true
}

// Available returns the subset of accounts that are not currently
// rate-limited for model, lazily expiring any record whose reset time has
// passed. This covers only the ledger's share of "usable" (no active
// limit) — enabled/invalid filtering lives on the account record itself
// and is applied by the caller (see selector.Usable).
func (l *Ledger) Available(accounts []string, model string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if !l.isRateLimitedLocked(a, model) {
			out = append(out, a)
		}
	}
	return out
}

// ResetAll clears every rate-limit record regardless of expiry. This is an
// optimistic manual override (e.g. an operator knows a provider-side quota
// reset early) distinct from ClearExpired, which only drops records whose
// reset time has actually passed.
func (l *Ledger) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[key]Record)
}

// AllRateLimited reports whether every account in accounts is currently
// rate-limited for model.
func (l *Ledger) AllRateLimited(accounts []string, model string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(accounts) == 0 {
		return false
	}
	for _, a := range accounts {
		if !l.isRateLimitedLocked(a, model) {
			return false
		}
	}
	return true
}

// MinWait returns the minimum duration until any of accounts becomes
// unblocked for model. It returns 0 if some account is already usable.
func (l *Ledger) MinWait(accounts []string, model string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	var min time.Duration = -1
	for _, a := range accounts {
		k := key{a, model}
		rec, ok := l.records[k]
		if !ok || !rec.IsRateLimited || !now.Before(rec.ResetTime) {
			return 0
		}
		wait := rec.ResetTime.Sub(now)
		if min < 0 || wait < min {
			min = wait
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// RemainingWait reports how long until account's rate limit for model
// clears, if it is currently limited.
func (l *Ledger) RemainingWait(account, model string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key{account, model}]
	if !ok || !rec.IsRateLimited {
		return 0, false
	}
	now := l.clock.Now()
	if !now.Before(rec.ResetTime) {
		return 0, false
	}
	return rec.ResetTime.Sub(now), true
}

// Snapshot returns every non-expired rate-limit record for account, keyed by
// model, for status reporting (e.g. the /health and /account-limits
// endpoints).
func (l *Ledger) Snapshot(account string) map[string]Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	out := make(map[string]Record)
	for k, rec := range l.records {
		if k.account != account || !rec.IsRateLimited || !now.Before(rec.ResetTime) {
			continue
		}
		out[k.model] = rec
	}
	return out
}

// ClearExpired drops every record whose reset time has passed, returning how
// many were removed. Called after a deliberate wait so the next selection
// pass sees a clean picture instead of relying purely on lazy expiry.
func (l *Ledger) ClearExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	removed := 0
	for k, rec := range l.records {
		if rec.IsRateLimited && !now.Before(rec.ResetTime) {
			delete(l.records, k)
			removed++
		}
	}
	return removed
}

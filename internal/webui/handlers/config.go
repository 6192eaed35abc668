// Package handlers provides HTTP handlers for the dashboard's read-only
// status API. The interactive configuration/strategy-editing surface the
// Node.js predecessor exposed here has no equivalent in this system: the
// account selection algorithm is fixed (sticky-preference, see
// internal/selector) and runtime tunables are edited via the config file
// and ANTIGRAVITY_* environment variables, not a web form.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaycc/cc-dispatch/internal/config"
	"github.com/relaycc/cc-dispatch/internal/ledger"
	"github.com/relaycc/cc-dispatch/internal/store"
)

// ConfigHandler serves the dashboard's read-only config and account-status
// views.
type ConfigHandler struct {
	cfg      *config.Config
	accounts *store.JSONStore
	ledger   *ledger.Ledger
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(cfg *config.Config, accounts *store.JSONStore, ledg *ledger.Ledger) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, accounts: accounts, ledger: ledg}
}

// GetConfig handles GET /api/config.
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"config":  h.cfg.GetPublic(),
		"version": config.Version,
		"note":    "edit the account config file or ANTIGRAVITY_* env vars to change these values",
	})
}

// GetAccounts handles GET /api/accounts - a summary view for the dashboard,
// distinct from /account-limits' quota-fetching detail view in that it never
// makes an outbound network call.
func (h *ConfigHandler) GetAccounts(c *gin.Context) {
	cfg, err := h.accounts.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}

	type summary struct {
		Email       string `json:"email"`
		Source      string `json:"source"`
		Enabled     bool   `json:"enabled"`
		Invalid     bool   `json:"invalid"`
		RateLimited bool   `json:"rateLimited"`
		LastUsed    string `json:"lastUsed,omitempty"`
	}

	out := make([]summary, 0, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		s := summary{
			Email:   acc.Email,
			Source:  string(acc.Source),
			Enabled: acc.Enabled,
			Invalid: acc.Invalid,
		}
		if !acc.LastUsed.IsZero() {
			s.LastUsed = acc.LastUsed.Format(time.RFC3339)
		}
		if acc.Enabled && !acc.Invalid {
			s.RateLimited = len(h.ledger.Snapshot(acc.Email)) > 0
		}
		out = append(out, s)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "accounts": out})
}

// ResetRateLimits handles POST /api/rate-limits/reset, the operator's
// manual override for the ledger's rate-limit state: it clears every
// record regardless of expiry, for the case where a provider-side quota
// is known to have reset early. This is the only surface that calls
// ledger.ResetAll; everywhere else records only clear by expiry
// (ClearExpired/lazy) or on a fresh 2xx (Clear).
func (h *ConfigHandler) ResetRateLimits(c *gin.Context) {
	h.ledger.ResetAll()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "note": "all rate-limit records cleared"})
}

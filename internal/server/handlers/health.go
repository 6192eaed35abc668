// Package handlers provides HTTP request handlers for the server.
// This file handles health check and account-status endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaycc/cc-dispatch/internal/credentials"
	"github.com/relaycc/cc-dispatch/internal/ledger"
	"github.com/relaycc/cc-dispatch/internal/projects"
	"github.com/relaycc/cc-dispatch/internal/store"
)

// HealthHandler serves the proxy's own health and per-account status.
type HealthHandler struct {
	accounts *store.JSONStore
	ledger   *ledger.Ledger
	creds    *credentials.Store
	projects *projects.Resolver
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(accounts *store.JSONStore, ledg *ledger.Ledger, creds *credentials.Store, proj *projects.Resolver) *HealthHandler {
	return &HealthHandler{accounts: accounts, ledger: ledg, creds: creds, projects: proj}
}

// Health handles GET /health - a lightweight liveness probe.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// AccountLimits handles GET /account-limits - per-account rate-limit and
// quota status, used by the dashboard and by operators diagnosing why a
// request is falling back or waiting.
func (h *HealthHandler) AccountLimits(c *gin.Context) {
	start := time.Now()

	cfg, err := h.accounts.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"type": "error",
			"error": gin.H{"type": "api_error", "message": err.Error()},
		})
		return
	}

	type accountDetail struct {
		Email           string                 `json:"email"`
		Status          string                 `json:"status"`
		Error           string                 `json:"error,omitempty"`
		LastUsed        string                 `json:"lastUsed,omitempty"`
		ModelRateLimits map[string]interface{} `json:"modelRateLimits,omitempty"`
		Models          map[string]interface{} `json:"models,omitempty"`
	}

	details := make([]accountDetail, 0, len(cfg.Accounts))
	available, rateLimited, invalid := 0, 0, 0

	ctx := c.Request.Context()
	for _, acc := range cfg.Accounts {
		detail := accountDetail{
			Email:           acc.Email,
			ModelRateLimits: make(map[string]interface{}),
			Models:          make(map[string]interface{}),
		}
		if !acc.LastUsed.IsZero() {
			detail.LastUsed = acc.LastUsed.Format(time.RFC3339)
		}

		if !acc.Enabled {
			detail.Status = "disabled"
			details = append(details, detail)
			continue
		}
		if acc.Invalid {
			detail.Status = "invalid"
			detail.Error = acc.InvalidReason
			invalid++
			details = append(details, detail)
			continue
		}

		snapshot := h.ledger.Snapshot(acc.Email)
		isRateLimited := len(snapshot) > 0
		for model, rec := range snapshot {
			detail.ModelRateLimits[model] = map[string]interface{}{
				"isRateLimited": rec.IsRateLimited,
				"resetTime":     rec.ResetTime.UnixMilli(),
			}
		}

		token, err := h.creds.AccessToken(ctx, &acc)
		if err != nil {
			detail.Status = "error"
			detail.Error = err.Error()
			details = append(details, detail)
			continue
		}
		projectID, err := h.projects.Resolve(ctx, acc.Email, token, acc.ProjectID)
		if err != nil {
			detail.Status = "error"
			detail.Error = err.Error()
			details = append(details, detail)
			continue
		}

		_, quotas, err := projects.FetchAvailableModels(ctx, nil, token, projectID)
		if err == nil {
			for modelID, q := range quotas {
				detail.Models[modelID] = map[string]interface{}{
					"remainingFraction": q.RemainingFraction,
					"resetTime":         q.ResetTime,
				}
			}
		}

		if isRateLimited {
			detail.Status = "rate-limited"
			rateLimited++
		} else {
			detail.Status = "ok"
			available++
		}
		details = append(details, detail)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"latencyMs": time.Since(start).Milliseconds(),
		"counts": gin.H{
			"total":       len(cfg.Accounts),
			"available":   available,
			"rateLimited": rateLimited,
			"invalid":     invalid,
		},
		"accounts": details,
	})
}

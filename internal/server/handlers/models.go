// Package handlers provides HTTP request handlers for the server.
// This file handles the model listing endpoint.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaycc/cc-dispatch/internal/apierrors"
	"github.com/relaycc/cc-dispatch/internal/credentials"
	"github.com/relaycc/cc-dispatch/internal/ledger"
	"github.com/relaycc/cc-dispatch/internal/projects"
	"github.com/relaycc/cc-dispatch/internal/store"
	"github.com/relaycc/cc-dispatch/internal/utils"
)

// ModelsHandler serves GET /v1/models by borrowing any usable account's
// token just long enough to ask the backend what it currently offers.
type ModelsHandler struct {
	accounts *store.JSONStore
	ledger   *ledger.Ledger
	creds    *credentials.Store
	projects *projects.Resolver
}

// NewModelsHandler creates a new ModelsHandler.
func NewModelsHandler(accounts *store.JSONStore, ledg *ledger.Ledger, creds *credentials.Store, proj *projects.Resolver) *ModelsHandler {
	return &ModelsHandler{accounts: accounts, ledger: ledg, creds: creds, projects: proj}
}

// ListModels handles GET /v1/models.
func (h *ModelsHandler) ListModels(c *gin.Context) {
	ctx := c.Request.Context()

	cfg, err := h.accounts.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierrors.FormatAPIError(apierrors.NewUpstream5xxError(err.Error(), http.StatusInternalServerError)))
		return
	}

	var chosen *store.Account
	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		if acc.Enabled && !acc.Invalid {
			chosen = acc
			break
		}
	}
	if chosen == nil {
		c.JSON(http.StatusServiceUnavailable, apierrors.FormatAPIError(apierrors.NewNoAccountsAvailableError(false, 0)))
		return
	}

	token, err := h.creds.AccessToken(ctx, chosen)
	if err != nil {
		utils.Error("[API] error getting token for models: %v", err)
		c.JSON(apierrors.HTTPStatusFromError(err), apierrors.FormatAPIError(err))
		return
	}

	projectID, err := h.projects.Resolve(ctx, chosen.Email, token, chosen.ProjectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierrors.FormatAPIError(apierrors.NewUpstream5xxError(err.Error(), http.StatusInternalServerError)))
		return
	}

	models, _, err := projects.FetchAvailableModels(ctx, nil, token, projectID)
	if err != nil {
		utils.Error("[API] error listing models: %v", err)
		c.JSON(http.StatusInternalServerError, apierrors.FormatAPIError(apierrors.NewUpstream5xxError(err.Error(), http.StatusInternalServerError)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"object": "list", "data": models})
}

// Package auth implements the OAuth token-exchange call against Google's
// token endpoint. The interactive authorization-code / browser-callback
// flow is intentionally not implemented here — see SPEC_FULL.md.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/relaycc/cc-dispatch/internal/apierrors"
	"github.com/relaycc/cc-dispatch/internal/config"
)

// RefreshParts are the components of a composite refresh token string, in
// the form "refreshToken|projectId|managedProjectId".
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ParseRefreshParts splits a composite refresh token into its parts.
func ParseRefreshParts(composite string) RefreshParts {
	parts := strings.Split(composite, "|")
	out := RefreshParts{}
	if len(parts) > 0 {
		out.RefreshToken = parts[0]
	}
	if len(parts) > 1 {
		out.ProjectID = parts[1]
	}
	if len(parts) > 2 {
		out.ManagedProjectID = parts[2]
	}
	return out
}

// RefreshResult is the outcome of a successful token refresh.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int
}

// RefreshAccessToken exchanges a (possibly composite) refresh token for a
// fresh access token. Network-level failures are returned as
// *apierrors.AuthNetworkError (retryable, possibly with a different
// account); a rejected grant is returned as *apierrors.AuthInvalidError
// (not retryable — the credential itself is bad).
func RefreshAccessToken(ctx context.Context, accountEmail, compositeRefresh string) (*RefreshResult, error) {
	parts := ParseRefreshParts(compositeRefresh)
	if parts.RefreshToken == "" {
		return nil, apierrors.NewAuthInvalidError("no refresh token on account", accountEmail)
	}

	form := url.Values{
		"client_id":     {config.OAuthClientID},
		"client_secret": {config.OAuthClientSecret},
		"refresh_token": {parts.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.OAuthTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apierrors.NewAuthNetworkError(err.Error(), accountEmail)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, apierrors.NewAuthNetworkError(fmt.Sprintf("token refresh request failed: %v", err), accountEmail)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierrors.NewAuthNetworkError(fmt.Sprintf("reading token refresh response: %v", err), accountEmail)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, apierrors.NewAuthInvalidError(fmt.Sprintf("token refresh rejected: %s", string(body)), accountEmail)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, apierrors.NewAuthNetworkError(fmt.Sprintf("token endpoint returned %d", resp.StatusCode), accountEmail)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierrors.NewAuthInvalidError(fmt.Sprintf("token refresh failed with status %d: %s", resp.StatusCode, string(body)), accountEmail)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apierrors.NewAuthInvalidError(fmt.Sprintf("malformed token response: %v", err), accountEmail)
	}
	if parsed.AccessToken == "" {
		return nil, apierrors.NewAuthInvalidError("token response missing access_token", accountEmail)
	}

	return &RefreshResult{AccessToken: parsed.AccessToken, ExpiresIn: parsed.ExpiresIn}, nil
}

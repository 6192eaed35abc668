package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/relaycc/cc-dispatch/internal/config"
	"github.com/relaycc/cc-dispatch/pkg/anthropic"
)

// ModelQuota is one model's remaining-quota reading from fetchAvailableModels.
type ModelQuota struct {
	RemainingFraction *float64 `json:"remainingFraction,omitempty"`
	ResetTime         *string  `json:"resetTime,omitempty"`
}

// FetchAvailableModels calls the backend's fetchAvailableModels endpoint and
// returns the advertised model list alongside each model's quota reading, so
// the ambient /v1/models and /account-limits handlers can surface them
// without duplicating the dispatcher's own retry/fallback machinery — a
// single best-effort call across the endpoint fallback list is enough for a
// read-only listing.
func FetchAvailableModels(ctx context.Context, httpClient *http.Client, accessToken, projectID string) ([]anthropic.ModelInfo, map[string]ModelQuota, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var lastErr error
	for _, endpoint := range config.EndpointFallbacks {
		models, quotas, err := tryFetchAvailableModels(ctx, httpClient, endpoint, accessToken, projectID)
		if err != nil {
			lastErr = err
			continue
		}
		return models, quotas, nil
	}
	return nil, nil, fmt.Errorf("fetchAvailableModels failed on all endpoints: %w", lastErr)
}

func tryFetchAvailableModels(ctx context.Context, httpClient *http.Client, endpoint, accessToken, projectID string) ([]anthropic.ModelInfo, map[string]ModelQuota, error) {
	body, err := json.Marshal(map[string]any{"project": projectID})
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1internal:fetchAvailableModels", strings.NewReader(string(body)))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.PlatformHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetchAvailableModels at %s returned %d", endpoint, resp.StatusCode)
	}

	var parsed struct {
		Models []struct {
			Name              string   `json:"name"`
			DisplayName       string   `json:"displayName"`
			RemainingFraction *float64 `json:"remainingFraction"`
			ResetTime         *string  `json:"resetTime"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil, err
	}

	models := make([]anthropic.ModelInfo, 0, len(parsed.Models))
	quotas := make(map[string]ModelQuota, len(parsed.Models))
	for _, m := range parsed.Models {
		id := m.Name
		models = append(models, anthropic.ModelInfo{ID: id, DisplayName: m.DisplayName, Type: "model"})
		quotas[id] = ModelQuota{RemainingFraction: m.RemainingFraction, ResetTime: m.ResetTime}
	}
	return models, quotas, nil
}

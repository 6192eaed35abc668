// Package projects resolves the Cloud Code project id associated with an
// account's access token, caching results and falling back across
// endpoints and finally to a configured default.
package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/relaycc/cc-dispatch/internal/config"
)

// Persister optionally backs the project cache with a durable store.
type Persister interface {
	GetProject(ctx context.Context, email string) (projectID string, ok bool)
	SetProject(ctx context.Context, email, projectID string)
}

// Resolver resolves and caches project IDs keyed by account email.
type Resolver struct {
	mu         sync.RWMutex
	httpClient *http.Client
	cache      map[string]string
	persister  Persister
	defaultID  string
}

// New builds a Resolver. defaultID is returned when discovery fails
// entirely, matching the Node.js predecessor's DefaultProjectID fallback.
func New(httpClient *http.Client, persister Persister, defaultID string) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if defaultID == "" {
		defaultID = config.DefaultProjectID
	}
	return &Resolver{
		httpClient: httpClient,
		cache:      make(map[string]string),
		persister:  persister,
		defaultID:  defaultID,
	}
}

// Resolve returns the project id for accessToken, identified in the cache
// by accountEmail. If an explicit projectID was already configured on the
// account it is returned unchanged (and cached) without a network call.
func (r *Resolver) Resolve(ctx context.Context, accountEmail, accessToken, configuredProjectID string) (string, error) {
	if configuredProjectID != "" {
		r.put(accountEmail, configuredProjectID)
		return configuredProjectID, nil
	}

	r.mu.RLock()
	cached, ok := r.cache[accountEmail]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if r.persister != nil {
		if pid, ok := r.persister.GetProject(ctx, accountEmail); ok && pid != "" {
			r.put(accountEmail, pid)
			return pid, nil
		}
	}

	for _, endpoint := range config.LoadCodeAssistEndpoints {
		projectID, err := r.tryLoadCodeAssist(ctx, endpoint, accessToken)
		if err != nil {
			continue
		}
		if projectID != "" {
			r.put(accountEmail, projectID)
			if r.persister != nil {
				r.persister.SetProject(ctx, accountEmail, projectID)
			}
			return projectID, nil
		}
	}

	r.put(accountEmail, r.defaultID)
	return r.defaultID, nil
}

func (r *Resolver) put(email, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[email] = projectID
}

// Invalidate drops the cached project id for email, forcing the next
// Resolve call to re-derive it (e.g. after a 401 suggests stale
// credentials invalidated whatever project the old token was scoped to).
func (r *Resolver) Invalidate(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, email)
}

func (r *Resolver) tryLoadCodeAssist(ctx context.Context, endpoint, accessToken string) (string, error) {
	body := map[string]any{
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1internal:loadCodeAssist", strings.NewReader(string(payload)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.PlatformHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("loadCodeAssist at %s returned %d", endpoint, resp.StatusCode)
	}

	var parsed struct {
		CloudAICompanionProject json.RawMessage `json:"cloudaicompanionProject"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}

	var asString string
	if json.Unmarshal(parsed.CloudAICompanionProject, &asString) == nil && asString != "" {
		return asString, nil
	}
	var asObject struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(parsed.CloudAICompanionProject, &asObject) == nil && asObject.ID != "" {
		return asObject.ID, nil
	}

	return "", nil
}

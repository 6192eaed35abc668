// Package cache adapts pkg/redis onto the credentials.Persister and
// projects.Persister interfaces, so the token and project caches can
// optionally survive a process restart. Grounded on the GetCachedToken/
// SetCachedToken/GetCachedProject/SetCachedProject helpers this project's
// Redis storage layer originally exposed directly on the account store.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relaycc/cc-dispatch/internal/utils"
	"github.com/relaycc/cc-dispatch/pkg/redis"
)

// RedisTokenCache implements credentials.Persister.
type RedisTokenCache struct {
	client *redis.Client
}

// NewRedisTokenCache wraps client for token-cache persistence.
func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

type tokenRecord struct {
	AccessToken string    `json:"accessToken"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// GetToken implements credentials.Persister.
func (c *RedisTokenCache) GetToken(ctx context.Context, email string) (string, time.Time, bool) {
	raw, err := c.client.GetString(ctx, redis.PrefixTokenCache+email)
	if err != nil {
		if !redis.IsNil(err) {
			utils.Debug("[Cache] token cache read failed for %s: %v", email, err)
		}
		return "", time.Time{}, false
	}
	var rec tokenRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return "", time.Time{}, false
	}
	return rec.AccessToken, rec.ExtractedAt, true
}

// SetToken implements credentials.Persister.
func (c *RedisTokenCache) SetToken(ctx context.Context, email, token string, ttl time.Duration) {
	data, err := json.Marshal(tokenRecord{AccessToken: token, ExtractedAt: time.Now()})
	if err != nil {
		return
	}
	if err := c.client.SetString(ctx, redis.PrefixTokenCache+email, string(data), ttl); err != nil {
		utils.Debug("[Cache] token cache write failed for %s: %v", email, err)
	}
}

// RedisProjectCache implements projects.Persister.
type RedisProjectCache struct {
	client *redis.Client
}

// NewRedisProjectCache wraps client for project-cache persistence.
func NewRedisProjectCache(client *redis.Client) *RedisProjectCache {
	return &RedisProjectCache{client: client}
}

// GetProject implements projects.Persister.
func (c *RedisProjectCache) GetProject(ctx context.Context, email string) (string, bool) {
	projectID, err := c.client.GetString(ctx, redis.PrefixProjectCache+email)
	if err != nil {
		return "", false
	}
	return projectID, projectID != ""
}

// SetProject implements projects.Persister.
func (c *RedisProjectCache) SetProject(ctx context.Context, email, projectID string) {
	if err := c.client.SetString(ctx, redis.PrefixProjectCache+email, projectID, 0); err != nil {
		utils.Debug("[Cache] project cache write failed for %s: %v", email, err)
	}
}

package credentials

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycc/cc-dispatch/internal/apierrors"
	"github.com/relaycc/cc-dispatch/internal/clock"
	"github.com/relaycc/cc-dispatch/internal/config"
	"github.com/relaycc/cc-dispatch/internal/store"
)

func withOAuthServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	prevURL := config.OAuthTokenURL
	config.OAuthTokenURL = srv.URL
	t.Cleanup(func() { config.OAuthTokenURL = prevURL })
}

func TestAccessTokenManualSource(t *testing.T) {
	c := clock.NewFake(time.Now())
	s := New(c, time.Minute, nil)

	acc := &store.Account{Email: "a@x.com", Source: store.SourceManual, APIKey: "sk-manual"}
	tok, err := s.AccessToken(t.Context(), acc)
	require.NoError(t, err)
	assert.Equal(t, "sk-manual", tok)
}

func TestAccessTokenOAuthRefreshAndCache(t *testing.T) {
	calls := 0
	withOAuthServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
	})

	c := clock.NewFake(time.Now())
	s := New(c, time.Minute, nil)
	acc := &store.Account{Email: "a@x.com", Source: store.SourceOAuth, RefreshToken: "refresh-abc"}

	tok, err := s.AccessToken(t.Context(), acc)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, calls)

	// Cache hit: second call inside TTL must not re-exchange (P8).
	tok2, err := s.AccessToken(t.Context(), acc)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok2)
	assert.Equal(t, 1, calls, "cached token must not trigger a second refresh")
}

func TestAccessTokenReExchangesAfterTTL(t *testing.T) {
	calls := 0
	withOAuthServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})

	c := clock.NewFake(time.Now())
	s := New(c, 5*time.Second, nil)
	acc := &store.Account{Email: "a@x.com", Source: store.SourceOAuth, RefreshToken: "refresh-abc"}

	_, err := s.AccessToken(t.Context(), acc)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	c.Advance(10 * time.Second)
	_, err = s.AccessToken(t.Context(), acc)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expired cache entry must re-exchange (P8)")
}

func TestAccessTokenInvalidateForcesReExchange(t *testing.T) {
	calls := 0
	withOAuthServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})

	c := clock.NewFake(time.Now())
	s := New(c, time.Minute, nil)
	acc := &store.Account{Email: "a@x.com", Source: store.SourceOAuth, RefreshToken: "refresh-abc"}

	_, err := s.AccessToken(t.Context(), acc)
	require.NoError(t, err)
	s.Invalidate("a@x.com")
	_, err = s.AccessToken(t.Context(), acc)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

// P9: a rejected grant (400/401) surfaces AuthInvalidError, not a network error.
func TestAccessTokenRejectedGrantIsAuthInvalid(t *testing.T) {
	withOAuthServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	c := clock.NewFake(time.Now())
	s := New(c, time.Minute, nil)
	acc := &store.Account{Email: "a@x.com", Source: store.SourceOAuth, RefreshToken: "refresh-abc"}

	_, err := s.AccessToken(t.Context(), acc)
	require.Error(t, err)
	var authErr *apierrors.AuthInvalidError
	assert.ErrorAs(t, err, &authErr)
}

// P9: a 5xx from the token endpoint surfaces AuthNetworkError (transient).
func TestAccessTokenServerErrorIsAuthNetwork(t *testing.T) {
	withOAuthServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	c := clock.NewFake(time.Now())
	s := New(c, time.Minute, nil)
	acc := &store.Account{Email: "a@x.com", Source: store.SourceOAuth, RefreshToken: "refresh-abc"}

	_, err := s.AccessToken(t.Context(), acc)
	require.Error(t, err)
	var netErr *apierrors.AuthNetworkError
	assert.ErrorAs(t, err, &netErr)
}

package projects

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycc/cc-dispatch/internal/config"
)

func withLoadCodeAssistEndpoints(t *testing.T, endpoints []string) {
	t.Helper()
	prev := config.LoadCodeAssistEndpoints
	config.LoadCodeAssistEndpoints = endpoints
	t.Cleanup(func() { config.LoadCodeAssistEndpoints = prev })
}

func TestResolveConfiguredProjectIDShortCircuits(t *testing.T) {
	r := New(nil, nil, "default-proj")
	id, err := r.Resolve(t.Context(), "a@x.com", "tok", "explicit-proj")
	require.NoError(t, err)
	assert.Equal(t, "explicit-proj", id)
}

func TestResolveCachesAcrossCalls(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cloudaicompanionProject":"proj-from-backend"}`))
	}))
	defer srv.Close()
	withLoadCodeAssistEndpoints(t, []string{srv.URL})

	r := New(nil, nil, "default-proj")
	id, err := r.Resolve(t.Context(), "a@x.com", "tok", "")
	require.NoError(t, err)
	assert.Equal(t, "proj-from-backend", id)

	id2, err := r.Resolve(t.Context(), "a@x.com", "tok", "")
	require.NoError(t, err)
	assert.Equal(t, "proj-from-backend", id2)
	assert.Equal(t, 1, calls, "second resolve must hit the cache, not the backend")
}

func TestResolveAcceptsObjectShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cloudaicompanionProject":{"id":"proj-obj"}}`))
	}))
	defer srv.Close()
	withLoadCodeAssistEndpoints(t, []string{srv.URL})

	r := New(nil, nil, "default-proj")
	id, err := r.Resolve(t.Context(), "a@x.com", "tok", "")
	require.NoError(t, err)
	assert.Equal(t, "proj-obj", id)
}

func TestResolveFallsBackAcrossEndpoints(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cloudaicompanionProject":"proj-good"}`))
	}))
	defer good.Close()
	withLoadCodeAssistEndpoints(t, []string{bad.URL, good.URL})

	r := New(nil, nil, "default-proj")
	id, err := r.Resolve(t.Context(), "a@x.com", "tok", "")
	require.NoError(t, err)
	assert.Equal(t, "proj-good", id)
}

func TestResolveDefaultsWhenAllEndpointsFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	withLoadCodeAssistEndpoints(t, []string{bad.URL})

	r := New(nil, nil, "default-proj")
	id, err := r.Resolve(t.Context(), "a@x.com", "tok", "")
	require.NoError(t, err)
	assert.Equal(t, "default-proj", id)
}

func TestInvalidateClearsCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cloudaicompanionProject":"proj"}`))
	}))
	defer srv.Close()
	withLoadCodeAssistEndpoints(t, []string{srv.URL})

	r := New(nil, nil, "default-proj")
	_, err := r.Resolve(t.Context(), "a@x.com", "tok", "")
	require.NoError(t, err)
	r.Invalidate("a@x.com")
	_, err = r.Resolve(t.Context(), "a@x.com", "tok", "")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dust.evalgo.org/project"
)

func TestRequestHashStable(t *testing.T) {
	a, err := NewRequest("GET", "https://example.com/x", map[string]string{"A": "1"}, nil)
	require.NoError(t, err)
	b, err := NewRequest("get", "https://example.com/x", map[string]string{"A": "1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash())

	c, err := NewRequest("GET", "https://example.com/y", map[string]string{"A": "1"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), c.Hash())

	d, err := NewRequest("GET", "https://example.com/x", map[string]string{"A": "2"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), d.Hash())
}

func TestRequestValidation(t *testing.T) {
	_, err := NewRequest("", "https://example.com", nil, nil)
	assert.Error(t, err)
	_, err = NewRequest("GET", "", nil, nil)
	assert.Error(t, err)
}

// memoryCache is an in-memory Cache for exercising ExecuteWithCache.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]*Response
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]*Response{}}
}

func (c *memoryCache) HTTPCacheGet(ctx context.Context, p project.Project, req *Request) ([]*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[req.Hash()], nil
}

func (c *memoryCache) HTTPCacheStore(ctx context.Context, p project.Project, req *Request, resp *Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[req.Hash()] = append([]*Response{resp}, c.entries[req.Hash()]...)
	return nil
}

func TestExecuteWithCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cache := newMemoryCache()
	p := project.Project{ID: 1}

	req, err := NewRequest("GET", srv.URL, nil, nil)
	require.NoError(t, err)

	resp, err := req.ExecuteWithCache(context.Background(), p, cache, true)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, map[string]interface{}{"ok": true}, resp.Body)
	assert.Equal(t, 1, hits)

	// Second call is served from the cache.
	resp, err = req.ExecuteWithCache(context.Background(), p, cache, true)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, 1, hits)

	// use_cache=false bypasses the read but still persists.
	_, err = req.ExecuteWithCache(context.Background(), p, cache, false)
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}

func TestExecuteSurfacesAnyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer srv.Close()

	req, err := NewRequest("GET", srv.URL, nil, nil)
	require.NoError(t, err)

	resp, err := req.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.Equal(t, "short and stout", resp.Body)
}

// Package web implements outbound HTTP for the `curl` and `search` blocks:
// a request shape with a canonical content hash and execution with a
// project-partitioned response cache.
package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"dust.evalgo.org/common"
	"dust.evalgo.org/project"
)

// Request is an outbound HTTP request. Headers and Body participate in the
// content hash, so two requests with identical fields share a cache entry.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    interface{}       `json:"body"`

	hash string
}

// Response is a cached or fresh HTTP response. Body holds parsed JSON when
// the payload is valid JSON, the raw string otherwise.
type Response struct {
	CreatedAt int64       `json:"created"`
	Status    int         `json:"status"`
	Body      interface{} `json:"body"`
}

// Cache is the slice of the store the request layer needs. Responses are
// partitioned by project; the most recent response for a hash is preferred.
type Cache interface {
	HTTPCacheGet(ctx context.Context, p project.Project, req *Request) ([]*Response, error)
	HTTPCacheStore(ctx context.Context, p project.Project, req *Request, resp *Response) error
}

// NewRequest builds a request and computes its content hash.
func NewRequest(method, url string, headers map[string]string, body interface{}) (*Request, error) {
	if method == "" {
		return nil, fmt.Errorf("HTTP method is required")
	}
	if url == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if headers == nil {
		headers = map[string]string{}
	}
	r := &Request{
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: headers,
		Body:    body,
	}

	h := common.NewHasher()
	h.UpdateString("http_request")
	h.UpdateString(r.Method)
	h.UpdateString(r.URL)
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.UpdateString(k)
		h.UpdateString(headers[k])
	}
	bodyJSON, err := common.CanonicalJSON(body)
	if err != nil {
		return nil, err
	}
	h.Update(bodyJSON)
	r.hash = h.Finalize()
	return r, nil
}

// Hash returns the request's content hash, the HTTP cache key.
func (r *Request) Hash() string {
	return r.hash
}

// Client is the shared HTTP client for block execution. Provider and HTTP
// calls inherit its timeout; there is no additional engine-level deadline.
var Client = &http.Client{
	Timeout: 60 * time.Second,
}

// Execute issues the request and returns the response regardless of status.
// The caller decides whether a non-2xx status is an error.
func (r *Request) Execute(ctx context.Context) (*Response, error) {
	var bodyReader io.Reader
	switch b := r.Body.(type) {
	case nil:
		bodyReader = nil
	case string:
		if b != "" {
			bodyReader = strings.NewReader(b)
		}
	default:
		raw, err := common.CanonicalJSON(b)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for k, v := range r.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body interface{}
	if parsed, perr := common.ParseJSON(raw); perr == nil {
		body = parsed
	} else {
		body = string(raw)
	}

	return &Response{
		CreatedAt: time.Now().UnixMilli(),
		Status:    resp.StatusCode,
		Body:      body,
	}, nil
}

// ExecuteWithCache returns the most recent cached response for this request
// when useCache is set, issuing and caching a fresh call otherwise. Responses
// are persisted whatever their status.
func (r *Request) ExecuteWithCache(
	ctx context.Context,
	p project.Project,
	cache Cache,
	useCache bool,
) (*Response, error) {
	if useCache {
		cached, err := cache.HTTPCacheGet(ctx, p, r)
		if err != nil {
			return nil, common.Fatal(err)
		}
		if len(cached) > 0 {
			return cached[0], nil
		}
	}

	resp, err := r.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.HTTPCacheStore(ctx, p, r, resp); err != nil {
		return nil, common.Fatal(err)
	}
	return resp, nil
}

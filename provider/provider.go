// Package provider defines the LLM capability exposed to blocks: a request
// and generation shape with a canonical content hash, a single-method
// generation interface, and a registry of named provider factories. Concrete
// provider integrations register themselves here; the engine only ever sees
// the LLM interface.
package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"dust.evalgo.org/common"
	"golang.org/x/time/rate"
)

// LLMRequest is a fully-resolved generation request. Field order is
// significant for hashing: two requests with identical fields share a hash.
type LLMRequest struct {
	ProviderID  string   `json:"provider_id"`
	ModelID     string   `json:"model_id"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

// Hash returns the canonical content hash of the request, used as the LLM
// cache key. Fields contribute in declaration order.
func (r *LLMRequest) Hash() string {
	h := common.NewHasher()
	h.UpdateString("llm_request")
	h.UpdateString(r.ProviderID)
	h.UpdateString(r.ModelID)
	h.UpdateString(r.Prompt)
	h.UpdateString(strconv.Itoa(r.MaxTokens))
	h.UpdateString(strconv.FormatFloat(r.Temperature, 'f', -1, 64))
	h.UpdateString(strings.Join(r.Stop, "\x00"))
	return h.Finalize()
}

// LLMGeneration is the outcome of a generation call.
type LLMGeneration struct {
	CreatedAt  int64  `json:"created"`
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// LLM is the abstract generation capability. Implementations own transport,
// authentication and retries.
type LLM interface {
	Generate(ctx context.Context, req *LLMRequest) (*LLMGeneration, error)
}

// Factory builds a provider from the run's credential snapshot.
type Factory func(credentials map[string]string) (LLM, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs a provider factory under an id. Later registrations
// replace earlier ones, which tests rely on to install stubs.
func Register(providerID string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[providerID] = f
}

// New instantiates the provider registered under providerID.
func New(providerID string, credentials map[string]string) (LLM, error) {
	mu.RLock()
	f, ok := factories[providerID]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider `%s`", providerID)
	}
	return f(credentials)
}

// RateLimited wraps an LLM with a client-side request rate limit. Generation
// calls block until the limiter grants a slot or the context is canceled.
func RateLimited(inner LLM, requestsPerSecond float64, burst int) LLM {
	return &rateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

type rateLimited struct {
	inner   LLM
	limiter *rate.Limiter
}

func (l *rateLimited) Generate(ctx context.Context, req *LLMRequest) (*LLMGeneration, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	g, err := l.inner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if g.CreatedAt == 0 {
		g.CreatedAt = time.Now().UnixMilli()
	}
	return g, nil
}

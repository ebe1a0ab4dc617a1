package channel

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"notification-orchestrator/internal/domain"
)

// Request carries everything an adapter needs for one send. Rendering has
// already happened; adapters never touch templates.
type Request struct {
	DeliveryID    string
	TenantID      string
	RecipientAddr string
	Subject       string
	BodyText      string
	BodyHTML      string
	BodyJSON      map[string]any
}

// Result classifies one delivery attempt. ErrorCategory is only meaningful
// when Success is false.
type Result struct {
	Success       bool
	Status        string
	ExternalID    string
	ErrorCategory domain.ErrorCategory
	Err           error
}

func failure(category domain.ErrorCategory, err error) Result {
	return Result{Success: false, Status: "failed", ErrorCategory: category, Err: err}
}

// Adapter is one delivery channel/provider. ValidateConfig and HealthCheck
// are synchronous and side-effect-free; they never perform a live send.
type Adapter interface {
	Code() string
	Deliver(ctx context.Context, req Request) Result
	ValidateConfig() error
	HealthCheck() error
}

// Registry maps provider codes to adapters. It is populated once at startup
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Code()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(code string) (Adapter, error) {
	a, ok := r.adapters[code]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", code)
	}
	return a, nil
}

func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// HealthChecks runs every adapter's health check and returns the failures
// keyed by provider code.
func (r *Registry) HealthChecks() map[string]error {
	failures := make(map[string]error)
	for code, a := range r.adapters {
		if err := a.HealthCheck(); err != nil {
			failures[code] = err
		}
	}
	return failures
}

// classifyHTTPStatus maps a provider HTTP status to the four error
// categories: 429 rate_limit, 401/403 auth, 5xx transient, other 4xx
// permanent.
func classifyHTTPStatus(status int) domain.ErrorCategory {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrAuth
	case status >= 500:
		return domain.ErrTransient
	default:
		return domain.ErrPermanent
	}
}

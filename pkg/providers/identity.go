package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// HTTPClient interface for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrNoIdentityURL is returned when a provider declares no account probe.
var ErrNoIdentityURL = errors.New("provider has no identity endpoint")

// maxIdentityBody bounds how much of an identity response is read.
const maxIdentityBody = 1 << 20

// IdentityProber looks up the external account behind a token.
type IdentityProber interface {
	// Probe calls the provider's identity endpoint with token as a bearer credential.
	Probe(ctx context.Context, def *models.ProviderDefinition, token string) (*models.AccountIdentity, error)
}

// BreakerSettings tunes the per-provider circuit breakers.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerSettings trips after 5 consecutive failures and retries after 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         1,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

type identityProber struct {
	httpClient HTTPClient
	settings   BreakerSettings
	logger     *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

var _ IdentityProber = (*identityProber)(nil)

// NewIdentityProber creates a prober guarded by one circuit breaker per provider.
func NewIdentityProber(httpClient HTTPClient, settings BreakerSettings, logger *zap.Logger) IdentityProber {
	return &identityProber{
		httpClient: httpClient,
		settings:   settings,
		logger:     logger.Named("identity_probe"),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (p *identityProber) breaker(providerID string) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[providerID]; ok {
		return cb
	}
	threshold := p.settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "identity-" + providerID,
		MaxRequests: p.settings.MaxRequests,
		Interval:    p.settings.Interval,
		Timeout:     p.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("Identity probe circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	p.breakers[providerID] = cb
	return cb
}

func (p *identityProber) Probe(ctx context.Context, def *models.ProviderDefinition, token string) (*models.AccountIdentity, error) {
	if def.IdentityURL == "" {
		return nil, ErrNoIdentityURL
	}
	result, err := p.breaker(def.ID).Execute(func() (interface{}, error) {
		return fetchIdentity(ctx, p.httpClient, def, token)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.AccountIdentity), nil
}

// IdentityStatusError reports a non-2xx identity response.
type IdentityStatusError struct {
	StatusCode int
	Body       string
}

func (e *IdentityStatusError) Error() string {
	return fmt.Sprintf("identity endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// fetchIdentity performs one GET against the provider identity endpoint.
func fetchIdentity(ctx context.Context, client HTTPClient, def *models.ProviderDefinition, token string) (*models.AccountIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, def.IdentityURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read identity response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &IdentityStatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse identity response: %w", err)
	}

	// Slack answers 200 with ok=false for bad tokens.
	if ok, present := doc["ok"].(bool); present && !ok {
		errCode, _ := doc["error"].(string)
		return nil, &IdentityStatusError{StatusCode: http.StatusUnauthorized, Body: errCode}
	}

	fields := def.IdentityFields
	return &models.AccountIdentity{
		Login:     lookupString(doc, fields.Login),
		Email:     lookupString(doc, fields.Email),
		AccountID: lookupString(doc, fields.AccountID),
		Type:      lookupString(doc, fields.Type),
	}, nil
}

// lookupString walks a dotted path and renders scalars as strings.
func lookupString(doc map[string]any, path string) string {
	if path == "" {
		return ""
	}
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[part]
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

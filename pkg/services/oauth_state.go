package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
)

const (
	// StateTTL bounds how long a user may take at the provider consent screen.
	StateTTL = 10 * time.Minute

	stateIssuer = "ekaya-connect/oauth-state"
)

// StateNonceStore records issued state nonces so each callback can consume one exactly once.
type StateNonceStore interface {
	// Put records nonce until ttl elapses.
	Put(ctx context.Context, nonce string, ttl time.Duration) error
	// Consume deletes nonce. Returns false if it was never issued, already used, or expired.
	Consume(ctx context.Context, nonce string) (bool, error)
}

type memoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

// NewMemoryNonceStore creates an in-memory nonce store. It is only correct for a single replica.
func NewMemoryNonceStore() StateNonceStore {
	return &memoryNonceStore{
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *memoryNonceStore) Put(_ context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	// Drop expired entries so abandoned flows don't accumulate.
	for n, exp := range s.nonces {
		if now.After(exp) {
			delete(s.nonces, n)
		}
	}
	s.nonces[nonce] = now.Add(ttl)
	return nil
}

func (s *memoryNonceStore) Consume(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.nonces[nonce]
	if !ok {
		return false, nil
	}
	// Single-use: delete on any lookup
	delete(s.nonces, nonce)
	return !s.now().After(exp), nil
}

type redisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisNonceStore creates a nonce store shared by every replica.
func NewRedisNonceStore(client redis.UniversalClient) StateNonceStore {
	return &redisNonceStore{client: client, prefix: "connect:oauth_state:"}
}

func (s *redisNonceStore) Put(ctx context.Context, nonce string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.prefix+nonce, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("store state nonce: %w", err)
	}
	if !ok {
		return errors.New("state nonce collision")
	}
	return nil
}

func (s *redisNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	n, err := s.client.Del(ctx, s.prefix+nonce).Result()
	if err != nil {
		return false, fmt.Errorf("consume state nonce: %w", err)
	}
	return n == 1, nil
}

var (
	_ StateNonceStore = (*memoryNonceStore)(nil)
	_ StateNonceStore = (*redisNonceStore)(nil)
)

// OAuthState is what the state parameter carries through the provider redirect.
type OAuthState struct {
	OrgID      uuid.UUID
	UserID     string
	ProviderID string
}

type stateClaims struct {
	OrgID      string `json:"org"`
	UserID     string `json:"usr"`
	ProviderID string `json:"prv"`
	jwt.RegisteredClaims
}

// StateCodec signs and verifies OAuth state values.
type StateCodec interface {
	Encode(ctx context.Context, state OAuthState) (string, error)
	// Decode verifies signature and expiry and consumes the nonce.
	// Every failure wraps apperrors.ErrInvalidState.
	Decode(ctx context.Context, raw string) (*OAuthState, error)
}

type stateCodec struct {
	secret []byte
	nonces StateNonceStore
	now    func() time.Time
}

// NewStateCodec creates an HS256 state codec.
func NewStateCodec(secret string, nonces StateNonceStore) StateCodec {
	return &stateCodec{secret: []byte(secret), nonces: nonces, now: time.Now}
}

var _ StateCodec = (*stateCodec)(nil)

func (c *stateCodec) Encode(ctx context.Context, state OAuthState) (string, error) {
	now := c.now()
	nonce := uuid.NewString()
	if err := c.nonces.Put(ctx, nonce, StateTTL); err != nil {
		return "", err
	}

	claims := stateClaims{
		OrgID:      state.OrgID.String(),
		UserID:     state.UserID,
		ProviderID: state.ProviderID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	return signed, nil
}

func (c *stateCodec) Decode(ctx context.Context, raw string) (*OAuthState, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: missing state", apperrors.ErrInvalidState)
	}

	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidState, err)
	}

	orgID, err := uuid.Parse(claims.OrgID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad organization id", apperrors.ErrInvalidState)
	}

	ok, err := c.nonces.Consume(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: state already used", apperrors.ErrInvalidState)
	}

	return &OAuthState{OrgID: orgID, UserID: claims.UserID, ProviderID: claims.ProviderID}, nil
}

package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/docnet/internal/metrics"
	oidcrepo "github.com/ovaphlow/docnet/internal/oidc/repo"
	"github.com/ovaphlow/docnet/internal/user/entity"
)

var (
	ErrUnknownProvider    = errors.New("unknown identity provider")
	ErrInvalidState       = errors.New("invalid or expired oauth state")
	ErrMissingCode        = errors.New("missing authorization code")
	ErrAssertionFailed    = errors.New("identity provider assertion failed")
	ErrUnverifiedIdentity = errors.New("identity provider did not assert a verified email")
)

// StateStore holds pending authorization states until the callback.
type StateStore interface {
	Save(ctx context.Context, state, provider string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (provider string, err error)
}

// TokenIssuer issues the bearer token handed out after federated login.
type TokenIssuer interface {
	Issue(subject string, ttl time.Duration) (string, error)
}

// Service drives the authorization code flow against configured providers.
type Service struct {
	providers   map[string]Provider
	states      StateStore
	stateTTL    time.Duration
	provisioner *Provisioner
	tokens      TokenIssuer
	tokenTTL    time.Duration
	metrics     *metrics.Metrics
	logger      *zap.SugaredLogger
}

func NewService(states StateStore, stateTTL time.Duration, prov *Provisioner, tokens TokenIssuer, tokenTTL time.Duration, m *metrics.Metrics, logger *zap.SugaredLogger, providers ...Provider) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{
		providers:   make(map[string]Provider, len(providers)),
		states:      states,
		stateTTL:    stateTTL,
		provisioner: prov,
		tokens:      tokens,
		tokenTTL:    tokenTTL,
		metrics:     m,
		logger:      logger,
	}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// Begin stores a fresh state for provider and returns the consent URL.
func (s *Service) Begin(ctx context.Context, provider string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", ErrUnknownProvider
	}
	state := uuid.NewString()
	if err := s.states.Save(ctx, state, provider, s.stateTTL); err != nil {
		return "", fmt.Errorf("save state: %w", err)
	}
	return p.AuthCodeURL(state), nil
}

// Complete redeems state and code, resolves the local account and issues a
// token bound to its email.
func (s *Service) Complete(ctx context.Context, state, code string) (string, *entity.User, error) {
	if state == "" {
		return "", nil, ErrInvalidState
	}
	name, err := s.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, oidcrepo.ErrStateNotFound) {
			return "", nil, ErrInvalidState
		}
		return "", nil, err
	}
	if code == "" {
		s.metrics.Federated(name, "missing_code")
		return "", nil, ErrMissingCode
	}
	p, ok := s.providers[name]
	if !ok {
		return "", nil, ErrUnknownProvider
	}

	id, err := p.Exchange(ctx, code)
	if err != nil {
		s.metrics.Federated(name, "assertion_failed")
		return "", nil, fmt.Errorf("%w: %v", ErrAssertionFailed, err)
	}
	if id.Email == "" || !id.EmailVerified {
		s.metrics.Federated(name, "unverified")
		return "", nil, ErrUnverifiedIdentity
	}

	u, err := s.provisioner.Resolve(ctx, id.Email, id.Name)
	if err != nil {
		s.metrics.Federated(name, "error")
		return "", nil, err
	}
	tok, err := s.tokens.Issue(u.Email, s.tokenTTL)
	if err != nil {
		s.metrics.Federated(name, "error")
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	s.metrics.Federated(name, "success")
	return tok, u, nil
}

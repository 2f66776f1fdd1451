package router

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/docnet/internal/metrics"
	"github.com/ovaphlow/docnet/internal/principal"
	"github.com/ovaphlow/docnet/internal/token"
	"github.com/ovaphlow/docnet/internal/user/entity"
	userrepo "github.com/ovaphlow/docnet/internal/user/repo"
)

// ErrMissingAuthHeader means the request carried no usable
// "Bearer <token>" Authorization header.
var ErrMissingAuthHeader = errors.New("missing bearer authorization header")

// DefaultPublicPrefixes bypass token processing entirely.
var DefaultPublicPrefixes = []string{"/login", "/register", "/verify-nmc", "/auth", "/oauth2", "/health"}

// TokenDecoder verifies bearer tokens.
type TokenDecoder interface {
	Decode(raw string) (*token.Claims, error)
}

// UserLookup loads the user named by a token subject.
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
}

type AuthState int

const (
	Unauthenticated AuthState = iota
	Authenticated
)

func (s AuthState) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Outcome is the result of authenticating one request. Err explains why an
// Unauthenticated outcome has no principal; it is nil for public paths.
type Outcome struct {
	State     AuthState
	Principal *principal.Principal
	Err       error
}

type AuthOptions struct {
	PublicPrefixes []string
	// RejectInvalid answers 401 for bearer tokens that fail to decode
	// instead of continuing without a principal.
	RejectInvalid bool
	Metrics       *metrics.Metrics
	Logger        *zap.SugaredLogger
}

// AuthMiddleware resolves the bearer token of each request into a principal.
// By default it never rejects: a bad token only means no principal.
type AuthMiddleware struct {
	tokens        TokenDecoder
	users         UserLookup
	public        []string
	rejectInvalid bool
	metrics       *metrics.Metrics
	logger        *zap.SugaredLogger
}

func NewAuthMiddleware(tokens TokenDecoder, users UserLookup, opts AuthOptions) *AuthMiddleware {
	m := &AuthMiddleware{
		tokens:        tokens,
		users:         users,
		public:        opts.PublicPrefixes,
		rejectInvalid: opts.RejectInvalid,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
	}
	if m.public == nil {
		m.public = DefaultPublicPrefixes
	}
	if m.logger == nil {
		m.logger = zap.NewNop().Sugar()
	}
	return m
}

// IsPublic reports whether path falls under a public prefix, matching
// whole path segments only.
func (m *AuthMiddleware) IsPublic(path string) bool {
	for _, p := range m.public {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// Authenticate computes the outcome for r without touching the response.
func (m *AuthMiddleware) Authenticate(r *http.Request) Outcome {
	if p := principal.From(r.Context()); p != nil {
		return Outcome{State: Authenticated, Principal: p}
	}
	if m.IsPublic(r.URL.Path) {
		return Outcome{State: Unauthenticated}
	}
	raw, ok := token.FromHeader(r.Header.Get("Authorization"))
	if !ok {
		return Outcome{State: Unauthenticated, Err: ErrMissingAuthHeader}
	}
	claims, err := m.tokens.Decode(raw)
	if err != nil {
		return Outcome{State: Unauthenticated, Err: err}
	}
	u, err := m.users.GetByEmail(r.Context(), claims.Subject)
	if err != nil {
		return Outcome{State: Unauthenticated, Err: err}
	}
	return Outcome{State: Authenticated, Principal: principal.FromUser(u)}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, token.ErrMalformed):
		return "malformed"
	case errors.Is(err, userrepo.ErrNotFound):
		return "unknown_subject"
	default:
		return "lookup_error"
	}
}

func isDecodeFailure(err error) bool {
	return errors.Is(err, token.ErrExpired) || errors.Is(err, token.ErrBadSignature) || errors.Is(err, token.ErrMalformed)
}

// Wrap attaches the principal, if any, and always continues the chain
// unless RejectInvalid is set and the token failed to decode.
func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := m.Authenticate(r)
		switch {
		case out.State == Authenticated:
			r = r.WithContext(principal.With(r.Context(), out.Principal))
		case out.Err != nil && !errors.Is(out.Err, ErrMissingAuthHeader):
			kind := failureKind(out.Err)
			m.metrics.TokenFailure(kind)
			if kind == "lookup_error" {
				m.logger.Warnw("principal lookup failed", "err", out.Err, "path", r.URL.Path)
			} else {
				m.logger.Debugw("bearer token not accepted", "kind", kind, "path", r.URL.Path)
			}
			if m.rejectInvalid && isDecodeFailure(out.Err) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

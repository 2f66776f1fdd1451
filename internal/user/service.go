package user

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/docnet/internal/metrics"
	"github.com/ovaphlow/docnet/internal/token"
	"github.com/ovaphlow/docnet/internal/user/entity"
	userrepo "github.com/ovaphlow/docnet/internal/user/repo"
	"github.com/ovaphlow/docnet/pkg/utilities"
)

// Store is the credential store consumed by the service. Implemented by
// repo.UserRepo and repo.MemoryRepo.
type Store interface {
	Create(ctx context.Context, u *entity.User) error
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByNMCNumber(ctx context.Context, nmc string) (*entity.User, error)
	ListByRole(ctx context.Context, role entity.Role) ([]*entity.User, error)
	UpdateProfile(ctx context.Context, id string, p entity.Profile) (*entity.User, error)
}

// TokenCodec issues and decodes bearer tokens.
type TokenCodec interface {
	Issue(subject string, ttl time.Duration) (string, error)
	Decode(raw string) (*token.Claims, error)
}

var nmcPattern = regexp.MustCompile(`^[0-9]{6}$`)

// AuthResult is returned by Login and Register.
type AuthResult struct {
	User  *entity.User
	Token string
}

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	Name           string
	Email          string
	Password       string
	Role           string
	NMCNumber      string
	Specialization string
	Location       string
}

// UserService orchestrates authentication and user lifecycle flows.
type UserService struct {
	store   Store
	hasher  PasswordHasher
	tokens  TokenCodec
	ids     *utilities.IDGenerator
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger

	// compared against when the email is unknown so both paths cost one bcrypt
	dummyHash string
}

// Options are the optional collaborators of UserService.
type Options struct {
	Hasher  PasswordHasher
	IDs     *utilities.IDGenerator
	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger
}

func NewUserService(store Store, tokens TokenCodec, ttl time.Duration, opts Options) *UserService {
	s := &UserService{
		store:   store,
		hasher:  opts.Hasher,
		tokens:  tokens,
		ids:     opts.IDs,
		ttl:     ttl,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if s.hasher == nil {
		s.hasher = BcryptHasher{Cost: DefaultBcryptCost}
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	if h, _, err := s.hasher.Hash("docnet-unknown-account"); err == nil {
		s.dummyHash = h
	}
	return s
}

// Login verifies email and password, then checks the claimed role.
// The role check runs only after the password has been verified.
func (s *UserService) Login(ctx context.Context, email, password, claimedRole string) (*AuthResult, error) {
	u, err := s.store.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			s.hasher.Verify(s.dummyHash, password)
			s.metrics.Login("not_found")
			return nil, ErrNotFound
		}
		s.metrics.Login("error")
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		s.metrics.Login("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if !strings.EqualFold(string(u.Role), strings.TrimSpace(claimedRole)) {
		s.metrics.Login("role_mismatch")
		return nil, ErrRoleMismatch
	}
	tok, err := s.tokens.Issue(u.Email, s.ttl)
	if err != nil {
		s.metrics.Login("error")
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.metrics.Login("success")
	return &AuthResult{User: u, Token: tok}, nil
}

// Register creates a password account and returns a token for it.
// Patients are verified on creation; doctors are verified when they
// supply an unclaimed, well-formed NMC number. The store's insert is the
// final word on both email and NMC uniqueness.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") || in.Password == "" {
		s.metrics.Registration("invalid")
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	role, err := entity.ParseRole(in.Role)
	if err != nil {
		s.metrics.Registration("invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		s.metrics.Registration("email_taken")
		return nil, ErrEmailTaken
	} else if !errors.Is(err, userrepo.ErrNotFound) {
		s.metrics.Registration("error")
		return nil, fmt.Errorf("check email: %w", err)
	}

	nmc := strings.TrimSpace(in.NMCNumber)
	verified := role == entity.RolePatient
	if nmc != "" {
		ok, err := s.VerifyNMC(ctx, nmc)
		if err != nil {
			s.metrics.Registration("error")
			return nil, err
		}
		if !ok && nmcPattern.MatchString(nmc) {
			s.metrics.Registration("nmc_taken")
			return nil, ErrNMCTaken
		}
		if !ok {
			s.metrics.Registration("invalid")
			return nil, fmt.Errorf("%w: nmc number must be 6 digits", ErrInvalidInput)
		}
		if role == entity.RoleDoctor {
			verified = true
		}
	}

	hash, algo, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			s.metrics.Registration("invalid")
			return nil, fmt.Errorf("%w: password too long", ErrInvalidInput)
		}
		s.metrics.Registration("error")
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &entity.User{
		ID:             s.ids.Next(),
		Email:          email,
		PasswordHash:   hash,
		PasswordAlgo:   algo,
		Role:           role,
		Verified:       verified,
		Name:           strings.TrimSpace(in.Name),
		Specialization: strings.TrimSpace(in.Specialization),
		Location:       strings.TrimSpace(in.Location),
		NMCNumber:      nmc,
	}
	if err := s.store.Create(ctx, u); err != nil {
		switch {
		case errors.Is(err, userrepo.ErrDuplicateEmail):
			s.metrics.Registration("email_taken")
			return nil, ErrEmailTaken
		case errors.Is(err, userrepo.ErrDuplicateNMC):
			s.metrics.Registration("nmc_taken")
			return nil, ErrNMCTaken
		}
		s.metrics.Registration("error")
		return nil, fmt.Errorf("create user: %w", err)
	}

	tok, err := s.tokens.Issue(u.Email, s.ttl)
	if err != nil {
		s.metrics.Registration("error")
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.logger.Infow("user registered", "user_id", u.ID, "role", u.Role)
	s.metrics.Registration("success")
	return &AuthResult{User: u, Token: tok}, nil
}

// CurrentUser decodes raw and loads the user named by its subject.
// Token errors are returned unchanged so callers can match them.
func (s *UserService) CurrentUser(ctx context.Context, raw string) (*entity.User, error) {
	claims, err := s.tokens.Decode(raw)
	if err != nil {
		return nil, err
	}
	return s.ByEmail(ctx, claims.Subject)
}

// ByEmail loads a user, mapping a missing record to ErrNotFound.
func (s *UserService) ByEmail(ctx context.Context, email string) (*entity.User, error) {
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// VerifyNMC reports whether nmc is well formed and not yet claimed.
func (s *UserService) VerifyNMC(ctx context.Context, nmc string) (bool, error) {
	nmc = strings.TrimSpace(nmc)
	if !nmcPattern.MatchString(nmc) {
		return false, nil
	}
	_, err := s.store.GetByNMCNumber(ctx, nmc)
	switch {
	case errors.Is(err, userrepo.ErrNotFound):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("lookup nmc: %w", err)
	default:
		return false, nil
	}
}

// UpdateProfile applies p to the user identified by id.
func (s *UserService) UpdateProfile(ctx context.Context, id string, p entity.Profile) (*entity.User, error) {
	if p.NMCNumber != nil {
		nmc := strings.TrimSpace(*p.NMCNumber)
		p.NMCNumber = &nmc
		if nmc != "" {
			if !nmcPattern.MatchString(nmc) {
				return nil, fmt.Errorf("%w: nmc number must be 6 digits", ErrInvalidInput)
			}
			owner, err := s.store.GetByNMCNumber(ctx, nmc)
			if err == nil && owner.ID != id {
				return nil, ErrNMCTaken
			}
			if err != nil && !errors.Is(err, userrepo.ErrNotFound) {
				return nil, fmt.Errorf("lookup nmc: %w", err)
			}
		}
	}
	u, err := s.store.UpdateProfile(ctx, id, p)
	if err != nil {
		switch {
		case errors.Is(err, userrepo.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, userrepo.ErrDuplicateNMC):
			return nil, ErrNMCTaken
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}

// ListByRole returns the public projection of every user holding role.
func (s *UserService) ListByRole(ctx context.Context, role entity.Role) ([]entity.PublicView, error) {
	users, err := s.store.ListByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]entity.PublicView, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out, nil
}

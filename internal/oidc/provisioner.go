package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ovaphlow/docnet/internal/metrics"
	"github.com/ovaphlow/docnet/internal/user/entity"
	userrepo "github.com/ovaphlow/docnet/internal/user/repo"
	"github.com/ovaphlow/docnet/pkg/utilities"
)

// Store is the subset of the credential store the provisioner needs.
type Store interface {
	Create(ctx context.Context, u *entity.User) error
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
}

// Provisioner maps an asserted email to exactly one local account,
// creating it on first sight.
type Provisioner struct {
	store       Store
	ids         *utilities.IDGenerator
	defaultRole entity.Role
	metrics     *metrics.Metrics
	logger      *zap.SugaredLogger

	// collapses concurrent first logins for one email within this process
	group singleflight.Group
}

func NewProvisioner(store Store, ids *utilities.IDGenerator, defaultRole entity.Role, m *metrics.Metrics, logger *zap.SugaredLogger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Provisioner{store: store, ids: ids, defaultRole: defaultRole, metrics: m, logger: logger}
}

// Resolve returns the account for email. A new account is verified, holds
// the default role and has no password. When a concurrent Resolve wins the
// insert, the winner's record is returned.
func (p *Provisioner) Resolve(ctx context.Context, email, name string) (*entity.User, error) {
	v, err, _ := p.group.Do(email, func() (any, error) {
		return p.resolve(ctx, email, name)
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*entity.User)
	return &cp, nil
}

func (p *Provisioner) resolve(ctx context.Context, email, name string) (*entity.User, error) {
	u, err := p.store.GetByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, userrepo.ErrNotFound) {
		return nil, fmt.Errorf("lookup %s: %w", email, err)
	}

	u = &entity.User{
		ID:       p.ids.Next(),
		Email:    email,
		Name:     strings.TrimSpace(name),
		Role:     p.defaultRole,
		Verified: true,
	}
	if err := p.store.Create(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			existing, gerr := p.store.GetByEmail(ctx, email)
			if gerr != nil {
				return nil, fmt.Errorf("reload %s: %w", email, gerr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("provision %s: %w", email, err)
	}
	p.logger.Infow("federated account provisioned", "user_id", u.ID, "role", u.Role)
	p.metrics.Provisioned()
	return u, nil
}

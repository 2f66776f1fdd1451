package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ovaphlow/docnet/internal/user/entity"
)

// MemoryRepo is an in-process credential store. Check-and-insert runs
// under one lock, so email and NMC uniqueness hold under concurrent writes.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]*entity.User
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:    make(map[string]*entity.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (r *MemoryRepo) Create(_ context.Context, u *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[u.Email]; ok {
		return ErrDuplicateEmail
	}
	if r.nmcHeldByOther(u.NMCNumber, u.ID) {
		return ErrDuplicateNMC
	}
	now := r.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	r.byID[u.ID] = &cp
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *MemoryRepo) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryRepo) GetByNMCNumber(_ context.Context, nmc string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if u.NMCNumber != "" && u.NMCNumber == nmc {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepo) ListByRole(_ context.Context, role entity.Role) ([]*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.User
	for _, u := range r.byID {
		if u.Role == role {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) UpdateProfile(_ context.Context, id string, p entity.Profile) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.NMCNumber != nil && r.nmcHeldByOther(*p.NMCNumber, id) {
		return nil, ErrDuplicateNMC
	}
	p.Apply(u)
	u.UpdatedAt = r.now().UTC()
	cp := *u
	return &cp, nil
}

// nmcHeldByOther reports whether a user other than id holds nmc.
// Callers hold r.mu.
func (r *MemoryRepo) nmcHeldByOther(nmc, id string) bool {
	if nmc == "" {
		return false
	}
	for _, u := range r.byID {
		if u.ID != id && u.NMCNumber == nmc {
			return true
		}
	}
	return false
}

// Delete removes a user. Used to model accounts that vanish while a
// token for them is still in circulation.
func (r *MemoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byEmail, u.Email)
	delete(r.byID, id)
	return nil
}

package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
)

// ErrStateNotFound is returned when a state is unknown, expired or
// already consumed.
var ErrStateNotFound = errors.New("oauth state not found")

// ErrStateExists is returned when saving a state that is still pending.
var ErrStateExists = errors.New("oauth state already pending")

const statePrefix = "docnet:oauth:state:"

// RedisStateRepo keeps pending OAuth states in Redis. Save is SET NX EX and
// Consume is GETDEL, so a state can be redeemed at most once across replicas.
type RedisStateRepo struct {
	client *redis.Client
}

func NewRedisStateRepo(client *redis.Client) *RedisStateRepo {
	return &RedisStateRepo{client: client}
}

// NewRedisClient parses url and checks the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisStateRepo) Save(ctx context.Context, state, provider string, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, statePrefix+state, provider, ttl).Result()
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if !ok {
		return ErrStateExists
	}
	return nil
}

func (r *RedisStateRepo) Consume(ctx context.Context, state string) (string, error) {
	provider, err := r.client.GetDel(ctx, statePrefix+state).Result()
	if err == redis.Nil {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume state: %w", err)
	}
	return provider, nil
}

type pendingState struct {
	provider  string
	expiresAt time.Time
}

// MemoryStateRepo is the single-process fallback used when no Redis URL is
// configured.
type MemoryStateRepo struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	states map[string]pendingState
}

func NewMemoryStateRepo(clock clockwork.Clock) *MemoryStateRepo {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStateRepo{clock: clock, states: make(map[string]pendingState)}
}

func (r *MemoryStateRepo) Save(_ context.Context, state, provider string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.sweep(now)
	if _, ok := r.states[state]; ok {
		return ErrStateExists
	}
	r.states[state] = pendingState{provider: provider, expiresAt: now.Add(ttl)}
	return nil
}

func (r *MemoryStateRepo) Consume(_ context.Context, state string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[state]
	if !ok {
		return "", ErrStateNotFound
	}
	delete(r.states, state)
	if !r.clock.Now().Before(s.expiresAt) {
		return "", ErrStateNotFound
	}
	return s.provider, nil
}

// sweep drops expired states. Caller holds mu.
func (r *MemoryStateRepo) sweep(now time.Time) {
	for k, s := range r.states {
		if !now.Before(s.expiresAt) {
			delete(r.states, k)
		}
	}
}

// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tendant/ml-orchestrator/pkg/schema"
)

// ErrNotFound is returned by Get when no record exists for an id, including
// records that expired.
var ErrNotFound = errors.New("execution not found")

// DefaultTTL is the retention window applied to every Put.
const DefaultTTL = 24 * time.Hour

// Store persists one Job record per execution plus a set index of all
// execution ids. Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, job *schema.Job) error
	Get(ctx context.Context, id string) (*schema.Job, error)
	IndexAdd(ctx context.Context, id string) error
	IndexMembers(ctx context.Context) ([]string, error)
}

type Backend string

const (
	BackendRedis    Backend = "redis"
	BackendMemory   Backend = "memory"
	BackendDisabled Backend = "none"
)

type Config struct {
	Backend   Backend
	RedisURL  string
	KeyPrefix string
	TTL       time.Duration
}

// Open builds the store selected by cfg.Backend. The returned close func is
// never nil.
func Open(ctx context.Context, cfg Config) (Store, func() error, error) {
	noop := func() error { return nil }
	switch Backend(strings.ToLower(string(cfg.Backend))) {
	case BackendRedis, "":
		s, err := DialRedis(ctx, cfg.RedisURL, cfg.KeyPrefix, cfg.TTL)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendMemory:
		return NewMemory(cfg.TTL), noop, nil
	case BackendDisabled, "disabled":
		return Disabled{}, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Disabled is the store used when persistence is switched off: reads report
// ErrNotFound and writes are dropped.
type Disabled struct{}

func (Disabled) Put(context.Context, *schema.Job) error { return nil }

func (Disabled) Get(context.Context, string) (*schema.Job, error) { return nil, ErrNotFound }

func (Disabled) IndexAdd(context.Context, string) error { return nil }

func (Disabled) IndexMembers(context.Context) ([]string, error) { return nil, nil }

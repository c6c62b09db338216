package agenda

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/tremedam/Agendamento-Pro/internal/overlay"
	"github.com/tremedam/Agendamento-Pro/internal/shared"
)

// Provider modes reported by GuardedProvider.Mode.
const (
	ModeDatabase = "postgres"
	ModeFallback = "fallback"
)

// GuardedConfig tunes the circuit breaker in front of the primary provider.
type GuardedConfig struct {
	Logger *slog.Logger
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// FetchTimeout bounds a shared fetch, which does not follow the
	// cancellation of any single caller.
	FetchTimeout time.Duration
}

// GuardedProvider reads from a primary provider behind a circuit breaker and
// serves the demonstration dataset when the primary fails, is open, or is not
// configured. Concurrent fetches for the same role share one call.
type GuardedProvider struct {
	primary  Provider
	fallback *Fallback
	breaker  *gobreaker.CircuitBreaker
	group    singleflight.Group
	fetchTTL time.Duration
	logger   *slog.Logger
}

// NewGuardedProvider wraps primary. A nil primary always serves fallback data.
func NewGuardedProvider(primary Provider, fallback *Fallback, cfg GuardedConfig) *GuardedProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "agenda"))
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if fallback == nil {
		fallback = NewFallback(nil)
	}
	g := &GuardedProvider{primary: primary, fallback: fallback, fetchTTL: cfg.FetchTimeout, logger: logger}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agenda-primary",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})
	return g
}

// Mode reports which source currently answers reads.
func (g *GuardedProvider) Mode() string {
	if g.primary == nil || g.breaker.State() == gobreaker.StateOpen {
		return ModeFallback
	}
	return ModeDatabase
}

// BreakerState returns the breaker state name.
func (g *GuardedProvider) BreakerState() string {
	return g.breaker.State().String()
}

// FetchAll implements Provider.
func (g *GuardedProvider) FetchAll(ctx context.Context, role shared.Role) ([]Schedule, error) {
	if g.primary == nil {
		return g.fallback.FetchAll(ctx, role)
	}
	v, err, _ := g.group.Do("fetch:"+string(role), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.fetchTTL)
		defer cancel()
		return g.breaker.Execute(func() (any, error) {
			return g.primary.FetchAll(fetchCtx, role)
		})
	})
	if err != nil {
		g.logger.Warn("primary provider unavailable, serving demonstration data",
			slog.String("role", string(role)), slog.Any("error", err))
		return g.fallback.FetchAll(ctx, role)
	}
	items := v.([]Schedule)
	return append([]Schedule(nil), items...), nil
}

// Get implements Provider. Demonstration identifiers never reach the primary.
func (g *GuardedProvider) Get(ctx context.Context, id string) (Schedule, error) {
	if g.primary == nil || overlay.IsFallbackID(id) {
		return g.fallback.Get(ctx, id)
	}
	v, err := g.breaker.Execute(func() (any, error) {
		return g.primary.Get(ctx, id)
	})
	if err == nil {
		return v.(Schedule), nil
	}
	if errors.Is(err, ErrNotFound) {
		return Schedule{}, err
	}
	g.logger.Warn("primary provider lookup failed", slog.String("id", id), slog.Any("error", err))
	return g.fallback.Get(ctx, id)
}

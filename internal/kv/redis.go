package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nifty-insight-server/config"
	"nifty-insight-server/internal/logging"

	"github.com/redis/go-redis/v9"
)

// Breaker tuning. Three consecutive failures open the circuit; while it
// is open every operation fails fast with ErrUnavailable, and at most
// one background ping per probe interval decides when to close it.
const (
	tripThreshold = 3
	probeInterval = 30 * time.Second

	dialTimeout  = 5 * time.Second
	opTimeout    = 3 * time.Second
	probeTimeout = 2 * time.Second
)

// ============================================================================
// CIRCUIT BREAKER
// ============================================================================

// breaker counts consecutive Redis failures and gates operations while
// the backend is down.
type breaker struct {
	mu        sync.RWMutex
	open      bool
	failures  int
	lastProbe time.Time
}

func (b *breaker) closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.open
}

// fail records one failure and reports whether it tripped the circuit.
func (b *breaker) fail() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures < tripThreshold || b.open {
		return false
	}
	b.open = true
	return true
}

// ok records a successful operation and reports whether the circuit
// just recovered.
func (b *breaker) ok() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	recovered := b.open
	b.open = false
	b.failures = 0
	b.lastProbe = time.Now()
	return recovered
}

// probeDue reports whether a recovery probe should run and, when it
// should, claims the slot so concurrent callers do not stack up pings.
func (b *breaker) probeDue() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open || time.Since(b.lastProbe) < probeInterval {
		return false
	}
	b.lastProbe = time.Now()
	return true
}

// ============================================================================
// REDIS STORE
// ============================================================================

// Redis is a Store backed by Redis. Settings envelopes are durable
// state, so values are written without expiry; availability problems
// surface as ErrUnavailable rather than stacked-up timeouts.
type Redis struct {
	client  *redis.Client
	breaker breaker
	logger  *logging.Logger
}

// NewRedis connects to Redis using the provided configuration. A failed
// initial connection is not fatal: the store starts with the circuit
// open and closes it on its own once Redis answers a probe.
func NewRedis(cfg config.RedisConfig, logger *logging.Logger) (*Redis, error) {
	if !cfg.Enabled {
		return nil, errors.New("redis disabled in config")
	}

	r := &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Address,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  dialTimeout,
			ReadTimeout:  opTimeout,
			WriteTimeout: opTimeout,
		}),
		logger: logger.WithComponent("kv.redis"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.breaker.open = true
		r.logger.Warn("Initial Redis connection failed", "error", err.Error())
		return r, nil
	}

	r.breaker.lastProbe = time.Now()
	r.logger.Info("Redis connected", "address", cfg.Address)
	return r, nil
}

// guard is the shared front of every operation: schedule a recovery
// probe when one is due, then fail fast while the circuit is open.
func (r *Redis) guard() error {
	if r.breaker.probeDue() {
		go r.probe()
	}
	if !r.breaker.closed() {
		return ErrUnavailable
	}
	return nil
}

func (r *Redis) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err == nil {
		r.report(nil)
	}
}

// report feeds an operation result into the breaker and logs the state
// transitions.
func (r *Redis) report(err error) {
	if err != nil {
		if r.breaker.fail() {
			r.logger.Warn("Circuit breaker open: Redis unreachable after repeated failures")
		}
		return
	}
	if r.breaker.ok() {
		r.logger.Info("Circuit breaker closed: Redis recovered")
	}
}

// Get retrieves the value stored under key. A missing key returns
// ErrNotFound; an open circuit returns ErrUnavailable.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	r.report(err)
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value under key without expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.guard(); err != nil {
		return err
	}

	err := r.client.Set(ctx, key, value, 0).Err()
	r.report(err)
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.guard(); err != nil {
		return err
	}

	err := r.client.Del(ctx, key).Err()
	r.report(err)
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Healthy reports whether the circuit is currently closed. The health
// endpoint reads this instead of pinging so the check stays cheap.
func (r *Redis) Healthy() bool {
	return r.breaker.closed()
}

// Client returns the underlying Redis client for components that need
// TTL-based caching on the same connection pool.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}

// Package leaderelect adapts ports.LeaderElector onto Redis, grounded on
// internal/common/leader/redis_election.go's SET-NX-EX lock with a
// check-and-extend Lua script for refresh and a check-and-delete Lua script
// for release. Generalized from that file's bespoke Start/Stop/IsPrimary
// surface to the ports.LeaderElector contract (Campaign/IsLeader/Resign plus
// the two callbacks), and from a single hardcoded lock name to the one
// passed at construction — this package backs any background poller the
// facade wants gated to a single leader across a fleet (outbox, inbox).
package leaderelect

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heromessaging/hero-messaging/ports"
)

// Config configures a Redis-backed LeaderElector.
type Config struct {
	InstanceID      string
	LockName        string
	TTL             time.Duration
	RefreshInterval time.Duration
}

// DefaultConfig mirrors the teacher's DefaultRedisElectorConfig defaults.
func DefaultConfig(lockName string) Config {
	instanceID, _ := os.Hostname()
	if instanceID == "" {
		instanceID = "instance-" + lockName
	}
	return Config{
		InstanceID:      instanceID,
		LockName:        lockName,
		TTL:             30 * time.Second,
		RefreshInterval: 10 * time.Second,
	}
}

var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end
`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Elector is a Redis-backed ports.LeaderElector.
type Elector struct {
	client *redis.Client
	cfg    Config
	log    *slog.Logger

	isLeader atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu               sync.Mutex
	onBecomeLeader   func()
	onLoseLeadership func()
}

func New(client *redis.Client, cfg Config) *Elector {
	return &Elector{client: client, cfg: cfg, log: slog.Default()}
}

var _ ports.LeaderElector = (*Elector)(nil)

func (e *Elector) OnBecomeLeader(fn func())   { e.mu.Lock(); e.onBecomeLeader = fn; e.mu.Unlock() }
func (e *Elector) OnLoseLeadership(fn func()) { e.mu.Lock(); e.onLoseLeadership = fn; e.mu.Unlock() }

func (e *Elector) IsLeader() bool { return e.isLeader.Load() }

// Campaign starts the background acquire/refresh loop and returns
// immediately; leadership is asynchronous (spec §6: LeaderElector gates a
// background poller, it does not block the caller waiting to become leader).
func (e *Elector) Campaign(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go e.electionLoop(loopCtx)
	return nil
}

func (e *Elector) Resign(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	if e.isLeader.Load() {
		return e.release(ctx)
	}
	return nil
}

func (e *Elector) electionLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()

	e.tryAcquireOrRefresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tryAcquireOrRefresh(ctx)
		}
	}
}

func (e *Elector) tryAcquireOrRefresh(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()

	wasLeader := e.isLeader.Load()
	if wasLeader {
		if e.refresh(ctx) {
			return
		}
		e.isLeader.Store(false)
		e.log.Warn("lost leadership, refresh failed", slog.String("lock", e.cfg.LockName))
		e.fireCallback(false)
	}

	if e.acquire(ctx) {
		e.isLeader.Store(true)
		if !wasLeader {
			e.log.Info("acquired leadership", slog.String("lock", e.cfg.LockName))
			e.fireCallback(true)
		}
	}
}

func (e *Elector) fireCallback(became bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if became && e.onBecomeLeader != nil {
		e.onBecomeLeader()
	}
	if !became && e.onLoseLeadership != nil {
		e.onLoseLeadership()
	}
}

func (e *Elector) acquire(ctx context.Context) bool {
	ttl := e.cfg.TTL
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := e.client.SetNX(ctx, e.cfg.LockName, e.cfg.InstanceID, ttl).Result()
	if err != nil {
		e.log.Error("redis leader acquire failed", slog.String("error", err.Error()))
		return false
	}
	if ok {
		return true
	}

	owner, err := e.client.Get(ctx, e.cfg.LockName).Result()
	if err != nil {
		if err != redis.Nil {
			e.log.Error("redis leader owner lookup failed", slog.String("error", err.Error()))
		}
		return false
	}
	if owner == e.cfg.InstanceID {
		return e.refresh(ctx)
	}
	return false
}

func (e *Elector) refresh(ctx context.Context) bool {
	ttlSeconds := int(e.cfg.TTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	result, err := refreshScript.Run(ctx, e.client, []string{e.cfg.LockName}, e.cfg.InstanceID, ttlSeconds).Int()
	if err != nil {
		e.log.Error("redis leader refresh failed", slog.String("error", err.Error()))
		return false
	}
	return result != 0
}

func (e *Elector) release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, e.client, []string{e.cfg.LockName}, e.cfg.InstanceID).Int()
	e.isLeader.Store(false)
	return err
}

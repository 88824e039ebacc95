package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/observability"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/rollout"
)

// runtimeSnapshotKey carries the bucketing hash version so replicas running
// a different hash never share snapshots.
var runtimeSnapshotKey = fmt.Sprintf("snapshot:v%d", rollout.HashVersion)

const snapshotRefreshTimeout = 5 * time.Second

// RuntimeFlag is the evaluation-only view of a flag.
type RuntimeFlag struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Status            domain.FlagStatus `json:"status"`
	RolloutPercentage int               `json:"rollout_percentage"`
	TargetUsers       []string          `json:"target_users,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// RuntimeSnapshot is immutable once published.
type RuntimeSnapshot struct {
	Flags    map[string]RuntimeFlag `json:"flags"`
	LoadedAt time.Time              `json:"loaded_at"`
}

// NewRuntimeSnapshot indexes non-rejected flags by name. When history holds
// more than one live flag with a name, the active one wins, then the newest.
func NewRuntimeSnapshot(flags []domain.FeatureFlag, loadedAt time.Time) *RuntimeSnapshot {
	snap := &RuntimeSnapshot{Flags: make(map[string]RuntimeFlag, len(flags)), LoadedAt: loadedAt}
	for _, f := range flags {
		if f.Status == domain.FlagStatusRejected {
			continue
		}
		rf := RuntimeFlag{
			ID:                f.ID,
			Name:              f.Name,
			Status:            f.Status,
			RolloutPercentage: f.Config.RolloutPercentage,
			TargetUsers:       append([]string(nil), f.Config.TargetUsers...),
			CreatedAt:         f.CreatedAt,
		}
		if cur, ok := snap.Flags[f.Name]; ok && !preferRuntimeFlag(rf, cur) {
			continue
		}
		snap.Flags[f.Name] = rf
	}
	return snap
}

func preferRuntimeFlag(candidate, current RuntimeFlag) bool {
	ca := candidate.Status == domain.FlagStatusActive
	cu := current.Status == domain.FlagStatusActive
	if ca != cu {
		return ca
	}
	return candidate.CreatedAt.After(current.CreatedAt)
}

type snapshotLoader func(ctx context.Context) ([]domain.FeatureFlag, error)

// RuntimeSnapshotCache serves runtime reads without locks. A snapshot older
// than ttl is still served while one background refresh runs. Without a
// running refresh loop, one older than 2*ttl is refreshed before answering.
type RuntimeSnapshotCache struct {
	current atomic.Pointer[RuntimeSnapshot]
	running atomic.Bool
	load    snapshotLoader
	store   RuntimeSnapshotStore
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	now     func() time.Time
}

func NewRuntimeSnapshotCache(load snapshotLoader, store RuntimeSnapshotStore, ttl time.Duration, logger *slog.Logger) *RuntimeSnapshotCache {
	if store == nil {
		store = NewNoopRuntimeSnapshotStore()
	}
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuntimeSnapshotCache{
		load:   load,
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *RuntimeSnapshotCache) Get(ctx context.Context) (*RuntimeSnapshot, error) {
	snap := c.current.Load()
	if snap == nil {
		return c.refresh(ctx, "cold")
	}
	age := c.now().Sub(snap.LoadedAt)
	switch {
	case age <= c.ttl:
		return snap, nil
	case age <= 2*c.ttl || c.running.Load():
		c.refreshAsync(ctx)
		return snap, nil
	default:
		fresh, err := c.refresh(ctx, "expired")
		if err != nil {
			c.logger.WarnContext(ctx, "serving expired runtime snapshot", "age", age.String(), "error", err)
			return snap, nil
		}
		return fresh, nil
	}
}

// Reload rebuilds from the database and drops the shared copy so other
// replicas pick up the write on their next refresh.
func (c *RuntimeSnapshotCache) Reload(ctx context.Context) error {
	start := c.now()
	flags, err := c.load(ctx)
	if err != nil {
		observability.RecordSnapshotRefresh(ctx, "write", "error")
		return err
	}
	c.publish(NewRuntimeSnapshot(flags, start))
	if err := c.store.InvalidateAll(ctx); err != nil {
		c.logger.WarnContext(ctx, "invalidate shared runtime snapshot failed", "error", err)
	}
	observability.RecordSnapshotRefresh(ctx, "write", "success")
	return nil
}

// Run loads the first snapshot and keeps it fresh every ttl until ctx ends.
// While it runs, Get never waits on the database once a snapshot exists.
func (c *RuntimeSnapshotCache) Run(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)

	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		if _, err := c.refresh(ctx, "background"); err != nil {
			c.logger.WarnContext(ctx, "runtime snapshot refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *RuntimeSnapshotCache) refreshAsync(ctx context.Context) {
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := c.refresh(bg, "background"); err != nil {
			c.logger.WarnContext(bg, "background runtime snapshot refresh failed", "error", err)
		}
	}()
}

func (c *RuntimeSnapshotCache) refresh(ctx context.Context, origin string) (*RuntimeSnapshot, error) {
	v, err, _ := c.group.Do(runtimeSnapshotKey, func() (any, error) {
		if snap := c.current.Load(); snap != nil && c.now().Sub(snap.LoadedAt) <= c.ttl {
			return snap, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotRefreshTimeout)
		defer cancel()

		if snap, ok := c.fromStore(rctx); ok {
			observability.RecordSnapshotRefresh(rctx, origin, "shared")
			return c.publish(snap), nil
		}
		// Stamp before reading so a load racing a writer's Reload loses.
		start := c.now()
		flags, err := c.load(rctx)
		if err != nil {
			observability.RecordSnapshotRefresh(rctx, origin, "error")
			return nil, err
		}
		snap := NewRuntimeSnapshot(flags, start)
		if cur := c.publish(snap); cur != snap {
			observability.RecordSnapshotRefresh(rctx, origin, "superseded")
			return cur, nil
		}
		if raw, err := json.Marshal(snap); err == nil {
			if err := c.store.Set(rctx, runtimeSnapshotKey, raw, c.ttl); err != nil {
				c.logger.WarnContext(rctx, "store runtime snapshot failed", "error", err)
			}
		}
		observability.RecordSnapshotRefresh(rctx, origin, "database")
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RuntimeSnapshot), nil
}

func (c *RuntimeSnapshotCache) fromStore(ctx context.Context) (*RuntimeSnapshot, bool) {
	raw, ok, err := c.store.Get(ctx, runtimeSnapshotKey)
	if err != nil {
		c.logger.WarnContext(ctx, "read shared runtime snapshot failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var snap RuntimeSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.logger.WarnContext(ctx, "decode shared runtime snapshot failed", "error", err)
		return nil, false
	}
	if snap.Flags == nil || c.now().Sub(snap.LoadedAt) > c.ttl {
		return nil, false
	}
	return &snap, true
}

// publish never replaces a newer snapshot with an older one. It returns
// the snapshot that is current afterwards.
func (c *RuntimeSnapshotCache) publish(snap *RuntimeSnapshot) *RuntimeSnapshot {
	for {
		cur := c.current.Load()
		if cur != nil && cur.LoadedAt.After(snap.LoadedAt) {
			return cur
		}
		if c.current.CompareAndSwap(cur, snap) {
			return snap
		}
	}
}

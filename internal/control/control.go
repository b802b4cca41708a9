// Package control assembles the activity overview served by the Control
// Center endpoint. Counts come from independent aggregate queries that are
// fanned out concurrently and cached for a short TTL so that dashboard
// polling never hammers the database.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/simplechat/simplechat/internal/log"
	"github.com/simplechat/simplechat/internal/metrics"
)

// Directory provides tenant-level counts.
type Directory interface {
	CountUsers(ctx context.Context) (int64, error)
	CountGroups(ctx context.Context) (int64, error)
	CountNotifications(ctx context.Context) (int64, error)
}

// Conversations provides conversation-level counts.
type Conversations interface {
	CountConversations(ctx context.Context) (int64, error)
	CountMessages(ctx context.Context) (int64, error)
}

// Documents provides document counts and storage estimates.
type Documents interface {
	CountDocuments(ctx context.Context) (int64, error)
	StorageByScope(ctx context.Context) (map[string]int64, error)
}

// ActivitySnapshot is a point-in-time view of system activity.
type ActivitySnapshot struct {
	Users               int64            `json:"users"`
	Groups              int64            `json:"groups"`
	Conversations       int64            `json:"conversations"`
	Messages            int64            `json:"messages"`
	Documents           int64            `json:"documents"`
	UnreadNotifications int64            `json:"unread_notifications"`
	StorageByScope      map[string]int64 `json:"storage_by_scope"`
	TotalStorageBytes   int64            `json:"total_storage_bytes"`
	GeneratedAt         time.Time        `json:"generated_at"`
}

// Collector computes and caches activity snapshots.
type Collector struct {
	dir    Directory
	convs  Conversations
	docs   Documents
	ttl    time.Duration
	logger log.Logger

	now func() time.Time

	mu     sync.RWMutex
	cached *ActivitySnapshot

	group singleflight.Group
}

// NewCollector builds a Collector. A non-positive ttl disables caching.
func NewCollector(dir Directory, convs Conversations, docs Documents, ttl time.Duration, logger log.Logger) *Collector {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Collector{
		dir:    dir,
		convs:  convs,
		docs:   docs,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Snapshot returns the current activity snapshot. A cached snapshot younger
// than the TTL is returned as-is; otherwise the counts are recomputed.
// Concurrent callers past an expired snapshot share a single recomputation.
func (c *Collector) Snapshot(ctx context.Context) (*ActivitySnapshot, error) {
	if snap := c.cachedFresh(); snap != nil {
		return snap, nil
	}

	v, err, _ := c.group.Do("snapshot", func() (any, error) {
		// Another caller may have finished the refresh while this one
		// waited on the singleflight lock.
		if snap := c.cachedFresh(); snap != nil {
			return snap, nil
		}

		snap, err := c.collect(ctx)
		if err != nil {
			metrics.SnapshotRefreshes.WithLabelValues("error").Inc()
			return nil, err
		}

		metrics.SnapshotRefreshes.WithLabelValues("ok").Inc()
		c.publish(snap)

		c.mu.Lock()
		c.cached = snap
		c.mu.Unlock()

		return snap, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*ActivitySnapshot), nil
}

// Invalidate drops the cached snapshot so the next call recomputes.
func (c *Collector) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

func (c *Collector) cachedFresh() *ActivitySnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cached == nil || c.ttl <= 0 {
		return nil
	}

	if c.now().Sub(c.cached.GeneratedAt) >= c.ttl {
		return nil
	}

	return c.cached
}

// collect fans out the aggregate queries concurrently. Any failing query
// fails the whole snapshot.
func (c *Collector) collect(ctx context.Context) (*ActivitySnapshot, error) {
	start := c.now()
	snap := &ActivitySnapshot{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		snap.Users, err = c.dir.CountUsers(gctx)
		if err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		snap.Groups, err = c.dir.CountGroups(gctx)
		if err != nil {
			return fmt.Errorf("count groups: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		snap.UnreadNotifications, err = c.dir.CountNotifications(gctx)
		if err != nil {
			return fmt.Errorf("count notifications: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		snap.Conversations, err = c.convs.CountConversations(gctx)
		if err != nil {
			return fmt.Errorf("count conversations: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		snap.Messages, err = c.convs.CountMessages(gctx)
		if err != nil {
			return fmt.Errorf("count messages: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		snap.Documents, err = c.docs.CountDocuments(gctx)
		if err != nil {
			return fmt.Errorf("count documents: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		snap.StorageByScope, err = c.docs.StorageByScope(gctx)
		if err != nil {
			return fmt.Errorf("storage by scope: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, bytes := range snap.StorageByScope {
		snap.TotalStorageBytes += bytes
	}
	snap.GeneratedAt = c.now()

	c.logger.Debug("activity snapshot collected",
		"duration", snap.GeneratedAt.Sub(start),
		"users", snap.Users,
		"conversations", snap.Conversations,
		"documents", snap.Documents)

	return snap, nil
}

// publish mirrors the snapshot into the Prometheus gauges.
func (c *Collector) publish(snap *ActivitySnapshot) {
	metrics.ActivityUsers.Set(float64(snap.Users))
	metrics.ActivityGroups.Set(float64(snap.Groups))
	metrics.ActivityConversations.Set(float64(snap.Conversations))
	metrics.ActivityMessages.Set(float64(snap.Messages))
	metrics.ActivityDocuments.Set(float64(snap.Documents))

	for scope, bytes := range snap.StorageByScope {
		metrics.ActivityStorageBytes.WithLabelValues(scope).Set(float64(bytes))
	}
}

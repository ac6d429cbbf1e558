package chain

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/remindfi/remind-network/reminders/metrics"
	"github.com/rs/zerolog"
)

type TaskSource interface {
	TaskCount(ctx context.Context) (uint64, error)
	// Tasks returns one slot per id, nil where the read failed.
	Tasks(ctx context.Context, ids []uint64) ([]*Task, error)
}

type CacheConfig struct {
	TTL                time.Duration
	MinRefreshInterval time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:                60 * time.Second,
		MinRefreshInterval: 30 * time.Second,
	}
}

type RefreshResult string

const (
	RefreshChanged   RefreshResult = "changed"
	RefreshUnchanged RefreshResult = "unchanged"
	RefreshSkipped   RefreshResult = "skipped"
	RefreshBusy      RefreshResult = "busy"
	RefreshFailed    RefreshResult = "failed"
)

type cacheEntry struct {
	task      *Task
	fetchedAt time.Time
}

// TaskCache keeps the last known-good task set and notifies subscribers only on real changes.
type TaskCache struct {
	src TaskSource
	cfg CacheConfig
	log zerolog.Logger
	now func() time.Time

	refreshing atomic.Bool

	mx          sync.RWMutex
	entries     map[uint64]cacheEntry
	lastRefresh time.Time

	subsMx  sync.Mutex
	subs    map[int]func([]*Task)
	nextSub int
}

func NewTaskCache(src TaskSource, cfg CacheConfig, logger zerolog.Logger) *TaskCache {
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MinRefreshInterval < 0 {
		cfg.MinRefreshInterval = def.MinRefreshInterval
	}

	return &TaskCache{
		src:     src,
		cfg:     cfg,
		log:     logger.With().Str("source", "task-cache").Logger(),
		now:     time.Now,
		entries: map[uint64]cacheEntry{},
		subs:    map[int]func([]*Task){},
	}
}

// Subscribe registers f to receive the new snapshot after a material change.
func (c *TaskCache) Subscribe(f func([]*Task)) (unsubscribe func()) {
	c.subsMx.Lock()
	defer c.subsMx.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = f

	return func() {
		c.subsMx.Lock()
		defer c.subsMx.Unlock()
		delete(c.subs, id)
	}
}

// Refresh reloads all tasks. A concurrent call while one is running is dropped, not queued.
// On failure the previous snapshot stays in place.
func (c *TaskCache) Refresh(ctx context.Context, force bool) (res RefreshResult, err error) {
	defer func() {
		if metrics.Registered {
			metrics.TaskCacheRefreshes.WithLabelValues(string(res)).Inc()
		}
	}()

	if !force && !c.needsRefresh() {
		return RefreshSkipped, nil
	}

	if !c.refreshing.CompareAndSwap(false, true) {
		return RefreshBusy, nil
	}
	defer c.refreshing.Store(false)

	count, err := c.src.TaskCount(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to get task count, serving stale snapshot")
		return RefreshFailed, err
	}

	ids := make([]uint64, 0, count)
	for id := uint64(1); id <= count; id++ {
		ids = append(ids, id)
	}

	tasks, err := c.src.Tasks(ctx, ids)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to get tasks, serving stale snapshot")
		return RefreshFailed, err
	}

	now := c.now()

	c.mx.Lock()
	prev := c.snapshotLocked()

	next := make(map[uint64]cacheEntry, len(ids))
	holes := 0
	for i, id := range ids {
		if i < len(tasks) && tasks[i] != nil {
			next[id] = cacheEntry{task: tasks[i], fetchedAt: now}
			continue
		}

		holes++
		// stale is better than blank, the old fetch time makes it refresh next time
		if old, ok := c.entries[id]; ok {
			next[id] = old
		}
	}

	c.entries = next
	c.lastRefresh = now
	snap := c.snapshotLocked()
	c.mx.Unlock()

	if metrics.Registered {
		metrics.CachedTasks.Set(float64(len(snap)))
	}

	if holes > 0 {
		c.log.Warn().Int("holes", holes).Int("total", len(ids)).Msg("some tasks were not fetched")
	}

	if sameSnapshot(prev, snap) {
		return RefreshUnchanged, nil
	}

	c.notify(snap)
	return RefreshChanged, nil
}

// Get returns a cached task while it is fresh, otherwise reads it from the source.
// If the read fails and an older copy exists, the older copy is returned.
func (c *TaskCache) Get(ctx context.Context, id uint64) (*Task, error) {
	c.mx.RLock()
	e, ok := c.entries[id]
	c.mx.RUnlock()

	if ok && c.now().Sub(e.fetchedAt) < c.cfg.TTL {
		return e.task, nil
	}

	tasks, err := c.src.Tasks(ctx, []uint64{id})
	if err == nil && (len(tasks) == 0 || tasks[0] == nil) {
		err = ErrChainExhausted
	}
	if err != nil {
		if ok {
			c.log.Debug().Err(err).Uint64("task", id).Msg("serving stale task")
			return e.task, nil
		}
		return nil, err
	}

	c.mx.Lock()
	c.entries[id] = cacheEntry{task: tasks[0], fetchedAt: c.now()}
	c.mx.Unlock()

	return tasks[0], nil
}

// Snapshot returns cached tasks ordered by id.
func (c *TaskCache) Snapshot() []*Task {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return c.snapshotLocked()
}

func (c *TaskCache) LastRefresh() time.Time {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return c.lastRefresh
}

func (c *TaskCache) needsRefresh() bool {
	c.mx.RLock()
	defer c.mx.RUnlock()

	if c.lastRefresh.IsZero() {
		return true
	}

	now := c.now()
	if now.Sub(c.lastRefresh) >= c.cfg.MinRefreshInterval {
		return true
	}

	for _, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.cfg.TTL {
			return true
		}
	}
	return false
}

func (c *TaskCache) snapshotLocked() []*Task {
	list := make([]*Task, 0, len(c.entries))
	for _, e := range c.entries {
		list = append(list, e.task)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

func (c *TaskCache) notify(snap []*Task) {
	c.subsMx.Lock()
	subs := make([]func([]*Task), 0, len(c.subs))
	for _, f := range c.subs {
		subs = append(subs, f)
	}
	c.subsMx.Unlock()

	for _, f := range subs {
		f(snap)
	}
}

func sameSnapshot(a, b []*Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].SameDisplay(b[i]) {
			return false
		}
	}
	return true
}

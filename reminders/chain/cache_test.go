package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mx     sync.Mutex
	tasks  map[uint64]*Task
	count  uint64
	err    error
	holes  map[uint64]bool
	block  chan struct{}
	reads  int
	counts int
}

func (f *fakeSource) TaskCount(ctx context.Context) (uint64, error) {
	if f.block != nil {
		<-f.block
	}

	f.mx.Lock()
	defer f.mx.Unlock()
	f.counts++
	return f.count, f.err
}

func (f *fakeSource) Tasks(ctx context.Context, ids []uint64) ([]*Task, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.reads++
	if f.err != nil {
		return nil, f.err
	}

	res := make([]*Task, len(ids))
	for i, id := range ids {
		if f.holes[id] {
			continue
		}
		if t, ok := f.tasks[id]; ok {
			cp := *t
			res[i] = &cp
		}
	}
	return res, nil
}

func (f *fakeSource) set(t *Task) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.tasks[t.ID] = t
	if t.ID > f.count {
		f.count = t.ID
	}
}

func testTask(id uint64, pool int64) *Task {
	return &Task{
		ID:              id,
		RewardPool:      big.NewInt(pool),
		CommitAmount:    big.NewInt(pool * 10),
		Deadline:        time.Unix(1700000000, 0),
		Description:     "ship it",
		FarcasterHandle: "alice",
	}
}

type testClock struct {
	mx sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.t
}

func (c *testClock) add(d time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache(src TaskSource) (*TaskCache, *testClock) {
	clock := &testClock{t: time.Unix(1700000000, 0)}
	c := NewTaskCache(src, DefaultCacheConfig(), zerolog.Nop())
	c.now = clock.now
	return c, clock
}

func TestTaskCache_ChangeSuppression(t *testing.T) {
	src := &fakeSource{tasks: map[uint64]*Task{}}
	src.set(testTask(1, 100))
	src.set(testTask(2, 200))

	c, _ := newTestCache(src)

	var notified [][]*Task
	unsub := c.Subscribe(func(list []*Task) {
		notified = append(notified, list)
	})
	defer unsub()

	res, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, RefreshChanged, res)
	require.Len(t, notified, 1)
	require.Len(t, notified[0], 2)

	// identical content, new pointers
	res, err = c.Refresh(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, RefreshUnchanged, res)
	require.Len(t, notified, 1)

	src.set(&Task{ID: 2, RewardPool: big.NewInt(200), CommitAmount: big.NewInt(2000),
		Deadline: time.Unix(1700000000, 0), Description: "ship it", FarcasterHandle: "alice", Resolved: true})

	res, err = c.Refresh(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, RefreshChanged, res)
	require.Len(t, notified, 2)
	require.True(t, notified[1][1].Resolved)
}

func TestTaskCache_MinRefreshInterval(t *testing.T) {
	src := &fakeSource{tasks: map[uint64]*Task{}}
	src.set(testTask(1, 100))

	c, clock := newTestCache(src)

	_, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, src.counts)

	clock.add(10 * time.Second)
	res, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, RefreshSkipped, res)
	require.Equal(t, 1, src.counts)

	res, err = c.Refresh(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, RefreshUnchanged, res)
	require.Equal(t, 2, src.counts)

	clock.add(31 * time.Second)
	res, err = c.Refresh(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, RefreshUnchanged, res)
	require.Equal(t, 3, src.counts)
}

func TestTaskCache_InFlightGuard(t *testing.T) {
	src := &fakeSource{tasks: map[uint64]*Task{}, block: make(chan struct{})}
	src.set(testTask(1, 100))

	c, _ := newTestCache(src)

	done := make(chan RefreshResult)
	go func() {
		res, _ := c.Refresh(context.Background(), true)
		done <- res
	}()

	require.Eventually(t, c.refreshing.Load, time.Second, time.Millisecond)

	res, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, RefreshBusy, res)

	close(src.block)
	require.Equal(t, RefreshChanged, <-done)
	require.Equal(t, 1, src.counts)
}

func TestTaskCache_StaleOnFailure(t *testing.T) {
	src := &fakeSource{tasks: map[uint64]*Task{}}
	src.set(testTask(1, 100))
	src.set(testTask(2, 200))

	c, clock := newTestCache(src)

	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	src.err = ErrChainExhausted
	res, err := c.Refresh(context.Background(), true)
	require.ErrorIs(t, err, ErrChainExhausted)
	require.Equal(t, RefreshFailed, res)
	require.Len(t, c.Snapshot(), 2)

	clock.add(2 * time.Minute)
	task, err := c.Get(context.Background(), 2)
	require.NoError(t, err)
	require.EqualValues(t, 200, task.RewardPool.Int64())

	_, err = c.Get(context.Background(), 3)
	require.True(t, errors.Is(err, ErrChainExhausted))

	// partial failure keeps the previous copy of the missing task
	src.err = nil
	src.holes = map[uint64]bool{1: true}
	res, err = c.Refresh(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, RefreshUnchanged, res)
	require.Len(t, c.Snapshot(), 2)
}

func TestTaskCache_GetFresh(t *testing.T) {
	src := &fakeSource{tasks: map[uint64]*Task{}}
	src.set(testTask(5, 500))

	c, clock := newTestCache(src)

	task, err := c.Get(context.Background(), 5)
	require.NoError(t, err)
	require.EqualValues(t, 5, task.ID)
	require.Equal(t, 1, src.reads)

	_, err = c.Get(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 1, src.reads)

	clock.add(61 * time.Second)
	_, err = c.Get(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 2, src.reads)
}

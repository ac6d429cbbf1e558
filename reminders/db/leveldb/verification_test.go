package leveldb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remindfi/remind-network/reminders/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	d, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func pendingRecord(id, account string, createdAt time.Time) *db.Verification {
	return &db.Verification{
		ID:                id,
		TaskID:            1,
		ClaimantAccountID: account,
		ClaimantAddress:   "0x1111111111111111111111111111111111111111",
		TargetHandle:      "alice",
		Status:            db.VerificationStatusPending,
		CreatedAt:         createdAt,
		ExpiresAt:         createdAt.Add(10 * time.Minute),
	}
}

func TestDB_CreateGet(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, d.CreateVerification(ctx, pendingRecord("a", "10", now)))
	require.ErrorIs(t, d.CreateVerification(ctx, pendingRecord("a", "10", now)), db.ErrAlreadyExists)

	v, err := d.GetVerification(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "alice", v.TargetHandle)
	require.True(t, v.CreatedAt.Equal(now))

	_, err = d.GetVerification(ctx, "missing")
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestDB_ConditionalUpdateRace(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	now := time.Now()

	require.NoError(t, d.CreateVerification(ctx, pendingRecord("race", "10", now)))

	const n = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			score := float64(i) / n
			at := now.Add(time.Second)
			ok, err := d.ConditionalUpdate(ctx, "race", db.Condition{
				Status: db.VerificationStatusPending,
				Now:    at,
				Live:   true,
			}, db.Update{
				Status:          db.VerificationStatusVerified,
				VerifiedAt:      &at,
				Score:           &score,
				EstimatedReward: fmt.Sprint(i),
			})
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())

	v, err := d.GetVerification(ctx, "race")
	require.NoError(t, err)
	require.Equal(t, db.VerificationStatusVerified, v.Status)
	require.NotNil(t, v.Score)
	require.Equal(t, fmt.Sprint(int(*v.Score*n+0.5)), v.EstimatedReward)

	list, err := d.ListPendingByClaimant(ctx, "10")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestDB_ConditionalUpdateLapsed(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	created := time.Now().Add(-time.Hour)

	require.NoError(t, d.CreateVerification(ctx, pendingRecord("old", "10", created)))

	score := 0.9
	ok, err := d.ConditionalUpdate(ctx, "old", db.Condition{
		Status: db.VerificationStatusPending,
		Now:    time.Now(),
		Live:   true,
	}, db.Update{Status: db.VerificationStatusVerified, Score: &score, EstimatedReward: "1"})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = d.ConditionalUpdate(ctx, "old", db.Condition{
		Status: db.VerificationStatusPending,
		Now:    time.Now(),
		Lapsed: true,
	}, db.Update{Status: db.VerificationStatusExpired, Score: &score})
	require.NoError(t, err)
	require.True(t, ok)

	v, err := d.GetVerification(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, db.VerificationStatusExpired, v.Status)
	require.Nil(t, v.Score)
	require.Empty(t, v.EstimatedReward)

	_, err = d.ConditionalUpdate(ctx, "nope", db.Condition{Status: db.VerificationStatusPending}, db.Update{})
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestDB_CancelledUpdateNotApplied(t *testing.T) {
	d := newTestDB(t)
	now := time.Now()
	require.NoError(t, d.CreateVerification(context.Background(), pendingRecord("c", "10", now)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	score := 0.7
	_, err := d.ConditionalUpdate(ctx, "c", db.Condition{
		Status: db.VerificationStatusPending,
		Now:    now,
		Live:   true,
	}, db.Update{Status: db.VerificationStatusVerified, Score: &score, EstimatedReward: "1"})
	require.ErrorIs(t, err, context.Canceled)

	v, err := d.GetVerification(context.Background(), "c")
	require.NoError(t, err)
	require.Equal(t, db.VerificationStatusPending, v.Status)
}

func TestDB_ListPendingByClaimant(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	now := time.Now()

	require.NoError(t, d.CreateVerification(ctx, pendingRecord("b", "10", now.Add(time.Second))))
	require.NoError(t, d.CreateVerification(ctx, pendingRecord("a", "10", now)))
	require.NoError(t, d.CreateVerification(ctx, pendingRecord("c", "100", now)))

	list, err := d.ListPendingByClaimant(ctx, "10")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "a", list[0].ID)
	require.Equal(t, "b", list[1].ID)
}

func TestDB_MarkEventProcessed(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	seen, err := d.EventProcessed(ctx, "0xabc")
	require.NoError(t, err)
	require.False(t, seen)

	fresh, err := d.MarkEventProcessed(ctx, "0xabc", time.Now())
	require.NoError(t, err)
	require.True(t, fresh)

	fresh, err = d.MarkEventProcessed(ctx, "0xabc", time.Now())
	require.NoError(t, err)
	require.False(t, fresh)

	seen, err = d.EventProcessed(ctx, "0xabc")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestDB_UpdateDiscardedOnCancel(t *testing.T) {
	d := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := d.update(ctx, func(tx *writeTx) error {
		tx.put(eventKey("late"), []byte("x"))
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	seen, err := d.EventProcessed(context.Background(), "late")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestDB_Migrations(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	ver, err := d.SchemaVersion()
	require.NoError(t, err)
	require.Zero(t, ver)

	require.NoError(t, d.CreateVerification(ctx, pendingRecord("a", "10", time.Now())))
	require.NoError(t, d.ldb.Delete(pendingIndexKey("10", "a"), nil))

	list, err := d.ListPendingByClaimant(ctx, "10")
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, d.Migrate(ctx, false))

	ver, err = d.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, len(Migrations), ver)

	list, err = d.ListPendingByClaimant(ctx, "10")
	require.NoError(t, err)
	require.Len(t, list, 1)

	// up to date, no-op
	require.NoError(t, d.Migrate(ctx, true))
}

func TestDB_OpenAndBackup(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store")

	d, fresh, err := Open(path)
	require.NoError(t, err)
	require.True(t, fresh)
	defer d.Close()

	ver, err := d.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, len(Migrations), ver)

	require.NoError(t, d.CreateVerification(ctx, pendingRecord("a", "10", time.Now())))

	dir, err := d.Backup()
	require.NoError(t, err)

	// source stays usable after a backup
	require.NoError(t, d.CreateVerification(ctx, pendingRecord("b", "10", time.Now())))

	cp, fresh, err := Open(dir)
	require.NoError(t, err)
	require.False(t, fresh)
	defer cp.Close()

	_, err = cp.GetVerification(ctx, "a")
	require.NoError(t, err)
	_, err = cp.GetVerification(ctx, "b")
	require.ErrorIs(t, err, db.ErrNotFound)

	mem, err := OpenMemory()
	require.NoError(t, err)
	defer mem.Close()
	_, err = mem.Backup()
	require.ErrorIs(t, err, errMemoryBackup)
}

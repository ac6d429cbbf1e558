package postgres

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/remindfi/remind-network/reminders/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real database only, set REMIND_TEST_POSTGRES_DSN to enable.
func newTestDB(t *testing.T) *DB {
	dsn := os.Getenv("REMIND_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REMIND_TEST_POSTGRES_DSN is not set")
	}

	d, err := NewDB(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestDB_ConditionalUpdateRace(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	now := time.Now().UTC()
	id := uuid.NewString()
	account := uuid.NewString()
	require.NoError(t, d.CreateVerification(ctx, &db.Verification{
		ID:                id,
		TaskID:            3,
		ClaimantAccountID: account,
		ClaimantAddress:   "0x1111111111111111111111111111111111111111",
		TargetHandle:      "alice",
		Status:            db.VerificationStatusPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(10 * time.Minute),
	}))

	list, err := d.ListPendingByClaimant(ctx, account)
	require.NoError(t, err)
	require.Len(t, list, 1)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			score := float64(i) / 10
			ok, err := d.ConditionalUpdate(ctx, id, db.Condition{
				Status: db.VerificationStatusPending,
				Now:    time.Now(),
				Live:   true,
			}, db.Update{
				Status:          db.VerificationStatusVerified,
				VerifiedAt:      &now,
				Score:           &score,
				EstimatedReward: "1",
				VerifiedBy:      db.VerifiedByPoll,
			})
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())

	v, err := d.GetVerification(ctx, id)
	require.NoError(t, err)
	require.Equal(t, db.VerificationStatusVerified, v.Status)
	require.Equal(t, "1", v.EstimatedReward)

	seen, err := d.EventProcessed(ctx, id)
	require.NoError(t, err)
	require.False(t, seen)
	fresh, err := d.MarkEventProcessed(ctx, id, now)
	require.NoError(t, err)
	require.True(t, fresh)
	fresh, err = d.MarkEventProcessed(ctx, id, now)
	require.NoError(t, err)
	require.False(t, fresh)
	seen, err = d.EventProcessed(ctx, id)
	require.NoError(t, err)
	require.True(t, seen)
}

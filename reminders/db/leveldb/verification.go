package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/remindfi/remind-network/reminders/db"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	v:<id>              verification json
//	vp:<account>:<id>   pending index, value is the v: key
//	ev:<event id>       processed ingress event, value is the mark time
func verificationKey(id string) []byte {
	return []byte("v:" + id)
}

func pendingPrefix(accountID string) []byte {
	return []byte("vp:" + accountID + ":")
}

func pendingIndexKey(accountID, id string) []byte {
	return append(pendingPrefix(accountID), id...)
}

func eventKey(eventID string) []byte {
	return []byte("ev:" + eventID)
}

func decodeVerification(data []byte) (*db.Verification, error) {
	var v db.Verification
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode verification: %w", err)
	}
	return &v, nil
}

func (d *DB) CreateVerification(ctx context.Context, v *db.Verification) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode verification: %w", err)
	}
	key := verificationKey(v.ID)

	return d.update(ctx, func(tx *writeTx) error {
		exists, err := tx.has(key)
		if err != nil {
			return fmt.Errorf("failed to check existence: %w", err)
		}
		if exists {
			return db.ErrAlreadyExists
		}

		tx.put(key, data)
		if v.Status == db.VerificationStatusPending {
			tx.put(pendingIndexKey(v.ClaimantAccountID, v.ID), key)
		}
		return nil
	})
}

func (d *DB) GetVerification(_ context.Context, id string) (*db.Verification, error) {
	data, err := d.ldb.Get(verificationKey(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}
	return decodeVerification(data)
}

// ListPendingByClaimant walks the pending index over one snapshot, oldest record first.
func (d *DB) ListPendingByClaimant(ctx context.Context, accountID string) ([]*db.Verification, error) {
	snap, err := d.ldb.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to get db snapshot: %w", err)
	}
	defer snap.Release()

	iter := snap.NewIterator(util.BytesPrefix(pendingPrefix(accountID)), nil)
	defer iter.Release()

	var res []*db.Verification
	for iter.Next() {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		data, err := snap.Get(iter.Value(), nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get indexed verification: %w", err)
		}

		v, err := decodeVerification(data)
		if err != nil {
			return nil, err
		}
		// stale index entry
		if v.Status != db.VerificationStatusPending {
			continue
		}
		res = append(res, v)
	}
	if err = iter.Error(); err != nil {
		return nil, err
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// ConditionalUpdate checks and writes under the writer lock, concurrent callers
// observe each other's result.
func (d *DB) ConditionalUpdate(ctx context.Context, id string, cond db.Condition, upd db.Update) (bool, error) {
	applied := false
	key := verificationKey(id)

	err := d.update(ctx, func(tx *writeTx) error {
		data, ok, err := tx.get(key)
		if err != nil {
			return fmt.Errorf("failed to get verification: %w", err)
		}
		if !ok {
			return db.ErrNotFound
		}

		v, err := decodeVerification(data)
		if err != nil {
			return err
		}
		if !cond.Holds(v) {
			return nil
		}

		wasPending := v.Status == db.VerificationStatusPending
		upd.Apply(v)

		if data, err = json.Marshal(v); err != nil {
			return fmt.Errorf("failed to encode verification: %w", err)
		}
		tx.put(key, data)
		if wasPending && v.Status != db.VerificationStatusPending {
			tx.del(pendingIndexKey(v.ClaimantAccountID, v.ID))
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (d *DB) EventProcessed(_ context.Context, eventID string) (bool, error) {
	ok, err := d.ldb.Has(eventKey(eventID), nil)
	if err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return ok, nil
}

func (d *DB) MarkEventProcessed(ctx context.Context, eventID string, at time.Time) (bool, error) {
	key := eventKey(eventID)
	fresh := false

	err := d.update(ctx, func(tx *writeTx) error {
		seen, err := tx.has(key)
		if err != nil {
			return fmt.Errorf("failed to check event: %w", err)
		}
		if seen {
			return nil
		}

		tx.put(key, []byte(at.UTC().Format(time.RFC3339Nano)))
		fresh = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return fresh, nil
}

package leveldb

import (
	"context"
	"fmt"

	"github.com/remindfi/remind-network/pkg/log"
	"github.com/remindfi/remind-network/reminders/db"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Migration buffers its changes in tx, the schema bump is committed with them.
type Migration func(tx *writeTx) error

var Migrations = []Migration{rebuildPendingIndex}

// rebuildPendingIndex recreates the vp: entry of every pending record.
func rebuildPendingIndex(tx *writeTx) error {
	iter := tx.snap.NewIterator(util.BytesPrefix([]byte("v:")), nil)
	defer iter.Release()

	restored := 0
	for iter.Next() {
		v, err := decodeVerification(iter.Value())
		if err != nil {
			return err
		}
		if v.Status != db.VerificationStatusPending {
			continue
		}

		tx.put(pendingIndexKey(v.ClaimantAccountID, v.ID), verificationKey(v.ID))
		restored++
	}
	if err := iter.Error(); err != nil {
		return err
	}

	log.Debug().Int("records", restored).Msg("pending index rebuilt")
	return nil
}

// Migrate applies the migrations the database has not seen yet, one commit
// each. With backup set a copy is taken first when anything is due.
func (d *DB) Migrate(ctx context.Context, backup bool) error {
	version, err := d.SchemaVersion()
	if err != nil {
		return err
	}
	if version >= len(Migrations) {
		return nil
	}

	if backup {
		dir, err := d.Backup()
		if err != nil {
			return fmt.Errorf("failed to backup before migration: %w", err)
		}
		log.Info().Str("dir", dir).Int("from", version).Int("to", len(Migrations)).Msg("db backed up for migration")
	}

	for i := version; i < len(Migrations); i++ {
		err = d.update(ctx, func(tx *writeTx) error {
			if err := Migrations[i](tx); err != nil {
				return err
			}
			tx.put(schemaKey, encodeVersion(i+1))
			return nil
		})
		if err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		log.Info().Int("version", i+1).Msg("db migrated")
	}
	return nil
}

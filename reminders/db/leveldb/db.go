package leveldb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

var schemaKey = []byte("meta:schema")

var errMemoryBackup = errors.New("backup is not supported for in-memory db")

// DB stores verification records in a local leveldb. Writers are serialized
// and each commits one synced batch, readers go to the live database.
type DB struct {
	path string
	ldb  *leveldb.DB

	// mu serializes writers, it is the only thing making read-check-write atomic.
	mu sync.Mutex
}

// writeTx reads from a snapshot taken under the writer lock and buffers
// mutations until commit. Its own puts are not visible to its reads.
type writeTx struct {
	snap  *leveldb.Snapshot
	batch *leveldb.Batch
}

func (t *writeTx) get(key []byte) ([]byte, bool, error) {
	data, err := t.snap.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (t *writeTx) has(key []byte) (bool, error) {
	return t.snap.Has(key, nil)
}

func (t *writeTx) put(key, value []byte) {
	t.batch.Put(key, value)
}

func (t *writeTx) del(key []byte) {
	t.batch.Delete(key)
}

// Open opens or creates the database at path. A new database is stamped with
// the latest schema version, so migrations only run for existing ones.
func Open(path string) (*DB, bool, error) {
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, false, err
	}

	d := &DB{path: path, ldb: ldb}
	if fresh {
		if err = d.update(context.Background(), func(tx *writeTx) error {
			tx.put(schemaKey, encodeVersion(len(Migrations)))
			return nil
		}); err != nil {
			ldb.Close()
			return nil, false, fmt.Errorf("failed to stamp schema version: %w", err)
		}
	}
	return d, fresh, nil
}

// OpenMemory opens a database kept fully in memory.
func OpenMemory() (*DB, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &DB{ldb: ldb}, nil
}

func (d *DB) Close() {
	d.ldb.Close()
}

// update runs f against a consistent snapshot and commits what it buffered.
// Nothing is written when f fails or ctx is done before commit.
func (d *DB) update(ctx context.Context, f func(tx *writeTx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap, err := d.ldb.GetSnapshot()
	if err != nil {
		return fmt.Errorf("failed to get db snapshot: %w", err)
	}
	defer snap.Release()

	tx := &writeTx{snap: snap, batch: new(leveldb.Batch)}
	if err = f(tx); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if tx.batch.Len() == 0 {
		return nil
	}

	if err = d.ldb.Write(tx.batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// SchemaVersion returns how many migrations were applied, 0 for an unstamped database.
func (d *DB) SchemaVersion() (int, error) {
	data, err := d.ldb.Get(schemaKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("schema version has %d bytes", len(data))
	}
	return int(binary.BigEndian.Uint64(data)), nil
}

func encodeVersion(v int) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

// Backup writes a point in time copy of every key into a new database next to
// the original one and returns its directory. The source stays open.
func (d *DB) Backup() (string, error) {
	if d.path == "" {
		return "", errMemoryBackup
	}

	snap, err := d.ldb.GetSnapshot()
	if err != nil {
		return "", fmt.Errorf("failed to get db snapshot: %w", err)
	}
	defer snap.Release()

	dir := fmt.Sprintf("%s.bak-%s", d.path, time.Now().UTC().Format("20060102T150405.000"))
	dst, err := leveldb.OpenFile(dir, &opt.Options{ErrorIfExist: true})
	if err != nil {
		return "", fmt.Errorf("failed to create backup db: %w", err)
	}
	defer dst.Close()

	if err = copyKeys(snap, dst); err != nil {
		return "", fmt.Errorf("failed to copy into %s: %w", dir, err)
	}
	return dir, nil
}

const backupChunk = 1024

func copyKeys(src *leveldb.Snapshot, dst *leveldb.DB) error {
	iter := src.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Put(iter.Key(), iter.Value())
		if batch.Len() < backupChunk {
			continue
		}
		if err := dst.Write(batch, nil); err != nil {
			return err
		}
		batch.Reset()
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return dst.Write(batch, &opt.WriteOptions{Sync: true})
}

// Package journal provides an optional BadgerDB-backed write-ahead log for
// pkg/cache's dirty blocks, so a process restart can replay unflushed
// writes before the LRU resumes serving — the same crash-recovery idea
// dittofs's mmap-backed WAL serves for its metadata store, adapted onto a
// key/value store that is already part of this module's dependency surface.
//
// Keys are namespaced per export the way dittofs's badger metadata store
// namespaces its own key space ("f:", "s:", "l:", ...): "j:<export>:<blockID>".
package journal

import (
	"context"
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Journal wraps one on-disk BadgerDB instance shared by every export's
// write-ahead log.
type Journal struct {
	db *badger.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Scope returns the write-ahead log namespace for one export, implementing
// pkg/cache's Journal interface.
func (j *Journal) Scope(export string) *ExportJournal {
	return &ExportJournal{db: j.db, prefix: []byte("j:" + export + ":")}
}

// ExportJournal is one export's slice of the shared journal keyspace.
type ExportJournal struct {
	db     *badger.DB
	prefix []byte
}

func (e *ExportJournal) key(blockID int64) []byte {
	k := make([]byte, len(e.prefix)+8)
	copy(k, e.prefix)
	binary.BigEndian.PutUint64(k[len(e.prefix):], uint64(blockID))
	return k
}

// Append durably records a dirty block, overwriting any prior entry for the
// same block ID.
func (e *ExportJournal) Append(ctx context.Context, blockID int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(e.key(blockID), buf)
	})
}

// Remove drops a block's journal entry once it has been durably written
// back to the lower provider.
func (e *ExportJournal) Remove(ctx context.Context, blockID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(e.key(blockID))
	})
}

// Replay invokes fn once for every block still journaled for this export,
// in ascending block-ID order. Intended to run once at startup, before a
// cache begins serving requests, so a crash between a write-back
// acknowledgement and the actual lower-provider write is not silently lost.
func (e *ExportJournal) Replay(fn func(blockID int64, data []byte) error) error {
	return e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(e.prefix); it.ValidForPrefix(e.prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			blockID := int64(binary.BigEndian.Uint64(key[len(e.prefix):]))

			if err := item.Value(func(val []byte) error {
				buf := make([]byte, len(val))
				copy(buf, val)
				return fn(blockID, buf)
			}); err != nil {
				return fmt.Errorf("journal: replay block %d: %w", blockID, err)
			}
		}
		return nil
	})
}

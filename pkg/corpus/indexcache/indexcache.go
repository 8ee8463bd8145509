// Package indexcache persists per-archive enumeration results so that
// re-opening a large corpus does not re-probe every archive header.
//
// Entries are keyed by the archive's physical path and validated against
// its current byte size; a resized archive misses and is re-probed. Values
// are msgpack-encoded and stored in the BadgerDB directory given by
// Options.Dir.
package indexcache

import (
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "archive:"

// entry is the cached record for one archive.
type entry struct {
	Size      int64 `msgpack:"size"`
	NumFrames int64 `msgpack:"num_frames"`
}

// Cache is a badger-backed archive index cache.
type Cache struct {
	db *badger.DB
}

// Options configures a Cache.
type Options struct {
	// Dir is the BadgerDB directory. Required unless InMemory.
	Dir string

	// InMemory runs badger without disk persistence; used in tests.
	InMemory bool
}

// Open opens (or creates) the cache.
func Open(opts Options) (*Cache, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("indexcache: Options.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(quietLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("indexcache: open %s: %w", opts.Dir, err)
	}
	return &Cache{db: db}, nil
}

// Lookup returns the cached frame count for an archive, missing when the
// archive is unknown or its size changed since the entry was written.
func (c *Cache) Lookup(physical string, size int64) (numFrames int64, ok bool) {
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + physical))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var e entry
			if err := msgpack.Unmarshal(val, &e); err != nil {
				return err
			}
			if e.Size != size {
				return badger.ErrKeyNotFound
			}
			numFrames = e.NumFrames
			ok = true
			return nil
		})
	})
	if err != nil {
		return 0, false
	}
	return numFrames, ok
}

// Store records the frame count for an archive at its current size.
func (c *Cache) Store(physical string, size, numFrames int64) error {
	val, err := msgpack.Marshal(entry{Size: size, NumFrames: numFrames})
	if err != nil {
		return fmt.Errorf("indexcache: encode %s: %w", physical, err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+physical), val)
	})
	if err != nil {
		return fmt.Errorf("indexcache: store %s: %w", physical, err)
	}
	return nil
}

// Close releases the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// quietLogger routes badger's errors and warnings to slog at error and
// warn level, and its info and debug chatter at debug level.
type quietLogger struct{}

func (quietLogger) Errorf(f string, a ...interface{}) {
	slog.Error(fmt.Sprintf("indexcache: "+f, a...))
}
func (quietLogger) Warningf(f string, a ...interface{}) {
	slog.Warn(fmt.Sprintf("indexcache: "+f, a...))
}
func (quietLogger) Infof(f string, a ...interface{}) { slog.Debug(fmt.Sprintf("indexcache: "+f, a...)) }
func (quietLogger) Debugf(f string, a ...interface{}) {
	slog.Debug(fmt.Sprintf("indexcache: "+f, a...))
}

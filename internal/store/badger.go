package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"patternlattice/internal/logging"
)

var badgerPrefix = []byte("node/")

// BadgerConfig configures the Badger backend. An empty Path opens an
// in-memory database.
type BadgerConfig struct {
	Path       string
	SyncWrites bool
}

// Badger stores records in a BadgerDB key space under a fixed prefix.
type Badger struct {
	db       *badger.DB
	inMemory bool
}

// badgerLogger routes BadgerDB's own messages to the store logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.StoreError(format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.StoreWarn(format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.StoreDebug(format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.StoreDebug(format, args...)
}

// OpenBadger opens the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db, inMemory: cfg.Path == ""}, nil
}

func badgerKey(id string) []byte {
	return append(append([]byte(nil), badgerPrefix...), id...)
}

func (b *Badger) Put(_ context.Context, id string, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(id), data)
	})
}

func (b *Badger) Get(_ context.Context, id string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *Badger) Count(context.Context) (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = badgerPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// CollectGarbage runs one value log garbage collection pass. In-memory
// databases have no value log.
func (b *Badger) CollectGarbage(discardRatio float64) error {
	if b.inMemory {
		return nil
	}
	err := b.db.RunValueLogGC(discardRatio)
	if err == nil {
		logging.StoreDebug("Badger value log GC completed")
		return nil
	}
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func (b *Badger) Close() error { return b.db.Close() }

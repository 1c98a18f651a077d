// Package kvstore implements the backing store on an embedded BadgerDB.
//
// Layout:
//
//	doc/<id>                  JSON document metadata (legacy content included)
//	chunk/<id>/<ordinal>      JSON chunk record with raw text bytes, ordinal zero-padded
//	token/<token>             JSON share token
//	tokdoc/<id>/<token>       empty index entry per token of a document
//
// Every multi-key write runs in one badger transaction. Transaction conflicts are
// reported as transient so the caller's retry policy applies.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

const defaultMaxBatchSize = 500

// Chunk text is stored base64 encoded inside the JSON record, so a batch of n
// text bytes costs about 4n/3 bytes plus keys and per-entry overhead. Half of
// badger's transaction byte limit leaves room for both.
const batchBytesDivisor = 2

type Config struct {
	// Path is the directory for BadgerDB files; ignored when InMemory is true.
	Path         string
	InMemory     bool
	SyncWrites   bool
	MaxBatchSize int
}

func InMemoryConfig() Config {
	return Config{InMemory: true, MaxBatchSize: defaultMaxBatchSize}
}

type Store struct {
	db         *badger.DB
	maxBatch   int
	batchBytes int
	feed       *feed
}

// badgerLogger routes badger's internal logs through zap.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent badger store")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logutil.GetLogger(context.Background()).Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatchSize
	}
	// badger also caps the entry count of one transaction; keep a margin for
	// keys written next to the chunks.
	if limit := int(db.MaxBatchCount()) - 1; limit > 0 && maxBatch > limit {
		maxBatch = limit
	}
	return &Store{
		db:         db,
		maxBatch:   maxBatch,
		batchBytes: int(db.MaxBatchSize() / batchBytesDivisor),
		feed:       newFeed(),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) MaxBatchSize() int {
	return s.maxBatch
}

// MaxBatchBytes is the chunk text budget of one PutChunks call, derived from
// badger's transaction size limit.
func (s *Store) MaxBatchBytes() int {
	return s.batchBytes
}

func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	return s.feed.watch(ctx), nil
}

func docKey(docID string) []byte {
	return []byte("doc/" + docID)
}

func chunkPrefix(docID string) []byte {
	return []byte("chunk/" + docID + "/")
}

func chunkKey(docID string, ordinal int) []byte {
	return []byte(fmt.Sprintf("chunk/%s/%010d", docID, ordinal))
}

func tokenKey(token string) []byte {
	return []byte("token/" + token)
}

func tokenDocPrefix(docID string) []byte {
	return []byte("tokdoc/" + docID + "/")
}

func tokenDocKey(docID, token string) []byte {
	return []byte("tokdoc/" + docID + "/" + token)
}

func getJSON(txn *badger.Txn, key []byte, dst interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key []byte, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// mapErr translates badger errors into the application taxonomy.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return appErr.ErrNotFound
	case errors.Is(err, badger.ErrConflict):
		// a conflicting transaction never commits
		return appErr.NotApplied(appErr.Unavailable(err))
	case errors.Is(err, badger.ErrTxnTooBig):
		return fmt.Errorf("batch exceeds badger transaction limit: %w: %v", appErr.ErrInvalid, err)
	}
	return err
}

package service

import (
	"context"
	"errors"
	"hash/maphash"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/notevault/internal/chunk"
	"github.com/xxxsen/notevault/internal/contentcache"
	"github.com/xxxsen/notevault/internal/metrics"
	"github.com/xxxsen/notevault/internal/model"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
	"github.com/xxxsen/notevault/internal/pkg/retry"
	"github.com/xxxsen/notevault/internal/store"
)

type Format int

const (
	FormatChunked Format = iota
	FormatLegacy
)

func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatChunked:
		return "chunked"
	}
	return "unknown"
}

// Classify is the single place that tells legacy documents from chunked ones.
// A document without chunks and without legacy content is chunked and empty.
func Classify(doc *model.Document) Format {
	if doc.ChunkCount <= 0 && doc.LegacyContent != "" {
		return FormatLegacy
	}
	return FormatChunked
}

const (
	// a read that hits a gap while the metadata moves is retried against the
	// fresh metadata at most this many times in total.
	maxReadAttempts  = 3
	writeLockStripes = 64
)

// MigrationDetector reads documents in either storage format and moves legacy
// documents to chunked storage on request. Content writes and migrations of one
// document are serialized within the process.
type MigrationDetector struct {
	docs   store.DocumentStore
	chunks *ChunkStore
	loader contentcache.Loader
	writer *contentWriter
	retry  retry.Config
	seed   maphash.Seed
	locks  [writeLockStripes]sync.Mutex
}

func NewMigrationDetector(docs store.DocumentStore, chunks *ChunkStore, retryCfg retry.Config, cacheSize int, cacheTTL, loadTimeout time.Duration) *MigrationDetector {
	d := &MigrationDetector{
		docs:   docs,
		chunks: chunks,
		writer: &contentWriter{docs: docs, chunks: chunks, retry: retryCfg},
		retry:  retryCfg,
		seed:   maphash.MakeSeed(),
	}
	d.loader = contentcache.WrapLruCacheToLoader(&chunkLoader{chunks: chunks}, cacheSize, cacheTTL, loadTimeout)
	return d
}

func (d *MigrationDetector) lockDocument(docID string) func() {
	m := &d.locks[maphash.String(d.seed, docID)%writeLockStripes]
	m.Lock()
	return m.Unlock
}

func (d *MigrationDetector) load(ctx context.Context, docID string) (*model.Document, error) {
	return retry.DoValue(ctx, d.retry, "get_document", func(ctx context.Context) (*model.Document, error) {
		return d.docs.GetDocument(ctx, docID)
	})
}

// ReadUnified returns the text of a document regardless of its storage format.
func (d *MigrationDetector) ReadUnified(ctx context.Context, docID string) (string, *model.Document, error) {
	doc, err := d.load(ctx, docID)
	if err != nil {
		return "", nil, err
	}
	return d.contentOf(ctx, doc)
}

// contentOf returns the text of doc and the metadata it was assembled against,
// which is newer than doc when a concurrent write moved the chunk set.
func (d *MigrationDetector) contentOf(ctx context.Context, doc *model.Document) (string, *model.Document, error) {
	for attempt := 1; ; attempt++ {
		text, err := d.assemble(ctx, doc)
		if err == nil {
			return text, doc, nil
		}
		var gap *appErr.ChunkGapError
		if !errors.As(err, &gap) {
			return "", nil, err
		}
		fresh, lerr := d.load(ctx, doc.ID)
		if lerr != nil {
			return "", nil, lerr
		}
		if attempt < maxReadAttempts && (fresh.Mtime != doc.Mtime || fresh.ChunkCount != doc.ChunkCount) {
			logutil.GetLogger(ctx).Debug("chunk set moved during read, retry",
				zap.String("doc_id", doc.ID),
				zap.Int("attempt", attempt),
				zap.Int("chunk_count", fresh.ChunkCount),
			)
			doc = fresh
			continue
		}
		metrics.ChunkGaps.Inc()
		logutil.GetLogger(ctx).Error("chunk set corrupted",
			zap.String("doc_id", gap.DocumentID),
			zap.Int("expected", gap.Expected),
			zap.Ints("observed", gap.Observed),
			zap.Ints("missing", gap.Missing),
			zap.Ints("duplicates", gap.Duplicates),
			zap.Ints("out_of_range", gap.OutOfRange),
		)
		return "", nil, err
	}
}

func (d *MigrationDetector) assemble(ctx context.Context, doc *model.Document) (string, error) {
	switch Classify(doc) {
	case FormatLegacy:
		return doc.LegacyContent, nil
	case FormatChunked:
		if doc.ChunkCount <= 0 {
			return "", nil
		}
		return d.loader.Load(ctx, doc)
	}
	return "", appErr.ErrInvalid
}

// Write replaces the content of a document, converting it to chunked storage
// when it is still legacy. The plan is taken from metadata loaded under the
// document's write lock.
func (d *MigrationDetector) Write(ctx context.Context, docID string, text string) error {
	unlock := d.lockDocument(docID)
	defer unlock()
	doc, err := d.load(ctx, docID)
	if err != nil {
		return err
	}
	plan := replacePlan{}
	switch Classify(doc) {
	case FormatLegacy:
		plan.clearLegacy = true
	case FormatChunked:
		plan.previous = doc.ChunkCount
	}
	_, err = d.writer.replace(ctx, doc.ID, text, plan)
	d.forget(doc.ID)
	return err
}

// MigrateIfNeeded converts a legacy document to chunked storage. It reports
// whether a migration happened; chunked documents are left untouched. A failed
// migration leaves the legacy content in place, so it can be retried.
func (d *MigrationDetector) MigrateIfNeeded(ctx context.Context, docID string) (bool, error) {
	unlock := d.lockDocument(docID)
	defer unlock()
	doc, err := d.load(ctx, docID)
	if err != nil {
		return false, err
	}
	if Classify(doc) != FormatLegacy {
		metrics.Migrations.WithLabelValues("skipped").Inc()
		return false, nil
	}
	count, err := d.writer.replace(ctx, doc.ID, doc.LegacyContent, replacePlan{clearLegacy: true, requireLegacy: true})
	d.forget(doc.ID)
	if errors.Is(err, appErr.ErrConflict) {
		// another writer converted the document first
		metrics.Migrations.WithLabelValues("skipped").Inc()
		logutil.GetLogger(ctx).Info("legacy document already converted", zap.String("doc_id", docID))
		return false, nil
	}
	if err != nil {
		metrics.Migrations.WithLabelValues("failed").Inc()
		logutil.GetLogger(ctx).Error("migrate legacy document failed", zap.String("doc_id", docID), zap.Error(err))
		return false, err
	}
	metrics.Migrations.WithLabelValues("migrated").Inc()
	logutil.GetLogger(ctx).Info("legacy document migrated",
		zap.String("doc_id", docID),
		zap.Int("bytes", len(doc.LegacyContent)),
		zap.Int("chunks", count),
	)
	return true, nil
}

func (d *MigrationDetector) forget(docID string) {
	if f, ok := d.loader.(contentcache.Forgetter); ok {
		f.Forget(docID)
	}
}

type chunkLoader struct {
	chunks *ChunkStore
}

func (l *chunkLoader) Load(ctx context.Context, doc *model.Document) (string, error) {
	records, err := l.chunks.GetRange(ctx, doc.ID, doc.ChunkCount)
	if err != nil {
		return "", err
	}
	return chunk.Assemble(doc.ID, doc.ChunkCount, records)
}

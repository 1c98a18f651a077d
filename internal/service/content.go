package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/notevault/internal/chunk"
	"github.com/xxxsen/notevault/internal/metrics"
	"github.com/xxxsen/notevault/internal/model"
	"github.com/xxxsen/notevault/internal/pkg/retry"
	"github.com/xxxsen/notevault/internal/pkg/timeutil"
	"github.com/xxxsen/notevault/internal/store"
)

// contentWriter replaces the chunk set of a document in two phases: chunks
// first, then the metadata that advertises them.
type contentWriter struct {
	docs   store.DocumentStore
	chunks *ChunkStore
	retry  retry.Config
}

// replacePlan describes the committed state the write replaces.
type replacePlan struct {
	previous    int
	clearLegacy bool
	// requireLegacy makes the metadata commit fail with ErrConflict unless the
	// document is still legacy.
	requireLegacy bool
}

func (w *contentWriter) replace(ctx context.Context, docID, text string, plan replacePlan) (int, error) {
	pieces := chunk.Split(text, w.chunks.Bound())
	stored, err := w.chunks.Digests(ctx, docID, min(plan.previous, len(pieces)))
	if err != nil {
		return 0, err
	}
	changed := chunk.Diff(pieces, stored)
	now := timeutil.NowMilli()
	records := make([]model.Chunk, 0, len(changed))
	for _, p := range changed {
		records = append(records, model.Chunk{
			DocumentID: docID,
			Ordinal:    p.Ordinal,
			Text:       p.Text,
			Digest:     p.Digest,
			Mtime:      now,
		})
	}
	if err := w.chunks.PutAll(ctx, docID, records); err != nil {
		return 0, err
	}
	metrics.ChunksSkipped.Add(float64(len(pieces) - len(changed)))

	meta := model.DocumentMeta{ID: docID, ChunkCount: len(pieces), ClearLegacy: plan.clearLegacy, RequireLegacy: plan.requireLegacy, Mtime: now}
	if err := retry.Do(ctx, w.retry, "update_document_meta", func(ctx context.Context) error {
		return w.docs.UpdateDocumentMeta(ctx, meta)
	}); err != nil {
		return 0, err
	}

	if plan.previous > len(pieces) {
		// Trailing chunks are outside the committed range now; a failure here
		// leaves unreachable records that the next longer write overwrites.
		if err := w.chunks.DeleteRange(ctx, docID, len(pieces), plan.previous); err != nil {
			metrics.OrphanDeleteFailures.Inc()
			logutil.GetLogger(ctx).Error("delete orphan chunks failed",
				zap.String("doc_id", docID),
				zap.Int("from", len(pieces)),
				zap.Int("to", plan.previous),
				zap.Error(err),
			)
		}
	}
	logutil.GetLogger(ctx).Debug("document content replaced",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(pieces)),
		zap.Int("written", len(changed)),
	)
	return len(pieces), nil
}

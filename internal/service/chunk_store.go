package service

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/notevault/internal/chunk"
	"github.com/xxxsen/notevault/internal/metrics"
	"github.com/xxxsen/notevault/internal/model"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
	"github.com/xxxsen/notevault/internal/pkg/retry"
	"github.com/xxxsen/notevault/internal/store"
)

// ChunkStore reads and writes chunk records, splitting writes into atomic
// sub-batches the backend can accept.
type ChunkStore struct {
	backend store.ChunkBackend
	bound   int
	retry   retry.Config
}

func NewChunkStore(backend store.ChunkBackend, bound int, retryCfg retry.Config) *ChunkStore {
	if bound <= 0 {
		bound = chunk.DefaultBound
	}
	return &ChunkStore{backend: backend, bound: bound, retry: retryCfg}
}

func (s *ChunkStore) Bound() int {
	return s.bound
}

func (s *ChunkStore) Get(ctx context.Context, docID string, ordinal int) (*model.Chunk, error) {
	return retry.DoValue(ctx, s.retry, "get_chunk", func(ctx context.Context) (*model.Chunk, error) {
		return s.backend.GetChunk(ctx, docID, ordinal)
	})
}

// GetRange returns the chunks with ordinals in [0, count), ordinal ascending.
func (s *ChunkStore) GetRange(ctx context.Context, docID string, count int) ([]model.Chunk, error) {
	if count <= 0 {
		return []model.Chunk{}, nil
	}
	return retry.DoValue(ctx, s.retry, "list_chunks", func(ctx context.Context) ([]model.Chunk, error) {
		return s.backend.ListChunks(ctx, docID, 0, count)
	})
}

func (s *ChunkStore) Digests(ctx context.Context, docID string, count int) ([]model.ChunkDigest, error) {
	if count <= 0 {
		return []model.ChunkDigest{}, nil
	}
	return retry.DoValue(ctx, s.retry, "list_chunk_digests", func(ctx context.Context) ([]model.ChunkDigest, error) {
		return s.backend.ListChunkDigests(ctx, docID, 0, count)
	})
}

// PutAll writes chunks in sub-batches bounded by the backend's record count and
// byte budget. Each sub-batch is atomic; the write as a whole is not. When a
// sub-batch fails the result is a *PartialWriteError telling how many chunks are
// already durable.
func (s *ChunkStore) PutAll(ctx context.Context, docID string, chunks []model.Chunk) error {
	for _, c := range chunks {
		if len(c.Text) > s.bound {
			return fmt.Errorf("chunk %d of document %s is %d bytes, bound %d: %w",
				c.Ordinal, docID, len(c.Text), s.bound, appErr.ErrSizeLimitExceeded)
		}
	}
	if len(chunks) == 0 {
		return nil
	}
	committed := 0
	for _, sub := range s.splitBatches(chunks) {
		err := retry.Do(ctx, s.retry, "put_chunks", func(ctx context.Context) error {
			return s.backend.PutChunks(ctx, docID, sub)
		})
		if err != nil {
			if committed > 0 {
				metrics.PartialWrites.Inc()
				logutil.GetLogger(ctx).Error("partial chunk write",
					zap.String("doc_id", docID),
					zap.Int("committed", committed),
					zap.Int("total", len(chunks)),
					zap.Error(err),
				)
			}
			return &appErr.PartialWriteError{DocumentID: docID, Committed: committed, Total: len(chunks), Cause: err}
		}
		committed += len(sub)
	}
	metrics.ChunksWritten.Add(float64(committed))
	return nil
}

// splitBatches cuts chunks greedily. Every sub-batch holds at least one chunk.
func (s *ChunkStore) splitBatches(chunks []model.Chunk) [][]model.Chunk {
	maxCount := s.backend.MaxBatchSize()
	if maxCount <= 0 {
		maxCount = len(chunks)
	}
	maxBytes := s.backend.MaxBatchBytes()
	batches := make([][]model.Chunk, 0, 1)
	start, size := 0, 0
	for i := range chunks {
		n := len(chunks[i].Text)
		count := i - start
		if count > 0 && (count >= maxCount || (maxBytes > 0 && size+n > maxBytes)) {
			batches = append(batches, chunks[start:i])
			start, size = i, 0
		}
		size += n
	}
	return append(batches, chunks[start:])
}

// DeleteRange removes chunks with ordinals in [from, to).
func (s *ChunkStore) DeleteRange(ctx context.Context, docID string, from, to int) error {
	if to <= from {
		return nil
	}
	return retry.Do(ctx, s.retry, "delete_chunks", func(ctx context.Context) error {
		return s.backend.DeleteChunks(ctx, docID, from, to)
	})
}

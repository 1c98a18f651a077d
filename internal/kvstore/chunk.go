package kvstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/xxxsen/notevault/internal/model"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

// chunkRecord keeps the text as bytes: chunks are cut on byte boundaries and a
// JSON string would replace split UTF-8 sequences.
type chunkRecord struct {
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Text       []byte `json:"text"`
	Digest     string `json:"digest"`
	Mtime      int64  `json:"mtime"`
}

func toRecord(docID string, c *model.Chunk) *chunkRecord {
	return &chunkRecord{DocumentID: docID, Ordinal: c.Ordinal, Text: []byte(c.Text), Digest: c.Digest, Mtime: c.Mtime}
}

func (r *chunkRecord) chunk() model.Chunk {
	return model.Chunk{DocumentID: r.DocumentID, Ordinal: r.Ordinal, Text: string(r.Text), Digest: r.Digest, Mtime: r.Mtime}
}

func (s *Store) GetChunk(ctx context.Context, docID string, ordinal int) (*model.Chunk, error) {
	var rec chunkRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, chunkKey(docID, ordinal), &rec)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	c := rec.chunk()
	return &c, nil
}

func (s *Store) scanChunks(docID string, from, to int, fn func(c *model.Chunk)) error {
	if to <= from {
		return nil
	}
	prefix := chunkPrefix(docID)
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(chunkKey(docID, from)); it.ValidForPrefix(prefix); it.Next() {
			var rec chunkRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.Ordinal >= to {
				return nil
			}
			c := rec.chunk()
			fn(&c)
		}
		return nil
	})
}

func (s *Store) ListChunks(ctx context.Context, docID string, from, to int) ([]model.Chunk, error) {
	chunks := make([]model.Chunk, 0, max(to-from, 0))
	if err := s.scanChunks(docID, from, to, func(c *model.Chunk) {
		chunks = append(chunks, *c)
	}); err != nil {
		return nil, mapErr(err)
	}
	return chunks, nil
}

func (s *Store) ListChunkDigests(ctx context.Context, docID string, from, to int) ([]model.ChunkDigest, error) {
	digests := make([]model.ChunkDigest, 0, max(to-from, 0))
	if err := s.scanChunks(docID, from, to, func(c *model.Chunk) {
		digests = append(digests, model.ChunkDigest{Ordinal: c.Ordinal, Digest: c.Digest})
	}); err != nil {
		return nil, mapErr(err)
	}
	return digests, nil
}

func (s *Store) PutChunks(ctx context.Context, docID string, chunks []model.Chunk) error {
	if len(chunks) > s.maxBatch {
		return fmt.Errorf("chunk batch of %d exceeds max batch size %d: %w", len(chunks), s.maxBatch, appErr.ErrInvalid)
	}
	size := 0
	for i := range chunks {
		size += len(chunks[i].Text)
	}
	if len(chunks) > 1 && size > s.batchBytes {
		return fmt.Errorf("chunk batch of %d bytes exceeds max batch bytes %d: %w", size, s.batchBytes, appErr.ErrInvalid)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for i := range chunks {
			if err := setJSON(txn, chunkKey(docID, chunks[i].Ordinal), toRecord(docID, &chunks[i])); err != nil {
				return err
			}
		}
		return nil
	})
	return mapErr(err)
}

func (s *Store) DeleteChunks(ctx context.Context, docID string, from, to int) error {
	if to <= from {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for ordinal := from; ordinal < to; ordinal++ {
			if err := txn.Delete(chunkKey(docID, ordinal)); err != nil {
				return err
			}
		}
		return nil
	})
	return mapErr(err)
}

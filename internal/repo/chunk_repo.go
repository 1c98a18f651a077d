package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/notevault/internal/model"
	"github.com/xxxsen/notevault/internal/pkg/dbutil"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

// Chunk text is stored as BYTEA: chunks are cut on byte boundaries and may hold
// partial UTF-8 sequences that a TEXT column would reject.
type ChunkRepo struct {
	db       *sql.DB
	maxBatch int
}

const (
	chunkInsertParams = 5
	// MaxBatchRows keeps a multi-row upsert under the 65535 bind parameter limit.
	MaxBatchRows = 65535 / chunkInsertParams
	// MaxBatchBytes caps the text carried by a single upsert statement.
	MaxBatchBytes = 64 << 20
)

func NewChunkRepo(db *sql.DB, maxBatch int) *ChunkRepo {
	if maxBatch <= 0 || maxBatch > MaxBatchRows {
		maxBatch = MaxBatchRows
	}
	return &ChunkRepo{db: db, maxBatch: maxBatch}
}

func (r *ChunkRepo) MaxBatchSize() int {
	return r.maxBatch
}

func (r *ChunkRepo) MaxBatchBytes() int {
	return MaxBatchBytes
}

func (r *ChunkRepo) GetChunk(ctx context.Context, docID string, ordinal int) (*model.Chunk, error) {
	where := map[string]interface{}{"document_id": docID, "ordinal": ordinal}
	sqlStr, args, err := builder.BuildSelect("document_chunks", where, []string{"document_id", "ordinal", "content", "digest", "mtime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, dbutil.Wrap(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, dbutil.Wrap(err)
		}
		return nil, appErr.ErrNotFound
	}
	return scanChunk(rows)
}

func (r *ChunkRepo) ListChunks(ctx context.Context, docID string, from, to int) ([]model.Chunk, error) {
	chunks := make([]model.Chunk, 0)
	if to <= from {
		return chunks, nil
	}
	rows, err := r.queryRange(ctx, docID, from, to, []string{"document_id", "ordinal", "content", "digest", "mtime"})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, dbutil.Wrap(rows.Err())
}

func (r *ChunkRepo) ListChunkDigests(ctx context.Context, docID string, from, to int) ([]model.ChunkDigest, error) {
	digests := make([]model.ChunkDigest, 0)
	if to <= from {
		return digests, nil
	}
	rows, err := r.queryRange(ctx, docID, from, to, []string{"ordinal", "digest"})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var d model.ChunkDigest
		if err := rows.Scan(&d.Ordinal, &d.Digest); err != nil {
			return nil, err
		}
		digests = append(digests, d)
	}
	return digests, dbutil.Wrap(rows.Err())
}

func (r *ChunkRepo) queryRange(ctx context.Context, docID string, from, to int, fields []string) (*sql.Rows, error) {
	where := map[string]interface{}{
		"document_id": docID,
		"ordinal >=":  from,
		"ordinal <":   to,
		"_orderby":    "ordinal asc",
	}
	sqlStr, args, err := builder.BuildSelect("document_chunks", where, fields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, dbutil.Wrap(err)
	}
	return rows, nil
}

// PutChunks upserts the batch with a single multi-row statement, which Postgres
// applies atomically.
func (r *ChunkRepo) PutChunks(ctx context.Context, docID string, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) > r.maxBatch {
		return fmt.Errorf("chunk batch of %d exceeds max batch size %d: %w", len(chunks), r.maxBatch, appErr.ErrInvalid)
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO document_chunks (document_id, ordinal, content, digest, mtime) VALUES ")
	args := make([]interface{}, 0, len(chunks)*5)
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, docID, c.Ordinal, []byte(c.Text), c.Digest, c.Mtime)
	}
	sb.WriteString(" ON CONFLICT (document_id, ordinal) DO UPDATE SET content = EXCLUDED.content, digest = EXCLUDED.digest, mtime = EXCLUDED.mtime")
	sqlStr, args := dbutil.Finalize(sb.String(), args)
	_, err := r.db.ExecContext(ctx, sqlStr, args...)
	return dbutil.Wrap(err)
}

func (r *ChunkRepo) DeleteChunks(ctx context.Context, docID string, from, to int) error {
	if to <= from {
		return nil
	}
	where := map[string]interface{}{
		"document_id": docID,
		"ordinal >=":  from,
		"ordinal <":   to,
	}
	sqlStr, args, err := builder.BuildDelete("document_chunks", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return dbutil.Wrap(err)
}

func scanChunk(rows *sql.Rows) (*model.Chunk, error) {
	var (
		c       model.Chunk
		content []byte
	)
	if err := rows.Scan(&c.DocumentID, &c.Ordinal, &content, &c.Digest, &c.Mtime); err != nil {
		return nil, err
	}
	c.Text = string(content)
	return &c, nil
}

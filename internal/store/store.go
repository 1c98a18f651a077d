// Package store declares the backing store contract shared by the Postgres and
// Badger implementations.
package store

import (
	"context"

	"github.com/xxxsen/notevault/internal/model"
)

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, docID string) (*model.Document, error)
	// UpdateDocumentMeta commits chunk count, mtime and the optional legacy clear atomically
	// and emits a change notification for the document. With RequireLegacy set the
	// commit only applies to a document that is still legacy; otherwise ErrConflict.
	UpdateDocumentMeta(ctx context.Context, meta model.DocumentMeta) error
	UpdateTitle(ctx context.Context, docID, title string, mtime int64) error
	SetCollaborator(ctx context.Context, docID, userID string, role model.Role, mtime int64) error
	RemoveCollaborator(ctx context.Context, docID, userID string, mtime int64) error
	SetPublic(ctx context.Context, docID string, public bool, mtime int64) error
	ListLegacyDocumentIDs(ctx context.Context, limit int) ([]string, error)
}

type ChunkBackend interface {
	GetChunk(ctx context.Context, docID string, ordinal int) (*model.Chunk, error)
	// ListChunks returns the stored chunks with ordinals in [from, to), ordinal ascending.
	ListChunks(ctx context.Context, docID string, from, to int) ([]model.Chunk, error)
	ListChunkDigests(ctx context.Context, docID string, from, to int) ([]model.ChunkDigest, error)
	// PutChunks upserts all chunks in one atomic batch of at most MaxBatchSize records
	// whose texts total at most MaxBatchBytes.
	PutChunks(ctx context.Context, docID string, chunks []model.Chunk) error
	DeleteChunks(ctx context.Context, docID string, from, to int) error
	MaxBatchSize() int
	MaxBatchBytes() int
}

type ShareTokenStore interface {
	CreateShareToken(ctx context.Context, token *model.ShareToken) error
	GetShareToken(ctx context.Context, token string) (*model.ShareToken, error)
	// ConsumeShareToken checks the guards and increments usage in one atomic step.
	ConsumeShareToken(ctx context.Context, token string, now int64) (*model.ShareToken, error)
	RevokeShareToken(ctx context.Context, token string, mtime int64) error
	ListShareTokensByDocument(ctx context.Context, docID string) ([]model.ShareToken, error)
	// DeactivateInertShareTokens flags expired or exhausted active tokens as inactive.
	DeactivateInertShareTokens(ctx context.Context, now int64, limit int) (int, error)
}

// ChangeFeed delivers the ids of documents whose metadata changed.
// An empty id means changes may have been missed and every document should be
// treated as changed. The channel closes when ctx is done.
type ChangeFeed interface {
	Watch(ctx context.Context) (<-chan string, error)
}

type Backend interface {
	DocumentStore
	ChunkBackend
	ShareTokenStore
	ChangeFeed
	Close() error
}

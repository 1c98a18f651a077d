package repo

import (
	"database/sql"
)

// Store is the Postgres backing store: documents, chunks and share tokens over
// one connection pool plus LISTEN/NOTIFY change delivery.
type Store struct {
	*DocumentRepo
	*ChunkRepo
	*ShareTokenRepo
	db  *sql.DB
	dsn string
}

func NewStore(db *sql.DB, dsn string, maxBatch int) *Store {
	return &Store{
		DocumentRepo:   NewDocumentRepo(db),
		ChunkRepo:      NewChunkRepo(db, maxBatch),
		ShareTokenRepo: NewShareTokenRepo(db),
		db:             db,
		dsn:            dsn,
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

package kvstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/xxxsen/notevault/internal/model"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

func (s *Store) CreateDocument(ctx context.Context, doc *model.Document) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(docKey(doc.ID)); err == nil {
			return appErr.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, docKey(doc.ID), doc)
	})
	if err != nil {
		return mapErr(err)
	}
	s.feed.publish(doc.ID)
	return nil
}

func (s *Store) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	var doc model.Document
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, docKey(docID), &doc)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	if doc.Collaborators == nil {
		doc.Collaborators = map[string]model.Role{}
	}
	return &doc, nil
}

// mutateDocument applies fn to the stored document in one transaction and
// notifies watchers after the commit. An error from fn aborts the transaction.
func (s *Store) mutateDocument(docID string, fn func(doc *model.Document) error) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var doc model.Document
		if err := getJSON(txn, docKey(docID), &doc); err != nil {
			return err
		}
		if doc.Collaborators == nil {
			doc.Collaborators = map[string]model.Role{}
		}
		if err := fn(&doc); err != nil {
			return err
		}
		return setJSON(txn, docKey(docID), &doc)
	})
	if err != nil {
		return mapErr(err)
	}
	s.feed.publish(docID)
	return nil
}

func (s *Store) UpdateDocumentMeta(ctx context.Context, meta model.DocumentMeta) error {
	return s.mutateDocument(meta.ID, func(doc *model.Document) error {
		if meta.RequireLegacy && (doc.ChunkCount > 0 || doc.LegacyContent == "") {
			return appErr.ErrConflict
		}
		doc.ChunkCount = meta.ChunkCount
		doc.Mtime = meta.Mtime
		if meta.ClearLegacy {
			doc.LegacyContent = ""
		}
		return nil
	})
}

func (s *Store) UpdateTitle(ctx context.Context, docID, title string, mtime int64) error {
	return s.mutateDocument(docID, func(doc *model.Document) error {
		doc.Title = title
		doc.Mtime = mtime
		return nil
	})
}

func (s *Store) SetCollaborator(ctx context.Context, docID, userID string, role model.Role, mtime int64) error {
	return s.mutateDocument(docID, func(doc *model.Document) error {
		doc.Collaborators[userID] = role
		doc.Mtime = mtime
		return nil
	})
}

func (s *Store) RemoveCollaborator(ctx context.Context, docID, userID string, mtime int64) error {
	return s.mutateDocument(docID, func(doc *model.Document) error {
		delete(doc.Collaborators, userID)
		doc.Mtime = mtime
		return nil
	})
}

func (s *Store) SetPublic(ctx context.Context, docID string, public bool, mtime int64) error {
	return s.mutateDocument(docID, func(doc *model.Document) error {
		doc.IsPublic = public
		doc.Mtime = mtime
		return nil
	})
}

func (s *Store) ListLegacyDocumentIDs(ctx context.Context, limit int) ([]string, error) {
	ids := make([]string, 0)
	prefix := []byte("doc/")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(ids) >= limit {
				return nil
			}
			var doc model.Document
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				return err
			}
			if doc.ChunkCount == 0 && doc.LegacyContent != "" {
				ids = append(ids, doc.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return ids, nil
}

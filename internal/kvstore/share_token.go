package kvstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/xxxsen/notevault/internal/model"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

// maxConsumeConflicts bounds optimistic retries of a contended token increment.
const maxConsumeConflicts = 64

func (s *Store) CreateShareToken(ctx context.Context, token *model.ShareToken) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(tokenKey(token.Token)); err == nil {
			return appErr.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, tokenKey(token.Token), token); err != nil {
			return err
		}
		return txn.Set(tokenDocKey(token.DocumentID, token.Token), nil)
	})
	return mapErr(err)
}

func (s *Store) GetShareToken(ctx context.Context, token string) (*model.ShareToken, error) {
	var tok model.ShareToken
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, tokenKey(token), &tok)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &tok, nil
}

// ConsumeShareToken reads, checks and increments inside one transaction. Badger's
// conflict detection aborts a commit whose read of the token is stale, so two
// consumers can never both pass the quota check on the same usage count.
func (s *Store) ConsumeShareToken(ctx context.Context, token string, now int64) (*model.ShareToken, error) {
	for attempt := 0; attempt < maxConsumeConflicts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var consumed model.ShareToken
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := getJSON(txn, tokenKey(token), &consumed); err != nil {
				return err
			}
			if err := consumed.Check(now).Err(); err != nil {
				return err
			}
			consumed.UsageCount++
			consumed.LastUsedAt = now
			consumed.Mtime = now
			return setJSON(txn, tokenKey(token), &consumed)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, mapErr(err)
		}
		return &consumed, nil
	}
	return nil, mapErr(badger.ErrConflict)
}

func (s *Store) RevokeShareToken(ctx context.Context, token string, mtime int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var tok model.ShareToken
		if err := getJSON(txn, tokenKey(token), &tok); err != nil {
			return err
		}
		if tok.Revoked {
			return nil
		}
		tok.Revoked = true
		tok.State = model.ShareStateInactive
		tok.Mtime = mtime
		return setJSON(txn, tokenKey(token), &tok)
	})
	return mapErr(err)
}

func (s *Store) ListShareTokensByDocument(ctx context.Context, docID string) ([]model.ShareToken, error) {
	tokens := make([]model.ShareToken, 0)
	prefix := tokenDocPrefix(docID)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			value := string(key[len(prefix):])
			var tok model.ShareToken
			if err := getJSON(txn, tokenKey(value), &tok); err != nil {
				return err
			}
			tokens = append(tokens, tok)
		}
		return nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return tokens, nil
}

func (s *Store) DeactivateInertShareTokens(ctx context.Context, now int64, limit int) (int, error) {
	updated := 0
	prefix := []byte("token/")
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var inert []model.ShareToken
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(inert) >= limit {
				break
			}
			var tok model.ShareToken
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &tok)
			}); err != nil {
				it.Close()
				return err
			}
			if tok.State != model.ShareStateActive {
				continue
			}
			if v := tok.Check(now); v == model.TokenExpired || v == model.TokenExhausted {
				inert = append(inert, tok)
			}
		}
		it.Close()
		for i := range inert {
			inert[i].State = model.ShareStateInactive
			inert[i].Mtime = now
			if err := setJSON(txn, tokenKey(inert[i].Token), &inert[i]); err != nil {
				return err
			}
		}
		updated = len(inert)
		return nil
	})
	if err != nil {
		return 0, mapErr(err)
	}
	return updated, nil
}

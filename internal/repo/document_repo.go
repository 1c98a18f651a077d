package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/notevault/internal/model"
	"github.com/xxxsen/notevault/internal/pkg/dbutil"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

// ChangeChannel is the LISTEN/NOTIFY channel carrying changed document ids.
const ChangeChannel = "document_changes"

var documentFields = []string{"id", "owner_id", "title", "chunk_count", "legacy_content", "is_public", "ctime", "mtime"}

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) CreateDocument(ctx context.Context, doc *model.Document) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		data := map[string]interface{}{
			"id":             doc.ID,
			"owner_id":       doc.OwnerID,
			"title":          doc.Title,
			"chunk_count":    doc.ChunkCount,
			"legacy_content": doc.LegacyContent,
			"is_public":      doc.IsPublic,
			"ctime":          doc.Ctime,
			"mtime":          doc.Mtime,
		}
		sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			if dbutil.IsConflict(err) {
				return appErr.ErrConflict
			}
			return err
		}
		for userID, role := range doc.Collaborators {
			if err := upsertCollaborator(ctx, tx, doc.ID, userID, role, doc.Ctime); err != nil {
				return err
			}
		}
		return notify(ctx, tx, doc.ID)
	})
}

func (r *DocumentRepo) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	where := map[string]interface{}{"id": docID}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
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
	var doc model.Document
	if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.ChunkCount, &doc.LegacyContent, &doc.IsPublic, &doc.Ctime, &doc.Mtime); err != nil {
		return nil, err
	}
	rows.Close()
	collaborators, err := r.listCollaborators(ctx, docID)
	if err != nil {
		return nil, err
	}
	doc.Collaborators = collaborators
	return &doc, nil
}

func (r *DocumentRepo) listCollaborators(ctx context.Context, docID string) (map[string]model.Role, error) {
	where := map[string]interface{}{"document_id": docID}
	sqlStr, args, err := builder.BuildSelect("document_collaborators", where, []string{"user_id", "role"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, dbutil.Wrap(err)
	}
	defer rows.Close()
	result := make(map[string]model.Role)
	for rows.Next() {
		var userID, roleName string
		if err := rows.Scan(&userID, &roleName); err != nil {
			return nil, err
		}
		role, err := model.ParseRole(roleName)
		if err != nil {
			return nil, err
		}
		result[userID] = role
	}
	return result, dbutil.Wrap(rows.Err())
}

func (r *DocumentRepo) UpdateDocumentMeta(ctx context.Context, meta model.DocumentMeta) error {
	update := map[string]interface{}{
		"chunk_count": meta.ChunkCount,
		"mtime":       meta.Mtime,
	}
	if meta.ClearLegacy {
		update["legacy_content"] = ""
	}
	if !meta.RequireLegacy {
		return r.updateAndNotify(ctx, meta.ID, update)
	}
	where := map[string]interface{}{
		"id":                meta.ID,
		"chunk_count":       0,
		"legacy_content !=": "",
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		affected, err := updateWhere(ctx, tx, where, update)
		if err != nil {
			return err
		}
		if affected == 0 {
			found, err := documentExists(ctx, tx, meta.ID)
			if err != nil {
				return err
			}
			if !found {
				return appErr.ErrNotFound
			}
			return appErr.ErrConflict
		}
		return notify(ctx, tx, meta.ID)
	})
}

func (r *DocumentRepo) UpdateTitle(ctx context.Context, docID, title string, mtime int64) error {
	return r.updateAndNotify(ctx, docID, map[string]interface{}{"title": title, "mtime": mtime})
}

func (r *DocumentRepo) SetPublic(ctx context.Context, docID string, public bool, mtime int64) error {
	return r.updateAndNotify(ctx, docID, map[string]interface{}{"is_public": public, "mtime": mtime})
}

func (r *DocumentRepo) SetCollaborator(ctx context.Context, docID, userID string, role model.Role, mtime int64) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := touch(ctx, tx, docID, mtime); err != nil {
			return err
		}
		if err := upsertCollaborator(ctx, tx, docID, userID, role, mtime); err != nil {
			return err
		}
		return notify(ctx, tx, docID)
	})
}

func (r *DocumentRepo) RemoveCollaborator(ctx context.Context, docID, userID string, mtime int64) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := touch(ctx, tx, docID, mtime); err != nil {
			return err
		}
		where := map[string]interface{}{"document_id": docID, "user_id": userID}
		sqlStr, args, err := builder.BuildDelete("document_collaborators", where)
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
		return notify(ctx, tx, docID)
	})
}

func (r *DocumentRepo) ListLegacyDocumentIDs(ctx context.Context, limit int) ([]string, error) {
	where := map[string]interface{}{
		"chunk_count":       0,
		"legacy_content !=": "",
		"_orderby":          "mtime asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, uint(limit)}
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, []string{"id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, dbutil.Wrap(err)
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, dbutil.Wrap(rows.Err())
}

func (r *DocumentRepo) updateAndNotify(ctx context.Context, docID string, update map[string]interface{}) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		affected, err := updateWhere(ctx, tx, map[string]interface{}{"id": docID}, update)
		if err != nil {
			return err
		}
		if affected == 0 {
			return appErr.ErrNotFound
		}
		return notify(ctx, tx, docID)
	})
}

func updateWhere(ctx context.Context, tx *sql.Tx, where, update map[string]interface{}) (int64, error) {
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func documentExists(ctx context.Context, tx *sql.Tx, docID string) (bool, error) {
	sqlStr, args, err := builder.BuildSelect("documents", map[string]interface{}{"id": docID}, []string{"id"})
	if err != nil {
		return false, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var id string
	if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func touch(ctx context.Context, tx *sql.Tx, docID string, mtime int64) error {
	sqlStr, args, err := builder.BuildUpdate("documents", map[string]interface{}{"id": docID}, map[string]interface{}{"mtime": mtime})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func upsertCollaborator(ctx context.Context, tx *sql.Tx, docID, userID string, role model.Role, ctime int64) error {
	sqlStr, args := dbutil.Finalize(`
		INSERT INTO document_collaborators (document_id, user_id, role, ctime)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (document_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, []interface{}{docID, userID, role.String(), ctime})
	_, err := tx.ExecContext(ctx, sqlStr, args...)
	return err
}

func notify(ctx context.Context, tx *sql.Tx, docID string) error {
	_, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", ChangeChannel, docID)
	return err
}

// withTx runs fn in a transaction and classifies driver errors for the retry layer.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return dbutil.Wrap(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return dbutil.Wrap(err)
	}
	return dbutil.Wrap(tx.Commit())
}

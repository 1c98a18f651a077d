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

var shareTokenFields = []string{"token", "document_id", "issued_by", "permission", "expires_at", "max_uses", "usage_count", "revoked", "state", "last_used_at", "ctime", "mtime"}

type ShareTokenRepo struct {
	db *sql.DB
}

func NewShareTokenRepo(db *sql.DB) *ShareTokenRepo {
	return &ShareTokenRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanShareToken(row rowScanner) (*model.ShareToken, error) {
	var (
		tok        model.ShareToken
		permission string
	)
	if err := row.Scan(&tok.Token, &tok.DocumentID, &tok.IssuedBy, &permission, &tok.ExpiresAt, &tok.MaxUses, &tok.UsageCount, &tok.Revoked, &tok.State, &tok.LastUsedAt, &tok.Ctime, &tok.Mtime); err != nil {
		return nil, err
	}
	tok.Permission = model.SharePermission(permission)
	return &tok, nil
}

func (r *ShareTokenRepo) CreateShareToken(ctx context.Context, token *model.ShareToken) error {
	data := map[string]interface{}{
		"token":        token.Token,
		"document_id":  token.DocumentID,
		"issued_by":    token.IssuedBy,
		"permission":   string(token.Permission),
		"expires_at":   token.ExpiresAt,
		"max_uses":     token.MaxUses,
		"usage_count":  token.UsageCount,
		"revoked":      token.Revoked,
		"state":        token.State,
		"last_used_at": token.LastUsedAt,
		"ctime":        token.Ctime,
		"mtime":        token.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("share_tokens", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return dbutil.Wrap(err)
	}
	return nil
}

func (r *ShareTokenRepo) GetShareToken(ctx context.Context, token string) (*model.ShareToken, error) {
	sqlStr, args, err := builder.BuildSelect("share_tokens", map[string]interface{}{"token": token}, shareTokenFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	tok, err := scanShareToken(r.db.QueryRowContext(ctx, sqlStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, dbutil.Wrap(err)
	}
	return tok, nil
}

const consumeShareTokenSQL = `
	UPDATE share_tokens
	SET usage_count = usage_count + 1, last_used_at = ?, mtime = ?
	WHERE token = ?
	  AND revoked = FALSE
	  AND (expires_at = 0 OR expires_at > ?)
	  AND (max_uses = 0 OR usage_count < max_uses)
	RETURNING token, document_id, issued_by, permission, expires_at, max_uses, usage_count, revoked, state, last_used_at, ctime, mtime
`

// ConsumeShareToken increments usage with one conditional UPDATE; the guard and
// the increment are evaluated under the same row lock. When no row qualifies the
// token is re-read only to explain the denial.
func (r *ShareTokenRepo) ConsumeShareToken(ctx context.Context, token string, now int64) (*model.ShareToken, error) {
	sqlStr, args := dbutil.Finalize(consumeShareTokenSQL, []interface{}{now, now, token, now})
	tok, err := scanShareToken(r.db.QueryRowContext(ctx, sqlStr, args...))
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, dbutil.Wrap(err)
	}
	current, err := r.GetShareToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if verdictErr := current.Check(now).Err(); verdictErr != nil {
		return nil, verdictErr
	}
	return nil, appErr.ErrTokenExhausted
}

func (r *ShareTokenRepo) RevokeShareToken(ctx context.Context, token string, mtime int64) error {
	where := map[string]interface{}{"token": token}
	update := map[string]interface{}{"revoked": true, "state": model.ShareStateInactive, "mtime": mtime}
	sqlStr, args, err := builder.BuildUpdate("share_tokens", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return dbutil.Wrap(err)
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

func (r *ShareTokenRepo) ListShareTokensByDocument(ctx context.Context, docID string) ([]model.ShareToken, error) {
	where := map[string]interface{}{"document_id": docID, "_orderby": "ctime desc"}
	sqlStr, args, err := builder.BuildSelect("share_tokens", where, shareTokenFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, dbutil.Wrap(err)
	}
	defer rows.Close()
	tokens := make([]model.ShareToken, 0)
	for rows.Next() {
		tok, err := scanShareToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *tok)
	}
	return tokens, dbutil.Wrap(rows.Err())
}

func (r *ShareTokenRepo) DeactivateInertShareTokens(ctx context.Context, now int64, limit int) (int, error) {
	sqlStr, args := dbutil.Finalize(`
		UPDATE share_tokens SET state = ?, mtime = ?
		WHERE token IN (
			SELECT token FROM share_tokens
			WHERE state = ? AND revoked = FALSE
			  AND ((expires_at > 0 AND expires_at <= ?) OR (max_uses > 0 AND usage_count >= max_uses))
			LIMIT ?
		)
	`, []interface{}{model.ShareStateInactive, now, model.ShareStateActive, now, limit})
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, dbutil.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

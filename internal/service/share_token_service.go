package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/notevault/internal/metrics"
	"github.com/xxxsen/notevault/internal/model"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
	"github.com/xxxsen/notevault/internal/pkg/retry"
	"github.com/xxxsen/notevault/internal/pkg/timeutil"
	"github.com/xxxsen/notevault/internal/store"
)

const (
	defaultTokenBytes = 32
	minTokenBytes     = 16
	maxIssueAttempts  = 3
)

// IssueOptions limit a share token. Zero values mean no expiry and no quota.
type IssueOptions struct {
	ExpiresAt int64
	MaxUses   int64
}

type ShareTokenService struct {
	tokens     store.ShareTokenStore
	docs       store.DocumentStore
	tokenBytes int
	retry      retry.Config
	now        func() int64
}

func NewShareTokenService(tokens store.ShareTokenStore, docs store.DocumentStore, tokenBytes int, retryCfg retry.Config) *ShareTokenService {
	if tokenBytes == 0 {
		tokenBytes = defaultTokenBytes
	}
	if tokenBytes < minTokenBytes {
		tokenBytes = minTokenBytes
	}
	return &ShareTokenService{tokens: tokens, docs: docs, tokenBytes: tokenBytes, retry: retryCfg, now: timeutil.NowUnix}
}

func (s *ShareTokenService) document(ctx context.Context, docID string) (*model.Document, error) {
	return retry.DoValue(ctx, s.retry, "get_document", func(ctx context.Context) (*model.Document, error) {
		return s.docs.GetDocument(ctx, docID)
	})
}

func (s *ShareTokenService) Issue(ctx context.Context, docID, issuerID string, permission model.SharePermission, opts IssueOptions) (*model.ShareToken, error) {
	if issuerID == "" {
		return nil, appErr.ErrUnauthorized
	}
	if permission != model.SharePermissionView && permission != model.SharePermissionEdit {
		return nil, appErr.ErrInvalid
	}
	now := s.now()
	if opts.MaxUses < 0 || opts.ExpiresAt < 0 || (opts.ExpiresAt > 0 && opts.ExpiresAt <= now) {
		return nil, appErr.ErrInvalid
	}
	doc, err := s.document(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !roleOf(doc, issuerID).CanIssue(permission) {
		return nil, appErr.ErrPermissionDenied
	}
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		value, err := newShareToken(s.tokenBytes)
		if err != nil {
			return nil, err
		}
		tok := &model.ShareToken{
			Token:      value,
			DocumentID: docID,
			IssuedBy:   issuerID,
			Permission: permission,
			ExpiresAt:  opts.ExpiresAt,
			MaxUses:    opts.MaxUses,
			State:      model.ShareStateActive,
			Ctime:      now,
			Mtime:      now,
		}
		err = retry.Do(ctx, s.retry, "create_share_token", func(ctx context.Context) error {
			return s.tokens.CreateShareToken(ctx, tok)
		})
		if appErr.IsConflict(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		logutil.GetLogger(ctx).Info("share token issued",
			zap.String("doc_id", docID),
			zap.String("issuer", issuerID),
			zap.String("permission", string(permission)),
			zap.Int64("expires_at", opts.ExpiresAt),
			zap.Int64("max_uses", opts.MaxUses),
		)
		return tok, nil
	}
	return nil, fmt.Errorf("issue share token: %w", appErr.ErrConflict)
}

// Revoke is allowed for the issuer and the document owner. Revoking twice is a no-op.
func (s *ShareTokenService) Revoke(ctx context.Context, token, requesterID string) error {
	if requesterID == "" {
		return appErr.ErrUnauthorized
	}
	tok, err := s.Inspect(ctx, token)
	if err != nil {
		return err
	}
	if tok.IssuedBy != requesterID {
		doc, err := s.document(ctx, tok.DocumentID)
		if err != nil {
			return err
		}
		if doc.OwnerID != requesterID {
			return appErr.ErrPermissionDenied
		}
	}
	if tok.Revoked {
		return nil
	}
	if err := retry.Do(ctx, s.retry, "revoke_share_token", func(ctx context.Context) error {
		return s.tokens.RevokeShareToken(ctx, token, s.now())
	}); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("share token revoked", zap.String("doc_id", tok.DocumentID), zap.String("by", requesterID))
	return nil
}

// Consume checks the token guards and records one use atomically. A use is not
// idempotent, so only failures known to have left the token untouched are
// retried; an unacknowledged commit is reported to the caller instead.
func (s *ShareTokenService) Consume(ctx context.Context, token string) (*model.ShareToken, error) {
	if token == "" {
		return nil, appErr.ErrNotFound
	}
	tok, err := retry.DoValueIf(ctx, s.retry, "consume_share_token", retryableConsume, func(ctx context.Context) (*model.ShareToken, error) {
		return s.tokens.ConsumeShareToken(ctx, token, s.now())
	})
	metrics.TokenConsumptions.WithLabelValues(consumeOutcome(err)).Inc()
	if err != nil {
		logutil.GetLogger(ctx).Info("share token denied", zap.Error(err))
		return nil, err
	}
	return tok, nil
}

func retryableConsume(err error) bool {
	return appErr.IsRetryable(err) && appErr.IsNotApplied(err)
}

func consumeOutcome(err error) string {
	switch {
	case err == nil:
		return "granted"
	case errors.Is(err, appErr.ErrNotFound):
		return "not_found"
	case errors.Is(err, appErr.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, appErr.ErrTokenExpired):
		return "expired"
	case errors.Is(err, appErr.ErrTokenExhausted):
		return "exhausted"
	}
	return "error"
}

// Inspect loads a token without consuming it.
func (s *ShareTokenService) Inspect(ctx context.Context, token string) (*model.ShareToken, error) {
	if token == "" {
		return nil, appErr.ErrNotFound
	}
	return retry.DoValue(ctx, s.retry, "get_share_token", func(ctx context.Context) (*model.ShareToken, error) {
		return s.tokens.GetShareToken(ctx, token)
	})
}

// Verdict evaluates the guards of tok at the current time.
func (s *ShareTokenService) Verdict(tok *model.ShareToken) model.TokenVerdict {
	return tok.Check(s.now())
}

// ListByDocument returns every token of the document to its owner and only
// their own tokens to other members.
func (s *ShareTokenService) ListByDocument(ctx context.Context, docID, requesterID string) ([]model.ShareToken, error) {
	doc, err := s.document(ctx, docID)
	if err != nil {
		return nil, err
	}
	role := roleOf(doc, requesterID)
	if requesterID == "" || !role.CanRead() {
		return nil, appErr.ErrPermissionDenied
	}
	tokens, err := retry.DoValue(ctx, s.retry, "list_share_tokens", func(ctx context.Context) ([]model.ShareToken, error) {
		return s.tokens.ListShareTokensByDocument(ctx, docID)
	})
	if err != nil {
		return nil, err
	}
	if role == model.RoleOwner {
		return tokens, nil
	}
	own := make([]model.ShareToken, 0, len(tokens))
	for _, tok := range tokens {
		if tok.IssuedBy == requesterID {
			own = append(own, tok)
		}
	}
	return own, nil
}

// Sweep marks up to limit expired or exhausted tokens as inactive.
func (s *ShareTokenService) Sweep(ctx context.Context, limit int) (int, error) {
	return retry.DoValue(ctx, s.retry, "sweep_share_tokens", func(ctx context.Context) (int, error) {
		return s.tokens.DeactivateInertShareTokens(ctx, s.now(), limit)
	})
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/notevault/internal/chunk"
	"github.com/xxxsen/notevault/internal/model"
	"github.com/xxxsen/notevault/internal/notify"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
	"github.com/xxxsen/notevault/internal/pkg/retry"
	"github.com/xxxsen/notevault/internal/pkg/timeutil"
	"github.com/xxxsen/notevault/internal/store"
)

const maxTitleLength = 200

type Options struct {
	ChunkBound       int
	TokenBytes       int
	Retry            retry.Config
	OperationTimeout time.Duration
	CacheSize        int
	CacheTTL         time.Duration
}

// DocumentContent is the unified view of a document, independent of its storage format.
type DocumentContent struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	UpdatedAt int64      `json:"updated_at"`
	Role      model.Role `json:"role"`
}

// SharedAccess is the result of using a share token.
type SharedAccess struct {
	Document   *DocumentContent      `json:"document"`
	Permission model.SharePermission `json:"permission"`
	Token      *model.ShareToken     `json:"share_token"`
}

type NoteService struct {
	docs     store.DocumentStore
	chunks   *ChunkStore
	detector *MigrationDetector
	shares   *ShareTokenService
	access   *AccessResolver
	hub      *notify.Hub
	retry    retry.Config
	timeout  time.Duration
}

func NewNoteService(backend store.Backend, hub *notify.Hub, opts Options) *NoteService {
	if opts.ChunkBound <= 0 {
		opts.ChunkBound = chunk.DefaultBound
	}
	chunks := NewChunkStore(backend, opts.ChunkBound, opts.Retry)
	shares := NewShareTokenService(backend, backend, opts.TokenBytes, opts.Retry)
	return &NoteService{
		docs:     backend,
		chunks:   chunks,
		detector: NewMigrationDetector(backend, chunks, opts.Retry, opts.CacheSize, opts.CacheTTL, opts.OperationTimeout),
		shares:   shares,
		access:   NewAccessResolver(backend, shares, opts.Retry),
		hub:      hub,
		retry:    opts.Retry,
		timeout:  opts.OperationTimeout,
	}
}

// withTimeout bounds a whole operation. When it fires the caller sees a failure
// even if the backing store later completes the work.
func (s *NoteService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func contentView(doc *model.Document, text string, role model.Role) *DocumentContent {
	return &DocumentContent{ID: doc.ID, Title: doc.Title, Content: text, UpdatedAt: doc.Mtime, Role: role}
}

func (s *NoteService) CreateDocument(ctx context.Context, ownerID, title, content string) (*DocumentContent, error) {
	if ownerID == "" {
		return nil, appErr.ErrUnauthorized
	}
	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := timeutil.NowMilli()
	doc := &model.Document{
		ID:            newDocumentID(),
		OwnerID:       ownerID,
		Title:         title,
		Collaborators: map[string]model.Role{},
		Ctime:         now,
		Mtime:         now,
	}
	if err := retry.Do(ctx, s.retry, "create_document", func(ctx context.Context) error {
		return s.docs.CreateDocument(ctx, doc)
	}); err != nil {
		return nil, err
	}
	if content != "" {
		if err := s.detector.Write(ctx, doc.ID, content); err != nil {
			return nil, err
		}
	}
	text, stored, err := s.detector.ReadUnified(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("document created", zap.String("doc_id", doc.ID), zap.String("owner", ownerID))
	return contentView(stored, text, model.RoleOwner), nil
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", appErr.ErrInvalid
	}
	if len([]rune(title)) > maxTitleLength {
		return "", appErr.ErrInvalid
	}
	return title, nil
}

func (s *NoteService) ReadDocument(ctx context.Context, requesterID, docID string) (*DocumentContent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	role, doc, err := s.access.readableDocument(ctx, requesterID, docID)
	if err != nil {
		return nil, err
	}
	text, doc, err := s.detector.contentOf(ctx, doc)
	if err != nil {
		return nil, err
	}
	return contentView(doc, text, role), nil
}

func (s *NoteService) WriteDocument(ctx context.Context, requesterID, docID, content string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc, err := s.access.writableDocument(ctx, requesterID, docID)
	if err != nil {
		return err
	}
	return s.detector.Write(ctx, doc.ID, content)
}

func (s *NoteService) UpdateTitle(ctx context.Context, requesterID, docID, title string) error {
	title, err := normalizeTitle(title)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.access.writableDocument(ctx, requesterID, docID); err != nil {
		return err
	}
	return retry.Do(ctx, s.retry, "update_title", func(ctx context.Context) error {
		return s.docs.UpdateTitle(ctx, docID, title, timeutil.NowMilli())
	})
}

// MigrateDocument converts a legacy document to chunked storage. Calling it on a
// chunked document does nothing.
func (s *NoteService) MigrateDocument(ctx context.Context, docID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.detector.MigrateIfNeeded(ctx, docID)
	return err
}

// MigrateLegacyBatch migrates up to limit legacy documents and returns how many
// were converted. Failures are logged and do not stop the batch.
func (s *NoteService) MigrateLegacyBatch(ctx context.Context, limit int) (int, error) {
	ids, err := retry.DoValue(ctx, s.retry, "list_legacy_documents", func(ctx context.Context) ([]string, error) {
		return s.docs.ListLegacyDocumentIDs(ctx, limit)
	})
	if err != nil {
		return 0, err
	}
	migrated := 0
	var errs []error
	for _, id := range ids {
		if err := s.MigrateDocument(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		migrated++
	}
	return migrated, errors.Join(errs...)
}

func (s *NoteService) ResolveAccess(ctx context.Context, userID, docID string) (model.Role, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	role, _, err := s.access.ResolveByIdentity(ctx, userID, docID)
	return role, err
}

func (s *NoteService) SetCollaborator(ctx context.Context, requesterID, docID, userID string, role model.Role) error {
	if userID == "" {
		return appErr.ErrInvalid
	}
	switch role {
	case model.RoleEditor, model.RoleViewer:
	case model.RoleOwner, model.RoleNone:
		return appErr.ErrInvalid
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc, err := s.access.ownedDocument(ctx, requesterID, docID)
	if err != nil {
		return err
	}
	if userID == doc.OwnerID {
		return appErr.ErrInvalid
	}
	return retry.Do(ctx, s.retry, "set_collaborator", func(ctx context.Context) error {
		return s.docs.SetCollaborator(ctx, docID, userID, role, timeutil.NowMilli())
	})
}

func (s *NoteService) RemoveCollaborator(ctx context.Context, requesterID, docID, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.access.ownedDocument(ctx, requesterID, docID); err != nil {
		return err
	}
	return retry.Do(ctx, s.retry, "remove_collaborator", func(ctx context.Context) error {
		return s.docs.RemoveCollaborator(ctx, docID, userID, timeutil.NowMilli())
	})
}

func (s *NoteService) SetPublic(ctx context.Context, requesterID, docID string, public bool) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.access.ownedDocument(ctx, requesterID, docID); err != nil {
		return err
	}
	return retry.Do(ctx, s.retry, "set_public", func(ctx context.Context) error {
		return s.docs.SetPublic(ctx, docID, public, timeutil.NowMilli())
	})
}

func (s *NoteService) IssueShareToken(ctx context.Context, docID, issuerID string, permission model.SharePermission, opts IssueOptions) (*model.ShareToken, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.shares.Issue(ctx, docID, issuerID, permission, opts)
}

func (s *NoteService) RevokeShareToken(ctx context.Context, token, requesterID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.shares.Revoke(ctx, token, requesterID)
}

func (s *NoteService) ListShareTokens(ctx context.Context, requesterID, docID string) ([]model.ShareToken, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.shares.ListByDocument(ctx, docID, requesterID)
}

// InspectShareToken reports a token's verdict without consuming a use.
func (s *NoteService) InspectShareToken(ctx context.Context, token string) (*model.ShareToken, model.TokenVerdict, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tok, err := s.shares.Inspect(ctx, token)
	if err != nil {
		return nil, model.TokenUsable, err
	}
	return tok, s.shares.Verdict(tok), nil
}

// UseShareToken consumes one use of token and returns the shared document at the
// token's permission. requestingUserID is recorded only; its own rights are not
// added to the result.
func (s *NoteService) UseShareToken(ctx context.Context, token, requestingUserID string) (*SharedAccess, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	access, err := s.access.ResolveByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	text, doc, err := s.detector.contentOf(ctx, access.Document)
	if err != nil {
		return nil, err
	}
	access.Document = doc
	logutil.GetLogger(ctx).Debug("share token used",
		zap.String("doc_id", access.Document.ID),
		zap.String("user_id", requestingUserID),
		zap.String("role", access.Role.String()),
	)
	return &SharedAccess{
		Document:   contentView(access.Document, text, access.Role),
		Permission: access.Token.Permission,
		Token:      access.Token,
	}, nil
}

// WriteWithShareToken replaces document content through an edit token.
func (s *NoteService) WriteWithShareToken(ctx context.Context, token, content string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	access, err := s.access.ResolveByToken(ctx, token)
	if err != nil {
		return err
	}
	if err := s.access.AuthorizeTokenWrite(access); err != nil {
		return err
	}
	return s.detector.Write(ctx, access.Document.ID, content)
}

// SweepShareTokens flags up to limit naturally inert tokens as inactive.
func (s *NoteService) SweepShareTokens(ctx context.Context, limit int) (int, error) {
	return s.shares.Sweep(ctx, limit)
}

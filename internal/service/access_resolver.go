package service

import (
	"context"

	"github.com/xxxsen/notevault/internal/model"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
	"github.com/xxxsen/notevault/internal/pkg/retry"
	"github.com/xxxsen/notevault/internal/store"
)

// TokenAccess is what a consumed share token grants. Role never exceeds the
// token permission and is never merged with the caller's own rights.
type TokenAccess struct {
	Role     model.Role
	Document *model.Document
	Token    *model.ShareToken
}

type AccessResolver struct {
	docs   store.DocumentStore
	tokens *ShareTokenService
	retry  retry.Config
}

func NewAccessResolver(docs store.DocumentStore, tokens *ShareTokenService, retryCfg retry.Config) *AccessResolver {
	return &AccessResolver{docs: docs, tokens: tokens, retry: retryCfg}
}

// roleOf computes the identity-based role of userID on doc.
func roleOf(doc *model.Document, userID string) model.Role {
	if userID != "" && doc.OwnerID == userID {
		return model.RoleOwner
	}
	role := doc.CollaboratorRole(userID)
	switch role {
	case model.RoleEditor, model.RoleViewer:
		return role
	case model.RoleOwner, model.RoleNone:
	}
	if doc.IsPublic {
		return model.RoleViewer
	}
	return model.RoleNone
}

func (r *AccessResolver) document(ctx context.Context, docID string) (*model.Document, error) {
	return retry.DoValue(ctx, r.retry, "get_document", func(ctx context.Context) (*model.Document, error) {
		return r.docs.GetDocument(ctx, docID)
	})
}

func (r *AccessResolver) ResolveByIdentity(ctx context.Context, userID, docID string) (model.Role, *model.Document, error) {
	doc, err := r.document(ctx, docID)
	if err != nil {
		return model.RoleNone, nil, err
	}
	return roleOf(doc, userID), doc, nil
}

// ResolveByToken consumes one use of token and loads the shared document.
func (r *AccessResolver) ResolveByToken(ctx context.Context, token string) (*TokenAccess, error) {
	tok, err := r.tokens.Consume(ctx, token)
	if err != nil {
		return nil, err
	}
	doc, err := r.document(ctx, tok.DocumentID)
	if err != nil {
		return nil, err
	}
	return &TokenAccess{Role: tok.Permission.Role(), Document: doc, Token: tok}, nil
}

// AuthorizeWrite returns nil only for owners and editors.
func (r *AccessResolver) AuthorizeWrite(ctx context.Context, userID, docID string) error {
	_, err := r.writableDocument(ctx, userID, docID)
	return err
}

func (r *AccessResolver) writableDocument(ctx context.Context, userID, docID string) (*model.Document, error) {
	role, doc, err := r.ResolveByIdentity(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	if !role.CanWrite() {
		return nil, appErr.ErrPermissionDenied
	}
	return doc, nil
}

func (r *AccessResolver) readableDocument(ctx context.Context, userID, docID string) (model.Role, *model.Document, error) {
	role, doc, err := r.ResolveByIdentity(ctx, userID, docID)
	if err != nil {
		return model.RoleNone, nil, err
	}
	if !role.CanRead() {
		return model.RoleNone, nil, appErr.ErrPermissionDenied
	}
	return role, doc, nil
}

func (r *AccessResolver) ownedDocument(ctx context.Context, userID, docID string) (*model.Document, error) {
	role, doc, err := r.ResolveByIdentity(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	if role != model.RoleOwner {
		return nil, appErr.ErrPermissionDenied
	}
	return doc, nil
}

func (r *AccessResolver) AuthorizeTokenWrite(access *TokenAccess) error {
	if access == nil || !access.Role.CanWrite() {
		return appErr.ErrPermissionDenied
	}
	return nil
}

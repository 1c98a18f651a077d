package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/notevault/internal/model"
	"github.com/xxxsen/notevault/internal/pkg/response"
	"github.com/xxxsen/notevault/internal/service"
)

type ShareHandler struct {
	notes *service.NoteService
}

func NewShareHandler(notes *service.NoteService) *ShareHandler {
	return &ShareHandler{notes: notes}
}

type issueShareRequest struct {
	Permission string `json:"permission"`
	ExpiresAt  int64  `json:"expires_at"`
	MaxUses    int64  `json:"max_uses"`
}

type shareWriteRequest struct {
	Content *string `json:"content"`
}

type shareStatus struct {
	Verdict    string                `json:"verdict"`
	DocumentID string                `json:"document_id"`
	Permission model.SharePermission `json:"permission"`
	ExpiresAt  int64                 `json:"expires_at"`
	MaxUses    int64                 `json:"max_uses"`
	UsageCount int64                 `json:"usage_count"`
}

func verdictName(v model.TokenVerdict) string {
	switch v {
	case model.TokenUsable:
		return "usable"
	case model.TokenRevoked:
		return "revoked"
	case model.TokenExpired:
		return "expired"
	case model.TokenExhausted:
		return "exhausted"
	}
	return "unknown"
}

func (h *ShareHandler) Issue(c *gin.Context) {
	var req issueShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid request")
		return
	}
	permission, err := model.ParseSharePermission(req.Permission)
	if err != nil {
		invalidRequest(c, "invalid permission")
		return
	}
	tok, err := h.notes.IssueShareToken(c.Request.Context(), c.Param("id"), getUserID(c), permission, service.IssueOptions{
		ExpiresAt: req.ExpiresAt,
		MaxUses:   req.MaxUses,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, tok)
}

func (h *ShareHandler) List(c *gin.Context) {
	tokens, err := h.notes.ListShareTokens(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"shares": tokens})
}

func (h *ShareHandler) Revoke(c *gin.Context) {
	if err := h.notes.RevokeShareToken(c.Request.Context(), c.Param("token"), getUserID(c)); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

// PublicGet consumes one use of the token.
func (h *ShareHandler) PublicGet(c *gin.Context) {
	access, err := h.notes.UseShareToken(c.Request.Context(), c.Param("token"), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, access)
}

func (h *ShareHandler) PublicWrite(c *gin.Context) {
	var req shareWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == nil {
		invalidRequest(c, "content required")
		return
	}
	if err := h.notes.WriteWithShareToken(c.Request.Context(), c.Param("token"), *req.Content); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

// PublicStatus reports whether the token is still usable without consuming it.
func (h *ShareHandler) PublicStatus(c *gin.Context) {
	tok, verdict, err := h.notes.InspectShareToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, shareStatus{
		Verdict:    verdictName(verdict),
		DocumentID: tok.DocumentID,
		Permission: tok.Permission,
		ExpiresAt:  tok.ExpiresAt,
		MaxUses:    tok.MaxUses,
		UsageCount: tok.UsageCount,
	})
}

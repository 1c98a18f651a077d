package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/notevault/internal/model"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
	"github.com/xxxsen/notevault/internal/pkg/response"
	"github.com/xxxsen/notevault/internal/service"
)

const defaultHeartbeat = 25 * time.Second

type DocumentHandler struct {
	notes     *service.NoteService
	heartbeat time.Duration
}

func NewDocumentHandler(notes *service.NoteService) *DocumentHandler {
	return &DocumentHandler{notes: notes, heartbeat: defaultHeartbeat}
}

type createDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type writeDocumentRequest struct {
	Content *string `json:"content"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type collaboratorRequest struct {
	Role model.Role `json:"role"`
}

type publicRequest struct {
	Public *bool `json:"public"`
}

func (h *DocumentHandler) Create(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid request")
		return
	}
	doc, err := h.notes.CreateDocument(c.Request.Context(), getUserID(c), req.Title, req.Content)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.notes.ReadDocument(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Write(c *gin.Context) {
	var req writeDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == nil {
		invalidRequest(c, "content required")
		return
	}
	if err := h.notes.WriteDocument(c.Request.Context(), getUserID(c), c.Param("id"), *req.Content); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *DocumentHandler) UpdateTitle(c *gin.Context) {
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid request")
		return
	}
	if err := h.notes.UpdateTitle(c.Request.Context(), getUserID(c), c.Param("id"), req.Title); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *DocumentHandler) Access(c *gin.Context) {
	role, err := h.notes.ResolveAccess(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"role": role})
}

// Migrate converts a legacy document; only members who may write can trigger it.
func (h *DocumentHandler) Migrate(c *gin.Context) {
	ctx := c.Request.Context()
	docID := c.Param("id")
	role, err := h.notes.ResolveAccess(ctx, getUserID(c), docID)
	if err != nil {
		handleError(c, err)
		return
	}
	if !role.CanWrite() {
		handleError(c, appErr.ErrPermissionDenied)
		return
	}
	if err := h.notes.MigrateDocument(ctx, docID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *DocumentHandler) SetCollaborator(c *gin.Context) {
	var req collaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid role")
		return
	}
	if err := h.notes.SetCollaborator(c.Request.Context(), getUserID(c), c.Param("id"), c.Param("user"), req.Role); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *DocumentHandler) RemoveCollaborator(c *gin.Context) {
	if err := h.notes.RemoveCollaborator(c.Request.Context(), getUserID(c), c.Param("id"), c.Param("user")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *DocumentHandler) SetPublic(c *gin.Context) {
	var req publicRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Public == nil {
		invalidRequest(c, "public required")
		return
	}
	if err := h.notes.SetPublic(c.Request.Context(), getUserID(c), c.Param("id"), *req.Public); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

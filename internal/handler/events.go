package handler

import (
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

// Events streams the document as server-sent events: one "document" event with
// the current content, another after every change, and "ping" keepalives.
// The subscription is released when the client goes away or access is lost.
func (h *DocumentHandler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	userID := getUserID(c)
	docID := c.Param("id")

	sub, err := h.notes.Subscribe(ctx, userID, docID)
	if err != nil {
		handleError(c, err)
		return
	}
	defer sub.Close()
	initial, err := h.notes.ReadDocument(ctx, userID, docID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("document", initial)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case update, ok := <-sub.Updates():
			if !ok {
				return false
			}
			if update.Err != nil {
				code, msg := errorCode(update.Err)
				c.SSEvent("error", gin.H{"code": code, "message": msg})
				return !errors.Is(update.Err, appErr.ErrPermissionDenied) && !errors.Is(update.Err, appErr.ErrNotFound)
			}
			c.SSEvent("document", update.Document)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/notevault/internal/middleware"
	"github.com/xxxsen/notevault/internal/pkg/errcode"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
	"github.com/xxxsen/notevault/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	return middleware.UserID(c)
}

// errorCode maps a service error to its response code and public message.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		return errcode.ErrUnauthorized, "unauthorized"
	case errors.Is(err, appErr.ErrPermissionDenied):
		return errcode.ErrForbidden, "permission denied"
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound, "not found"
	case errors.Is(err, appErr.ErrInvalid):
		return errcode.ErrInvalid, "invalid request"
	case errors.Is(err, appErr.ErrConflict):
		return errcode.ErrConflict, "conflict"
	case errors.Is(err, appErr.ErrTooMany):
		return errcode.ErrTooMany, "too many requests"
	case errors.Is(err, appErr.ErrTokenRevoked):
		return errcode.ErrTokenRevoked, "share token revoked"
	case errors.Is(err, appErr.ErrTokenExpired):
		return errcode.ErrTokenExpired, "share token expired"
	case errors.Is(err, appErr.ErrTokenExhausted):
		return errcode.ErrTokenExhausted, "share token exhausted"
	case errors.Is(err, appErr.ErrChunkGap):
		return errcode.ErrChunkCorrupted, "document content corrupted"
	case errors.Is(err, appErr.ErrSizeLimitExceeded):
		return errcode.ErrSizeLimitExceeded, "content chunk too large"
	case errors.Is(err, appErr.ErrBackingStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return errcode.ErrUnavailable, "storage unavailable, verify state before retrying"
	}
	return errcode.ErrInternal, "internal error"
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, msg := errorCode(err)
	requestID, _ := c.Get(middleware.ContextRequestIDKey)
	fields := []zap.Field{
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Int("code", code),
		zap.Error(err),
	}
	var partial *appErr.PartialWriteError
	if errors.As(err, &partial) {
		fields = append(fields, zap.Int("committed", partial.Committed), zap.Int("total", partial.Total))
	}
	logger := logutil.GetLogger(c.Request.Context())
	if code == errcode.ErrInternal || code == errcode.ErrChunkCorrupted || code == errcode.ErrUnavailable {
		logger.Error("request failed", fields...)
	} else {
		logger.Info("request denied", fields...)
	}
	response.Error(c, code, msg)
}

func invalidRequest(c *gin.Context, msg string) {
	response.Error(c, errcode.ErrInvalid, msg)
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/notevault/internal/pkg/errcode"
	"github.com/xxxsen/notevault/internal/pkg/jwt"
	"github.com/xxxsen/notevault/internal/pkg/response"
)

const ContextUserIDKey = "user_id"

// JWTAuth rejects requests without a valid bearer token.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Abort(c, errcode.ErrUnauthorized, "missing authorization")
			return
		}
		userID, ok := parseBearer(header, secret)
		if !ok {
			response.Abort(c, errcode.ErrUnauthorized, "invalid token")
			return
		}
		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

// OptionalJWT lets anonymous requests through but still rejects a malformed or
// forged token.
func OptionalJWT(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		userID, ok := parseBearer(header, secret)
		if !ok {
			response.Abort(c, errcode.ErrUnauthorized, "invalid token")
			return
		}
		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

func parseBearer(header string, secret []byte) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	claims, err := jwt.ParseToken(strings.TrimSpace(parts[1]), secret)
	if err != nil {
		return "", false
	}
	return claims.UserID, true
}

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(c *gin.Context) string {
	value, _ := c.Get(ContextUserIDKey)
	userID, _ := value.(string)
	return userID
}

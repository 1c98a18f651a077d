package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func serveLimited(handler gin.HandlerFunc, path, ip string) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", path, nil)
	c.Request.RemoteAddr = ip + ":1234"
	handler(c)
	return c
}

func TestRateLimitBlocksAfterBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := RateLimit(1, 2)

	require.False(t, serveLimited(handler, "/api/v1/public/share/tok", "10.0.0.1").IsAborted())
	require.False(t, serveLimited(handler, "/api/v1/public/share/tok", "10.0.0.1").IsAborted())
	require.True(t, serveLimited(handler, "/api/v1/public/share/tok", "10.0.0.1").IsAborted())
}

func TestRateLimitKeysByClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := RateLimit(1, 1)

	require.False(t, serveLimited(handler, "/api/v1/public/share/tok", "10.0.0.1").IsAborted())
	require.True(t, serveLimited(handler, "/api/v1/public/share/tok", "10.0.0.1").IsAborted())
	require.False(t, serveLimited(handler, "/api/v1/public/share/tok", "10.0.0.2").IsAborted())
}

func TestRateLimitDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := RateLimit(0, 0)
	for i := 0; i < 5; i++ {
		require.False(t, serveLimited(handler, "/x", "10.0.0.1").IsAborted())
	}
}

package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/notevault/internal/handler"
	"github.com/xxxsen/notevault/internal/kvstore"
	"github.com/xxxsen/notevault/internal/middleware"
	"github.com/xxxsen/notevault/internal/notify"
	"github.com/xxxsen/notevault/internal/pkg/jwt"
	"github.com/xxxsen/notevault/internal/pkg/retry"
	"github.com/xxxsen/notevault/internal/service"
)

var jwtSecret = []byte("test-secret")

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type testServer struct {
	router http.Handler
	notes  *service.NoteService
	kv     *kvstore.Store
}

func setupRouter(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	kv, err := kvstore.Open(kvstore.InMemoryConfig())
	require.NoError(t, err)
	hub := notify.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx, kv)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = kv.Close()
	})

	notes := service.NewNoteService(kv, hub, service.Options{
		ChunkBound:       16,
		Retry:            retry.Config{MaxAttempts: 2, InitialBackoff: time.Millisecond},
		OperationTimeout: 5 * time.Second,
	})
	deps := handler.RouterDeps{
		Documents:          handler.NewDocumentHandler(notes),
		Shares:             handler.NewShareHandler(notes),
		JWTSecret:          jwtSecret,
		ShareRatePerMinute: 600,
		ShareRateBurst:     100,
		EnableMetrics:      true,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return &testServer{router: engine, notes: notes, kv: kv}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.GenerateToken(userID, jwtSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func (s *testServer) call(t *testing.T, method, path, auth string, body interface{}) envelope {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var result envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	return result
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var value T
	require.NoError(t, json.Unmarshal(env.Data, &value))
	return value
}

package handler_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// nextEvent reads one server-sent event and returns its name and data line.
func nextEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && name != "":
			return name, data
		}
	}
}

func TestEventsStreamsChanges(t *testing.T) {
	srv := setupRouter(t)
	alice := bearer(t, "alice")
	resp := srv.call(t, http.MethodPost, "/api/v1/documents", alice, map[string]string{"title": "live", "content": "first"})
	created := decode[documentView](t, resp)

	server := httptest.NewServer(srv.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/documents/"+created.ID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", alice)
	stream, err := server.Client().Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()

	reader := bufio.NewReader(stream.Body)
	name, data := nextEvent(t, reader)
	require.Equal(t, "document", name)
	require.Contains(t, data, `"content":"first"`)

	require.NoError(t, srv.notes.WriteDocument(context.Background(), "alice", created.ID, "second"))
	for {
		name, data = nextEvent(t, reader)
		if name == "document" && strings.Contains(data, `"content":"second"`) {
			break
		}
	}
}

func TestEventsDeniedForStranger(t *testing.T) {
	srv := setupRouter(t)
	resp := srv.call(t, http.MethodPost, "/api/v1/documents", bearer(t, "alice"), map[string]string{"title": "private"})
	created := decode[documentView](t, resp)

	resp = srv.call(t, http.MethodGet, "/api/v1/documents/"+created.ID+"/events", bearer(t, "bob"), nil)
	require.NotEqual(t, 0, resp.Code)
}

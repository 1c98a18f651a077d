package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/notevault/internal/kvstore"
	"github.com/xxxsen/notevault/internal/model"
	"github.com/xxxsen/notevault/internal/notify"
	"github.com/xxxsen/notevault/internal/pkg/retry"
	"github.com/xxxsen/notevault/internal/store"
)

// recordingBackend counts chunk traffic and can inject PutChunks failures.
type recordingBackend struct {
	store.Backend

	mu          sync.Mutex
	chunkReads  int
	putCalls    int
	putChunks   int
	putFailures map[int]error
	batchBytes  int
	deleteErr   error
	// onListChunks and onPutChunks run once before the next matching call.
	onListChunks func()
	onPutChunks  func()
}

func (b *recordingBackend) MaxBatchBytes() int {
	b.mu.Lock()
	n := b.batchBytes
	b.mu.Unlock()
	if n > 0 {
		return n
	}
	return b.Backend.MaxBatchBytes()
}

func (b *recordingBackend) DeleteChunks(ctx context.Context, docID string, from, to int) error {
	b.mu.Lock()
	err := b.deleteErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.Backend.DeleteChunks(ctx, docID, from, to)
}

func (b *recordingBackend) GetChunk(ctx context.Context, docID string, ordinal int) (*model.Chunk, error) {
	b.mu.Lock()
	b.chunkReads++
	b.mu.Unlock()
	return b.Backend.GetChunk(ctx, docID, ordinal)
}

func (b *recordingBackend) ListChunks(ctx context.Context, docID string, from, to int) ([]model.Chunk, error) {
	b.mu.Lock()
	b.chunkReads++
	hook := b.onListChunks
	b.onListChunks = nil
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return b.Backend.ListChunks(ctx, docID, from, to)
}

func (b *recordingBackend) ListChunkDigests(ctx context.Context, docID string, from, to int) ([]model.ChunkDigest, error) {
	b.mu.Lock()
	b.chunkReads++
	b.mu.Unlock()
	return b.Backend.ListChunkDigests(ctx, docID, from, to)
}

func (b *recordingBackend) PutChunks(ctx context.Context, docID string, chunks []model.Chunk) error {
	b.mu.Lock()
	b.putCalls++
	call := b.putCalls
	err := b.putFailures[call]
	hook := b.onPutChunks
	b.onPutChunks = nil
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	if err := b.Backend.PutChunks(ctx, docID, chunks); err != nil {
		return err
	}
	b.mu.Lock()
	b.putChunks += len(chunks)
	b.mu.Unlock()
	return nil
}

// failPut makes the n-th PutChunks call (1-based) return err.
func (b *recordingBackend) failPut(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putFailures == nil {
		b.putFailures = make(map[int]error)
	}
	b.putFailures[n] = err
}

func (b *recordingBackend) stats() (reads, puts, written int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunkReads, b.putCalls, b.putChunks
}

func (b *recordingBackend) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunkReads = 0
	b.putCalls = 0
	b.putChunks = 0
	b.putFailures = nil
	b.batchBytes = 0
	b.deleteErr = nil
	b.onListChunks = nil
	b.onPutChunks = nil
}

type testEnv struct {
	svc     *NoteService
	backend *recordingBackend
	hub     *notify.Hub
}

func testRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func newTestEnv(t *testing.T, bound, maxBatch int) *testEnv {
	t.Helper()
	cfg := kvstore.InMemoryConfig()
	if maxBatch > 0 {
		cfg.MaxBatchSize = maxBatch
	}
	kv, err := kvstore.Open(cfg)
	require.NoError(t, err)
	backend := &recordingBackend{Backend: kv}
	hub := notify.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx, backend)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = kv.Close()
	})
	svc := NewNoteService(backend, hub, Options{
		ChunkBound:       bound,
		Retry:            testRetry(),
		OperationTimeout: 5 * time.Second,
	})
	return &testEnv{svc: svc, backend: backend, hub: hub}
}

func (e *testEnv) createLegacy(t *testing.T, owner, content string) string {
	t.Helper()
	doc := &model.Document{
		ID:            newDocumentID(),
		OwnerID:       owner,
		Title:         "legacy",
		LegacyContent: content,
		Collaborators: map[string]model.Role{},
		Ctime:         1,
		Mtime:         1,
	}
	require.NoError(t, e.backend.CreateDocument(context.Background(), doc))
	return doc.ID
}

func (e *testEnv) document(t *testing.T, docID string) *model.Document {
	t.Helper()
	doc, err := e.backend.GetDocument(context.Background(), docID)
	require.NoError(t, err)
	return doc
}

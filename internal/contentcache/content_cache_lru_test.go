package contentcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/notevault/internal/model"
)

type countingLoader struct {
	calls atomic.Int32
	text  string
	err   error
	gate  chan struct{}
}

func (c *countingLoader) Load(ctx context.Context, doc *model.Document) (string, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.text, c.err
}

func TestWrapDisabledReturnsNext(t *testing.T) {
	next := &countingLoader{text: "x"}
	require.Equal(t, Loader(next), WrapLruCacheToLoader(next, 0, time.Minute, 0))
	require.Equal(t, Loader(next), WrapLruCacheToLoader(next, 10, 0, 0))
}

func TestLoaderCachesByMetadata(t *testing.T) {
	next := &countingLoader{text: "content"}
	loader := WrapLruCacheToLoader(next, 16, time.Minute, 0)
	doc := &model.Document{ID: "d1", ChunkCount: 2, Mtime: 100}

	for i := 0; i < 3; i++ {
		text, err := loader.Load(context.Background(), doc)
		require.NoError(t, err)
		require.Equal(t, "content", text)
	}
	require.Equal(t, int32(1), next.calls.Load())

	updated := &model.Document{ID: "d1", ChunkCount: 2, Mtime: 101}
	_, err := loader.Load(context.Background(), updated)
	require.NoError(t, err)
	require.Equal(t, int32(2), next.calls.Load())
}

func TestLoaderDoesNotCacheErrors(t *testing.T) {
	next := &countingLoader{err: errors.New("boom")}
	loader := WrapLruCacheToLoader(next, 16, time.Minute, 0)
	doc := &model.Document{ID: "d1", ChunkCount: 1, Mtime: 1}
	_, err := loader.Load(context.Background(), doc)
	require.Error(t, err)
	_, err = loader.Load(context.Background(), doc)
	require.Error(t, err)
	require.Equal(t, int32(2), next.calls.Load())
}

func TestLoaderForget(t *testing.T) {
	next := &countingLoader{text: "content"}
	loader := WrapLruCacheToLoader(next, 16, time.Minute, 0)
	doc := &model.Document{ID: "d1", ChunkCount: 1, Mtime: 1}
	other := &model.Document{ID: "d10", ChunkCount: 1, Mtime: 1}
	_, _ = loader.Load(context.Background(), doc)
	_, _ = loader.Load(context.Background(), other)

	loader.(Forgetter).Forget("d1")
	_, _ = loader.Load(context.Background(), doc)
	_, _ = loader.Load(context.Background(), other)
	require.Equal(t, int32(3), next.calls.Load())
}

func TestLoaderCoalescesConcurrentMisses(t *testing.T) {
	next := &countingLoader{text: "content", gate: make(chan struct{})}
	loader := WrapLruCacheToLoader(next, 16, time.Minute, 0)
	doc := &model.Document{ID: "d1", ChunkCount: 1, Mtime: 1}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := loader.Load(context.Background(), doc)
			if err == nil && text != "content" {
				t.Errorf("unexpected text %q", text)
			}
		}()
	}
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(next.gate)
	wg.Wait()
	require.LessOrEqual(t, next.calls.Load(), int32(2))
}

// ctxLoader waits on gate and then fails when its context is already done.
type ctxLoader struct {
	gate chan struct{}
}

func (c *ctxLoader) Load(ctx context.Context, doc *model.Document) (string, error) {
	<-c.gate
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "content", nil
}

func TestLoaderSurvivesFirstCallerCancel(t *testing.T) {
	next := &ctxLoader{gate: make(chan struct{})}
	loader := WrapLruCacheToLoader(next, 16, time.Minute, time.Second)
	doc := &model.Document{ID: "d1", ChunkCount: 1, Mtime: 1}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := loader.Load(firstCtx, doc)
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type result struct {
		text string
		err  error
	}
	second := make(chan result, 1)
	go func() {
		text, err := loader.Load(context.Background(), doc)
		second <- result{text: text, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(next.gate)

	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, "content", res.text)
}

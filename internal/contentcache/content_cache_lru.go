// Package contentcache memoizes assembled document content.
package contentcache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xxxsen/notevault/internal/model"
)

// Loader produces the full text of a chunked document.
type Loader interface {
	Load(ctx context.Context, doc *model.Document) (string, error)
}

// Forgetter drops every cached entry of a document.
type Forgetter interface {
	Forget(docID string)
}

// WrapLruCacheToLoader caches Load results keyed by document id, mtime and chunk
// count, so a metadata commit moves readers to a fresh key. Concurrent misses on
// one key share a single load. The shared load does not inherit the cancellation
// of whichever caller started it; loadTimeout bounds it instead when positive.
func WrapLruCacheToLoader(next Loader, size int, ttl time.Duration, loadTimeout time.Duration) Loader {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruLoader{
		next:        next,
		cache:       expirable.NewLRU[string, string](size, nil, ttl),
		loadTimeout: loadTimeout,
	}
}

type lruLoader struct {
	next        Loader
	cache       *expirable.LRU[string, string]
	group       singleflight.Group
	loadTimeout time.Duration
}

func (l *lruLoader) Load(ctx context.Context, doc *model.Document) (string, error) {
	key := buildCacheKey(doc)
	if cached, ok := l.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("content cache hit", zap.String("doc_id", doc.ID))
		return cached, nil
	}
	ch := l.group.DoChan(key, func() (interface{}, error) {
		loadCtx := context.WithoutCancel(ctx)
		if l.loadTimeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(loadCtx, l.loadTimeout)
			defer cancel()
		}
		text, err := l.next.Load(loadCtx, doc)
		if err != nil {
			return "", err
		}
		l.cache.Add(key, text)
		return text, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (l *lruLoader) Forget(docID string) {
	prefix := docID + ":"
	for _, key := range l.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			l.cache.Remove(key)
		}
	}
}

func buildCacheKey(doc *model.Document) string {
	return doc.ID + ":" + strconv.FormatInt(doc.Mtime, 10) + ":" + strconv.Itoa(doc.ChunkCount)
}

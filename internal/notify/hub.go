// Package notify routes document change signals to per-document listeners.
package notify

import (
	"context"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Feed is the source of changed document ids, usually the backing store. An
// empty id means changes may have been missed and every listener is signalled.
type Feed interface {
	Watch(ctx context.Context) (<-chan string, error)
}

// Hub is the registry of document listeners. One instance is built at startup
// and handed to every component that publishes or listens.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[int64]chan struct{}
	nextID    int64
}

func NewHub() *Hub {
	return &Hub{listeners: make(map[string]map[int64]chan struct{})}
}

// Listen registers for changes of docID. Signals are coalesced: a listener that
// has not drained the previous signal sees one pending signal, not many. The
// returned cancel func unregisters and closes the channel; it is safe to call
// more than once.
func (h *Hub) Listen(docID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if _, ok := h.listeners[docID]; !ok {
		h.listeners[docID] = make(map[int64]chan struct{})
	}
	h.listeners[docID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if listeners := h.listeners[docID]; listeners != nil {
				delete(listeners, id)
				if len(listeners) == 0 {
					delete(h.listeners, docID)
				}
			}
			close(ch)
		})
	}
}

func (h *Hub) Publish(docID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners[docID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// PublishAll signals every listener of every document.
func (h *Hub) PublishAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, listeners := range h.listeners {
		for _, ch := range listeners {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// Count reports the number of live listeners on docID.
func (h *Hub) Count(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[docID])
}

// Run pumps feed into the hub until ctx is done or the feed closes.
func (h *Hub) Run(ctx context.Context, feed Feed) error {
	changes, err := feed.Watch(ctx)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("change feed attached")
	for {
		select {
		case <-ctx.Done():
			return nil
		case docID, ok := <-changes:
			if !ok {
				if ctx.Err() == nil {
					logutil.GetLogger(ctx).Warn("change feed closed unexpectedly")
				}
				return nil
			}
			if docID == "" {
				logutil.GetLogger(ctx).Info("change feed resync, signalling all listeners")
				h.PublishAll()
				continue
			}
			logutil.GetLogger(ctx).Debug("document changed", zap.String("doc_id", docID))
			h.Publish(docID)
		}
	}
}

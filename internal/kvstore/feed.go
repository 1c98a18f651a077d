package kvstore

import (
	"context"
	"sync"
)

// feed fans committed document changes out to watchers inside the process.
type feed struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]*watcher
}

// watcher collects changed ids until its pump hands them out. Repeated changes
// of one id collapse into one delivery; none are dropped.
type watcher struct {
	mu      sync.Mutex
	pending map[string]struct{}
	wake    chan struct{}
}

func newFeed() *feed {
	return &feed{subs: make(map[int64]*watcher)}
}

func (f *feed) watch(ctx context.Context) <-chan string {
	w := &watcher{pending: make(map[string]struct{}), wake: make(chan struct{}, 1)}
	out := make(chan string)
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = w
	f.mu.Unlock()
	go func() {
		defer close(out)
		defer func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
			}
			for _, docID := range w.take() {
				select {
				case out <- docID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (w *watcher) add(docID string) {
	w.mu.Lock()
	w.pending[docID] = struct{}{}
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) take() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.pending))
	for docID := range w.pending {
		ids = append(ids, docID)
	}
	clear(w.pending)
	return ids
}

func (f *feed) publish(docID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.subs {
		w.add(docID)
	}
}

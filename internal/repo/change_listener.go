package repo

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
	// resyncSignal tells watchers that notifications may have been lost.
	resyncSignal = ""
)

// Watch opens a dedicated LISTEN connection on ChangeChannel and forwards each
// notification payload (a document id) until ctx is done.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	logger := logutil.GetLogger(ctx)
	listener := pq.NewListener(s.dsn, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("change listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(ChangeChannel); err != nil {
		_ = listener.Close()
		return nil, err
	}
	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer listener.Close()
		ticker := time.NewTicker(listenerPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil is sent after a reconnect; notifications during the gap are
				// lost, so every watcher is asked to resync.
				docID := resyncSignal
				if n == nil {
					logger.Warn("change listener reconnected, requesting resync")
				} else {
					docID = n.Extra
				}
				select {
				case out <- docID:
				case <-ctx.Done():
					return
				}
			case <-ticker.C:
				if err := listener.Ping(); err != nil {
					logger.Warn("change listener ping failed", zap.Error(err))
				}
			}
		}
	}()
	return out, nil
}

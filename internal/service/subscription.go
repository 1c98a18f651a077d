package service

import (
	"context"
	"errors"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/notevault/internal/metrics"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

// Update is one delivery of a subscription: either the fresh document or the
// error that prevented reading it.
type Update struct {
	Document *DocumentContent
	Err      error
}

// Subscription streams fresh document content after every change. It owns a
// hub listener and must be closed; Close is safe to call repeatedly and from
// any goroutine. The subscription also ends when its context is cancelled or
// the subscriber loses read access.
type Subscription struct {
	docID   string
	updates chan Update
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (s *Subscription) DocumentID() string {
	return s.docID
}

// Updates is closed when the subscription ends.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
	})
	<-s.done
}

// Subscribe checks read access and starts a subscription on docID.
func (s *NoteService) Subscribe(ctx context.Context, requesterID, docID string) (*Subscription, error) {
	checkCtx, cancel := s.withTimeout(ctx)
	_, _, err := s.access.readableDocument(checkCtx, requesterID, docID)
	cancel()
	if err != nil {
		return nil, err
	}

	signals, release := s.hub.Listen(docID)
	subCtx, subCancel := context.WithCancel(ctx)
	sub := &Subscription{
		docID:   docID,
		updates: make(chan Update, 1),
		cancel:  subCancel,
		done:    make(chan struct{}),
	}
	metrics.ActiveSubscriptions.Inc()
	logutil.GetLogger(ctx).Debug("subscription opened", zap.String("doc_id", docID), zap.String("user_id", requesterID))
	go func() {
		defer func() {
			release()
			close(sub.updates)
			metrics.ActiveSubscriptions.Dec()
			logutil.GetLogger(ctx).Debug("subscription closed", zap.String("doc_id", docID))
			close(sub.done)
		}()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				doc, err := s.ReadDocument(subCtx, requesterID, docID)
				if subCtx.Err() != nil {
					return
				}
				if !deliver(subCtx, sub.updates, Update{Document: doc, Err: err}) {
					return
				}
				if errors.Is(err, appErr.ErrPermissionDenied) || errors.Is(err, appErr.ErrNotFound) {
					return
				}
			}
		}
	}()
	return sub, nil
}

// deliver replaces a pending undelivered update with the newer one.
func deliver(ctx context.Context, ch chan Update, update Update) bool {
	for {
		select {
		case ch <- update:
			return true
		case <-ctx.Done():
			return false
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

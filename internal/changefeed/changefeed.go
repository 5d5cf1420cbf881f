// Package changefeed tells document listeners that a collection changed.
//
// Payloads carry only the collection path; listeners re-read their document
// or query when woken, so a lost or duplicated notification costs at most one
// extra read.
package changefeed

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"keepto/internal/observability"
)

// Feed fans out collection-change notifications.
type Feed interface {
	Publish(ctx context.Context, collection string) error
	Subscribe(collection string, fn func()) (stop func())
	Close() error
}

// Local delivers notifications inside the current process. The networked
// feeds embed it to dispatch what they receive.
type Local struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]func()
	nextID uint64
	logger *slog.Logger
}

// NewLocal returns an in-process feed.
func NewLocal(logger *slog.Logger) *Local {
	return &Local{
		subs:   make(map[string]map[uint64]func()),
		logger: observability.Component(logger, "changefeed"),
	}
}

func (l *Local) Publish(_ context.Context, collection string) error {
	l.Dispatch(collection)
	return nil
}

func (l *Local) Subscribe(collection string, fn func()) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	if l.subs[collection] == nil {
		l.subs[collection] = make(map[uint64]func())
	}
	l.subs[collection][id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs[collection], id)
			if len(l.subs[collection]) == 0 {
				delete(l.subs, collection)
			}
		})
	}
}

// Dispatch invokes every subscriber of collection. Subscribers must not block.
func (l *Local) Dispatch(collection string) {
	l.mu.RLock()
	fns := make([]func(), 0, len(l.subs[collection]))
	for _, fn := range l.subs[collection] {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("panic in changefeed subscriber",
						slog.Any("panic", r),
						slog.String("collection", collection),
						slog.String("stack", string(debug.Stack())))
				}
			}()
			fn()
		}()
	}
}

// Subscribers returns the number of subscriptions on collection.
func (l *Local) Subscribers(collection string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs[collection])
}

func (l *Local) Close() error { return nil }

// Package subscription opens live document and query listeners and releases
// each of them exactly once.
package subscription

import (
	"context"
	"log/slog"
	"sync"

	"keepto/internal/docstore"
	"keepto/internal/observability"
)

const (
	KindQuery    = "query"
	KindDocument = "document"
)

// Manager opens listeners against a store and tracks the ones still alive.
type Manager struct {
	store  docstore.Store
	logger *slog.Logger

	mu     sync.Mutex
	active map[*Handle]struct{}
}

// NewManager creates a manager over store.
func NewManager(store docstore.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: observability.Component(logger, "subscription"),
		active: make(map[*Handle]struct{}),
	}
}

// Handle is one live listener.
//
// Callbacks for a handle never overlap and never run after Close returns.
// Close must not be called from the handle's own callbacks.
type Handle struct {
	m    *Manager
	kind string
	key  string

	mu     sync.Mutex
	closed bool
	stop   docstore.StopFunc
}

// Query subscribes to q. onUpdate receives the complete ordered result set on
// every change. onError may be nil; errors are always logged.
func (m *Manager) Query(ctx context.Context, q docstore.Query, onUpdate func([]docstore.Snapshot), onError func(error)) *Handle {
	h := m.track(KindQuery, q.Key())
	h.mu.Lock()
	h.stop = m.store.WatchQuery(ctx, q,
		func(docs []docstore.Snapshot) { h.deliver(func() { onUpdate(docs) }) },
		func(err error) { h.deliver(func() { h.fail(ctx, err, onError) }) },
	)
	h.mu.Unlock()
	return h
}

// Document subscribes to a single document. An absent document is delivered
// as a snapshot with Exists=false.
func (m *Manager) Document(ctx context.Context, path string, onUpdate func(docstore.Snapshot), onError func(error)) *Handle {
	h := m.track(KindDocument, path)
	h.mu.Lock()
	h.stop = m.store.Watch(ctx, path,
		func(snap docstore.Snapshot) { h.deliver(func() { onUpdate(snap) }) },
		func(err error) { h.deliver(func() { h.fail(ctx, err, onError) }) },
	)
	h.mu.Unlock()
	return h
}

func (m *Manager) track(kind, key string) *Handle {
	h := &Handle{m: m, kind: kind, key: key}
	m.mu.Lock()
	m.active[h] = struct{}{}
	m.mu.Unlock()

	observability.SubscriptionsOpened.WithLabelValues(kind).Inc()
	observability.SubscriptionsActive.WithLabelValues(kind).Inc()
	m.logger.Debug("subscription opened", slog.String("kind", kind), slog.String("key", key))
	return h
}

// Active returns the number of handles not yet closed.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close releases every handle still open.
func (m *Manager) Close() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.active))
	for h := range m.active {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

// Key identifies what the handle listens to.
func (h *Handle) Key() string {
	return h.key
}

// Close releases the listener. Only the first call has any effect.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	stop := h.stop
	h.mu.Unlock()

	if stop != nil {
		stop()
	}

	h.m.mu.Lock()
	delete(h.m.active, h)
	h.m.mu.Unlock()

	observability.SubscriptionsClosed.WithLabelValues(h.kind).Inc()
	observability.SubscriptionsActive.WithLabelValues(h.kind).Dec()
	h.m.logger.Debug("subscription closed", slog.String("kind", h.kind), slog.String("key", h.key))
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) deliver(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	fn()
}

func (h *Handle) fail(ctx context.Context, err error, onError func(error)) {
	observability.SubscriptionErrors.WithLabelValues(h.kind).Inc()
	h.m.logger.WarnContext(ctx, "subscription error",
		slog.String("kind", h.kind),
		slog.String("key", h.key),
		slog.String("error", err.Error()),
	)
	if onError != nil {
		onError(err)
	}
}

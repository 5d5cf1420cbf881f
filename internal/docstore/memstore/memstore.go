// Package memstore is an in-process docstore.Store with live listeners and
// optimistic transactions. It backs tests and single-node development runs.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"keepto/internal/docstore"
)

var errStale = errors.New("memstore: stale read")

type record struct {
	data    docstore.Data
	updated time.Time
}

type listener struct {
	match func(path string) bool
	pump  *docstore.Pump
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the commit clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithCommitHook installs a function that runs before every commit with the
// paths about to be written. A non-nil error aborts the commit unapplied.
func WithCommitHook(hook func(paths []string) error) Option {
	return func(s *Store) { s.commitHook = hook }
}

// WithWatchFault makes listeners whose key matches report an error instead
// of a snapshot. The key is the document path or docstore.Query.Key.
func WithWatchFault(fault func(key string) error) Option {
	return func(s *Store) { s.watchFault = fault }
}

// Store keeps every document in memory.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]record
	versions map[string]uint64
	seq      uint64
	last     time.Time

	lmu       sync.Mutex
	listeners map[uint64]*listener
	nextID    uint64

	clock      func() time.Time
	commitHook func(paths []string) error
	watchFault func(key string) error
}

var _ docstore.Store = (*Store)(nil)

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:      make(map[string]record),
		versions:  make(map[string]uint64),
		listeners: make(map[uint64]*listener),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type write struct {
	path   string
	data   docstore.Data
	merge  bool
	update bool
	delete bool
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Snapshot, error) {
	if _, _, err := docstore.Split(path); err != nil {
		return docstore.Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return docstore.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(path), nil
}

func (s *Store) GetAll(ctx context.Context, paths []string) ([]docstore.Snapshot, error) {
	for _, p := range paths {
		if _, _, err := docstore.Split(p); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]docstore.Snapshot, len(paths))
	for i, p := range paths {
		out[i] = s.snapshotLocked(p)
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, path string, data docstore.Data, opts ...docstore.SetOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := docstore.ApplySetOptions(opts)
	return s.commit(nil, []write{{path: path, data: data, merge: o.Merge}})
}

func (s *Store) Add(ctx context.Context, collection string, data docstore.Data) (string, error) {
	if err := docstore.CheckCollection(collection); err != nil {
		return "", err
	}
	id := docstore.NewID()
	if err := s.Set(ctx, docstore.Doc(collection, id), data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Watch(ctx context.Context, path string, onChange func(docstore.Snapshot), onError func(error)) docstore.StopFunc {
	return s.listen(ctx, func(p string) bool { return p == path }, func(ctx context.Context) {
		if s.watchFault != nil {
			if err := s.watchFault(path); err != nil {
				onError(err)
				return
			}
		}
		snap, err := s.Get(ctx, path)
		if err != nil {
			if ctx.Err() == nil {
				onError(err)
			}
			return
		}
		onChange(snap)
	})
}

func (s *Store) WatchQuery(ctx context.Context, q docstore.Query, onChange func([]docstore.Snapshot), onError func(error)) docstore.StopFunc {
	if err := docstore.CheckCollection(q.Collection); err != nil {
		go onError(err)
		return func() {}
	}
	return s.listen(ctx, func(p string) bool { return docstore.InCollection(p, q.Collection) }, func(ctx context.Context) {
		if s.watchFault != nil {
			if err := s.watchFault(q.Key()); err != nil {
				onError(err)
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		onChange(s.query(q))
	})
}

// Query runs q once against the current state.
func (s *Store) Query(q docstore.Query) []docstore.Snapshot {
	return s.query(q)
}

func (s *Store) query(q docstore.Query) []docstore.Snapshot {
	s.mu.RLock()
	docs := make([]docstore.Snapshot, 0)
	for path := range s.docs {
		if docstore.InCollection(path, q.Collection) {
			docs = append(docs, s.snapshotLocked(path))
		}
	}
	s.mu.RUnlock()
	return q.Apply(docs)
}

func (s *Store) listen(ctx context.Context, match func(string) bool, run func(context.Context)) docstore.StopFunc {
	l := &listener{match: match}

	s.lmu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	l.pump = docstore.StartPump(ctx, run)
	s.lmu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-l.pump.Done():
		}
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}()

	return func() { l.pump.Stop() }
}

// Listeners returns the number of live listeners.
func (s *Store) Listeners() int {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	return len(s.listeners)
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	for attempt := 0; attempt < docstore.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &txn{s: s, reads: make(map[string]uint64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := s.commit(tx.reads, tx.writes)
		if errors.Is(err, errStale) {
			continue
		}
		return err
	}
	return docstore.ErrConflict
}

func (s *Store) snapshotLocked(path string) docstore.Snapshot {
	_, id, _ := docstore.Split(path)
	rec, ok := s.docs[path]
	if !ok {
		return docstore.Snapshot{ID: id, Path: path}
	}
	return docstore.Snapshot{
		ID:         id,
		Path:       path,
		Exists:     true,
		Data:       rec.data.DeepClone(),
		UpdateTime: rec.updated,
	}
}

// tick returns a commit time strictly after the previous one.
func (s *Store) tick() time.Time {
	now := s.clock().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

func (s *Store) commit(reads map[string]uint64, writes []write) error {
	if len(writes) == 0 {
		return s.verify(reads)
	}
	paths := make([]string, len(writes))
	for i, w := range writes {
		if _, _, err := docstore.Split(w.path); err != nil {
			return err
		}
		paths[i] = w.path
	}

	s.mu.Lock()
	for path, v := range reads {
		if s.versions[path] != v {
			s.mu.Unlock()
			return errStale
		}
	}
	for _, w := range writes {
		if w.update {
			if _, ok := s.docs[w.path]; !ok {
				s.mu.Unlock()
				return docstore.ErrNotFound
			}
		}
	}
	if s.commitHook != nil {
		if err := s.commitHook(paths); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	now := s.tick()
	s.seq++
	for _, w := range writes {
		s.versions[w.path] = s.seq
		if w.delete {
			delete(s.docs, w.path)
			continue
		}
		data := docstore.Resolve(w.data, now).DeepClone()
		if w.merge || w.update {
			if existing, ok := s.docs[w.path]; ok {
				data = docstore.MergeInto(existing.data, data)
			}
		}
		s.docs[w.path] = record{data: data, updated: now}
	}
	s.mu.Unlock()

	s.notify(paths)
	return nil
}

func (s *Store) verify(reads map[string]uint64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for path, v := range reads {
		if s.versions[path] != v {
			return errStale
		}
	}
	return nil
}

func (s *Store) notify(paths []string) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	for _, l := range s.listeners {
		for _, p := range paths {
			if l.match(p) {
				l.pump.Kick()
				break
			}
		}
	}
}

type txn struct {
	s      *Store
	reads  map[string]uint64
	writes []write
}

func (t *txn) Get(path string) (docstore.Snapshot, error) {
	if _, _, err := docstore.Split(path); err != nil {
		return docstore.Snapshot{}, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if _, seen := t.reads[path]; !seen {
		t.reads[path] = t.s.versions[path]
	}
	return t.s.snapshotLocked(path), nil
}

func (t *txn) Set(path string, data docstore.Data, opts ...docstore.SetOption) error {
	o := docstore.ApplySetOptions(opts)
	t.writes = append(t.writes, write{path: path, data: data, merge: o.Merge})
	return nil
}

func (t *txn) Update(path string, data docstore.Data) error {
	t.writes = append(t.writes, write{path: path, data: data, update: true})
	return nil
}

func (t *txn) Delete(path string) error {
	t.writes = append(t.writes, write{path: path, delete: true})
	return nil
}

// Package sqlstore keeps documents in a single SQL table through GORM and
// wakes listeners through a changefeed.Feed, so several server instances can
// share one postgres database.
package sqlstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"keepto/internal/changefeed"
	"keepto/internal/docstore"
	"keepto/internal/observability"
)

var errStale = errors.New("sqlstore: stale read")

// Document is one stored document. Version increases on every write and
// guards optimistic transactions.
type Document struct {
	Path       string    `gorm:"primaryKey;size:512"`
	Collection string    `gorm:"index;size:512;not null"`
	DocID      string    `gorm:"size:128;not null"`
	Data       string    `gorm:"type:text;not null"`
	Version    int64     `gorm:"not null"`
	CommitTime time.Time `gorm:"not null"`
	CreatedAt  time.Time
}

func (Document) TableName() string { return "documents" }

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the commit clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = observability.Component(l, "sqlstore") }
}

// Store implements docstore.Store on a GORM connection.
type Store struct {
	db     *gorm.DB
	feed   changefeed.Feed
	clock  func() time.Time
	logger *slog.Logger

	mu   sync.Mutex
	last time.Time
}

var _ docstore.Store = (*Store)(nil)

// New returns a Store. The documents table must already exist (see Migrate).
func New(db *gorm.DB, feed changefeed.Feed, opts ...Option) *Store {
	s := &Store{
		db:     db,
		feed:   feed,
		clock:  time.Now,
		logger: observability.Component(nil, "sqlstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Snapshot, error) {
	if _, _, err := docstore.Split(path); err != nil {
		return docstore.Snapshot{}, err
	}
	doc, found, err := s.load(s.db.WithContext(ctx), path)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	return toSnapshot(path, doc, found)
}

func (s *Store) GetAll(ctx context.Context, paths []string) ([]docstore.Snapshot, error) {
	for _, p := range paths {
		if _, _, err := docstore.Split(p); err != nil {
			return nil, err
		}
	}
	if len(paths) == 0 {
		return nil, nil
	}
	var docs []Document
	if err := s.db.WithContext(ctx).Where("path IN ?", paths).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	byPath := make(map[string]Document, len(docs))
	for _, d := range docs {
		byPath[d.Path] = d
	}
	out := make([]docstore.Snapshot, len(paths))
	for i, p := range paths {
		d, found := byPath[p]
		snap, err := toSnapshot(p, d, found)
		if err != nil {
			return nil, err
		}
		out[i] = snap
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, path string, data docstore.Data, opts ...docstore.SetOption) error {
	o := docstore.ApplySetOptions(opts)
	return s.commit(ctx, nil, []write{{path: path, data: data, merge: o.Merge}})
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

// Query runs q once. String filters are narrowed in SQL; ordering and the
// limit are applied in Go because stored timestamps are RFC 3339 text whose
// trimmed fractions do not sort lexically.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	collection := strings.Trim(q.Collection, "/")
	if err := docstore.CheckCollection(collection); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx).Where("collection = ?", collection)
	var docs []Document
	if err := pushdown(db, q.Filters).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	snaps := make([]docstore.Snapshot, 0, len(docs))
	for _, d := range docs {
		snap, err := toSnapshot(d.Path, d, true)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return q.Apply(snaps), nil
}

var plainField = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// pushdown adds a WHERE clause per filter the dialect can evaluate on the
// JSON body. It only ever narrows to a superset of the matches; Apply
// re-checks every filter.
func pushdown(db *gorm.DB, filters []docstore.Filter) *gorm.DB {
	dialect := db.Dialector.Name()
	for _, f := range filters {
		val, ok := docstore.LiteralString(f.Value)
		if !ok || !plainField.MatchString(f.Field) {
			continue
		}
		switch {
		case f.Op == docstore.OpEqual && dialect == "sqlite":
			db = db.Where("json_extract(data, ?) = ?", "$."+f.Field, val)
		case f.Op == docstore.OpEqual && dialect == "postgres":
			db = db.Where("(data::jsonb ->> ?) = ?", f.Field, val)
		case f.Op == docstore.OpArrayContains && dialect == "sqlite":
			db = db.Where("EXISTS (SELECT 1 FROM json_each(documents.data, ?) WHERE json_each.value = ?)", "$."+f.Field, val)
		case f.Op == docstore.OpArrayContains && dialect == "postgres":
			db = db.Where("(data::jsonb -> ?) @> jsonb_build_array(?::text)", f.Field, val)
		}
	}
	return db
}

func (s *Store) Watch(ctx context.Context, path string, onChange func(docstore.Snapshot), onError func(error)) docstore.StopFunc {
	collection, _, err := docstore.Split(path)
	if err != nil {
		go onError(err)
		return func() {}
	}
	return s.listen(ctx, collection, func(ctx context.Context) {
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
	collection := strings.Trim(q.Collection, "/")
	if err := docstore.CheckCollection(collection); err != nil {
		go onError(err)
		return func() {}
	}
	return s.listen(ctx, collection, func(ctx context.Context) {
		snaps, err := s.Query(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				onError(err)
			}
			return
		}
		onChange(snaps)
	})
}

func (s *Store) listen(ctx context.Context, collection string, run func(context.Context)) docstore.StopFunc {
	pump := docstore.StartPump(ctx, run)
	unsubscribe := s.feed.Subscribe(collection, pump.Kick)
	// A change committed before the subscription existed may have been missed
	// by the initial run.
	pump.Kick()
	go func() {
		select {
		case <-ctx.Done():
		case <-pump.Done():
		}
		unsubscribe()
	}()
	return pump.Stop
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	for attempt := 0; attempt < docstore.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &txn{s: s, ctx: ctx, reads: make(map[string]int64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := s.commit(ctx, tx.reads, tx.writes)
		if errors.Is(err, errStale) {
			s.logger.DebugContext(ctx, "transaction retry", slog.Int("attempt", attempt+1))
			continue
		}
		return err
	}
	return docstore.ErrConflict
}

type write struct {
	path   string
	data   docstore.Data
	merge  bool
	update bool
	delete bool
}

func (s *Store) tick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

func (s *Store) commit(ctx context.Context, reads map[string]int64, writes []write) error {
	for _, w := range writes {
		if _, _, err := docstore.Split(w.path); err != nil {
			return err
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for path, version := range reads {
			doc, found, err := s.load(tx, path)
			if err != nil {
				return err
			}
			current := int64(0)
			if found {
				current = doc.Version
			}
			if current != version {
				return errStale
			}
		}
		if len(writes) == 0 {
			return nil
		}

		now := s.tick()
		for _, w := range writes {
			if err := s.apply(tx, w, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isDuplicate(err) {
			return errStale
		}
		return err
	}

	s.publish(ctx, writes)
	return nil
}

func (s *Store) apply(tx *gorm.DB, w write, now time.Time) error {
	existing, found, err := s.load(tx, w.path)
	if err != nil {
		return err
	}

	if w.delete {
		if !found {
			return nil
		}
		res := tx.Where("path = ? AND version = ?", w.path, existing.Version).Delete(&Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStale
		}
		return nil
	}
	if w.update && !found {
		return docstore.ErrNotFound
	}

	data := docstore.Resolve(w.data, now)
	if found && (w.merge || w.update) {
		prev, err := decode(existing.Data)
		if err != nil {
			return err
		}
		data = docstore.MergeInto(prev, data)
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", w.path, err)
	}

	if !found {
		collection, id, _ := docstore.Split(w.path)
		return tx.Create(&Document{
			Path:       w.path,
			Collection: collection,
			DocID:      id,
			Data:       string(encoded),
			Version:    1,
			CommitTime: now,
		}).Error
	}

	res := tx.Model(&Document{}).
		Where("path = ? AND version = ?", w.path, existing.Version).
		Updates(map[string]any{
			"data":        string(encoded),
			"version":     existing.Version + 1,
			"commit_time": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errStale
	}
	return nil
}

func (s *Store) publish(ctx context.Context, writes []write) {
	seen := make(map[string]bool, len(writes))
	for _, w := range writes {
		collection, _, _ := docstore.Split(w.path)
		if seen[collection] {
			continue
		}
		seen[collection] = true
		if err := s.feed.Publish(ctx, collection); err != nil {
			s.logger.WarnContext(ctx, "change notification failed",
				slog.String("collection", collection),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Store) load(db *gorm.DB, path string) (Document, bool, error) {
	var docs []Document
	if err := db.Where("path = ?", path).Limit(1).Find(&docs).Error; err != nil {
		return Document{}, false, fmt.Errorf("load %s: %w", path, err)
	}
	if len(docs) == 0 {
		return Document{}, false, nil
	}
	return docs[0], true, nil
}

type txn struct {
	s      *Store
	ctx    context.Context
	reads  map[string]int64
	writes []write
}

func (t *txn) Get(path string) (docstore.Snapshot, error) {
	if _, _, err := docstore.Split(path); err != nil {
		return docstore.Snapshot{}, err
	}
	doc, found, err := t.s.load(t.s.db.WithContext(t.ctx), path)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	if _, seen := t.reads[path]; !seen {
		if found {
			t.reads[path] = doc.Version
		} else {
			t.reads[path] = 0
		}
	}
	return toSnapshot(path, doc, found)
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

func toSnapshot(path string, doc Document, found bool) (docstore.Snapshot, error) {
	_, id, _ := docstore.Split(path)
	if !found {
		return docstore.Snapshot{ID: id, Path: path}, nil
	}
	data, err := decode(doc.Data)
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return docstore.Snapshot{
		ID:         id,
		Path:       path,
		Exists:     true,
		Data:       data,
		UpdateTime: doc.CommitTime,
	}, nil
}

func decode(raw string) (docstore.Data, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var data docstore.Data
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if data == nil {
		data = docstore.Data{}
	}
	return data, nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

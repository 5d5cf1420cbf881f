// Package firestore adapts Cloud Firestore to docstore.Store.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	gfs "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"keepto/internal/docstore"
	"keepto/internal/observability"
)

// Store talks to Firestore through the admin SDK.
type Store struct {
	client *gfs.Client
	logger *slog.Logger
}

var _ docstore.Store = (*Store)(nil)

// New opens a Firestore client from the Firebase app.
func New(ctx context.Context, app *firebase.App, logger *slog.Logger) (*Store, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open firestore: %w", err)
	}
	return &Store{client: client, logger: observability.Component(logger, "firestore")}, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) doc(path string) (*gfs.DocumentRef, error) {
	if _, _, err := docstore.Split(path); err != nil {
		return nil, err
	}
	ref := s.client.Doc(path)
	if ref == nil {
		return nil, docstore.ErrInvalidPath
	}
	return ref, nil
}

// collection returns the reference of a collection path. The client returns
// nil for paths that do not name a collection, so they are rejected first.
func (s *Store) collection(path string) (*gfs.CollectionRef, error) {
	if err := docstore.CheckCollection(path); err != nil {
		return nil, err
	}
	ref := s.client.Collection(path)
	if ref == nil {
		return nil, fmt.Errorf("%w: collection %q", docstore.ErrInvalidPath, path)
	}
	return ref, nil
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Snapshot, error) {
	ref, err := s.doc(path)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	ds, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return docstore.Snapshot{ID: ref.ID, Path: path}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("get %s: %w", path, err)
	}
	return fromFirestore(path, ds), nil
}

func (s *Store) GetAll(ctx context.Context, paths []string) ([]docstore.Snapshot, error) {
	refs := make([]*gfs.DocumentRef, len(paths))
	for i, p := range paths {
		ref, err := s.doc(p)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}
	if len(refs) == 0 {
		return nil, nil
	}
	docs, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	out := make([]docstore.Snapshot, len(docs))
	for i, ds := range docs {
		out[i] = fromFirestore(paths[i], ds)
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, path string, data docstore.Data, opts ...docstore.SetOption) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	if docstore.ApplySetOptions(opts).Merge {
		_, err = ref.Set(ctx, toFirestore(data), gfs.MergeAll)
	} else {
		_, err = ref.Set(ctx, toFirestore(data))
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, data docstore.Data) (string, error) {
	col, err := s.collection(collection)
	if err != nil {
		return "", err
	}
	ref, _, err := col.Add(ctx, toFirestore(data))
	if err != nil {
		return "", fmt.Errorf("add to %s: %w", collection, err)
	}
	return ref.ID, nil
}

func (s *Store) Watch(ctx context.Context, path string, onChange func(docstore.Snapshot), onError func(error)) docstore.StopFunc {
	ref, err := s.doc(path)
	if err != nil {
		go onError(err)
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	it := ref.Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			ds, err := it.Next()
			if err != nil {
				if !stopped(ctx, err) {
					onError(fmt.Errorf("watch %s: %w", path, err))
				}
				return
			}
			onChange(fromFirestore(path, ds))
		}
	}()
	return stopFunc(cancel)
}

func (s *Store) WatchQuery(ctx context.Context, q docstore.Query, onChange func([]docstore.Snapshot), onError func(error)) docstore.StopFunc {
	query, err := s.query(q)
	if err != nil {
		go onError(err)
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	it := query.Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if !stopped(ctx, err) {
					onError(fmt.Errorf("watch query %s: %w", q.Key(), err))
				}
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				if !stopped(ctx, err) {
					onError(fmt.Errorf("read query %s: %w", q.Key(), err))
				}
				return
			}
			out := make([]docstore.Snapshot, len(docs))
			for i, ds := range docs {
				out[i] = fromFirestore(docstore.Doc(q.Collection, ds.Ref.ID), ds)
			}
			onChange(out)
		}
	}()
	return stopFunc(cancel)
}

func (s *Store) query(q docstore.Query) (gfs.Query, error) {
	col, err := s.collection(q.Collection)
	if err != nil {
		return gfs.Query{}, err
	}
	query := col.Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, string(f.Op), f.Value)
	}
	if q.OrderBy != "" {
		dir := gfs.Asc
		if q.Desc {
			dir = gfs.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gfs.Transaction) error {
		return fn(ctx, &txn{s: s, tx: tx})
	}, gfs.MaxAttempts(docstore.MaxAttempts))
	switch status.Code(err) {
	case codes.OK:
		return nil
	case codes.NotFound:
		return fmt.Errorf("%w: %v", docstore.ErrNotFound, err)
	case codes.Aborted:
		return fmt.Errorf("%w: %v", docstore.ErrConflict, err)
	default:
		return err
	}
}

type txn struct {
	s  *Store
	tx *gfs.Transaction
}

func (t *txn) Get(path string) (docstore.Snapshot, error) {
	ref, err := t.s.doc(path)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	ds, err := t.tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return docstore.Snapshot{ID: ref.ID, Path: path}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, err
	}
	return fromFirestore(path, ds), nil
}

func (t *txn) Set(path string, data docstore.Data, opts ...docstore.SetOption) error {
	ref, err := t.s.doc(path)
	if err != nil {
		return err
	}
	if docstore.ApplySetOptions(opts).Merge {
		return t.tx.Set(ref, toFirestore(data), gfs.MergeAll)
	}
	return t.tx.Set(ref, toFirestore(data))
}

func (t *txn) Update(path string, data docstore.Data) error {
	ref, err := t.s.doc(path)
	if err != nil {
		return err
	}
	updates := make([]gfs.Update, 0, len(data))
	for k, v := range toFirestore(data) {
		updates = append(updates, gfs.Update{Path: k, Value: v})
	}
	return t.tx.Update(ref, updates)
}

func (t *txn) Delete(path string) error {
	ref, err := t.s.doc(path)
	if err != nil {
		return err
	}
	return t.tx.Delete(ref)
}

func stopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled
}

func stopFunc(cancel context.CancelFunc) docstore.StopFunc {
	var once sync.Once
	return func() { once.Do(cancel) }
}

func fromFirestore(path string, ds *gfs.DocumentSnapshot) docstore.Snapshot {
	_, id, _ := docstore.Split(path)
	if ds == nil || !ds.Exists() {
		return docstore.Snapshot{ID: id, Path: path}
	}
	return docstore.Snapshot{
		ID:         id,
		Path:       path,
		Exists:     true,
		Data:       docstore.Data(ds.Data()),
		UpdateTime: ds.UpdateTime,
	}
}

func toFirestore(data docstore.Data) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = convertValue(v)
	}
	return out
}

func convertValue(v any) any {
	switch val := v.(type) {
	case docstore.Data:
		return toFirestore(val)
	case map[string]any:
		return toFirestore(docstore.Data(val))
	default:
		if docstore.IsServerTimestamp(v) {
			return gfs.ServerTimestamp
		}
		return v
	}
}

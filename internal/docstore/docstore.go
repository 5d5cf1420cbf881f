// Package docstore defines the document database the rest of the module talks to.
//
// A Store holds JSON-like documents addressed by slash-separated paths
// ("posts/{id}", "posts/{id}/likes/{uid}"). Documents can be read once,
// written, watched live, queried live and mutated inside optimistic
// transactions. Adapters live in the memstore, sqlstore and firestore
// subpackages.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an update targets a document that does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrConflict is returned when a transaction keeps losing to concurrent writers.
	ErrConflict = errors.New("docstore: transaction conflict")
	// ErrInvalidPath is returned for paths that do not name a document or
	// collection.
	ErrInvalidPath = errors.New("docstore: invalid path")
)

// MaxAttempts bounds how many times a transaction function is run before
// RunTransaction gives up with ErrConflict.
const MaxAttempts = 5

type serverTimestamp struct{}

// ServerTimestamp is a sentinel field value replaced with the store's commit
// time when the write is applied.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Snapshot is the state of one document at a point in time.
type Snapshot struct {
	ID         string
	Path       string
	Exists     bool
	Data       Data
	UpdateTime time.Time
}

// Op is a query filter operator.
type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

// Filter restricts a query to documents whose Field matches Value under Op.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query describes a live or one-shot collection query. Results are ordered by
// OrderBy (ties broken by document ID) and truncated to Limit when positive.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Key returns a stable description of the query, used for logs and metrics.
func (q Query) Key() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		b.WriteString("|")
		b.WriteString(f.Field)
		b.WriteString(string(f.Op))
		b.WriteString(toString(f.Value))
	}
	if q.OrderBy != "" {
		b.WriteString("|order:")
		b.WriteString(q.OrderBy)
		if q.Desc {
			b.WriteString(":desc")
		}
	}
	return b.String()
}

// SetOption configures Set.
type SetOption func(*SetOptions)

// SetOptions holds the resolved Set configuration.
type SetOptions struct {
	Merge bool
}

// Merge makes Set overwrite only the supplied top-level fields instead of
// replacing the whole document.
func Merge() SetOption {
	return func(o *SetOptions) { o.Merge = true }
}

// ApplySetOptions resolves a list of options.
func ApplySetOptions(opts []SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// StopFunc releases a live listener. Calling it more than once is harmless.
type StopFunc func()

// Store is the document database.
//
// Watch and WatchQuery deliver the complete current state on a goroutine owned
// by the listener: once immediately and again after every change that may
// affect it. Deliveries to one listener never overlap.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	GetAll(ctx context.Context, paths []string) ([]Snapshot, error)
	Set(ctx context.Context, path string, data Data, opts ...SetOption) error
	Add(ctx context.Context, collection string, data Data) (string, error)
	Watch(ctx context.Context, path string, onChange func(Snapshot), onError func(error)) StopFunc
	WatchQuery(ctx context.Context, q Query, onChange func([]Snapshot), onError func(error)) StopFunc
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the handle passed to a transaction function. Reads see committed
// state; writes are buffered and applied together when the function returns nil.
type Tx interface {
	Get(path string) (Snapshot, error)
	Set(path string, data Data, opts ...SetOption) error
	Update(path string, data Data) error
	Delete(path string) error
}

// NewID returns a fresh document ID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Doc joins path segments into a document or collection path.
func Doc(segments ...string) string {
	return strings.Join(segments, "/")
}

// ValidID reports whether id can be used as one path segment.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}

// segments splits path and reports whether every segment is non-empty.
func segments(path string) ([]string, bool) {
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}

// CheckCollection returns ErrInvalidPath unless path names a collection: an
// odd number of non-empty segments.
func CheckCollection(path string) error {
	parts, ok := segments(path)
	if !ok || len(parts)%2 != 1 {
		return fmt.Errorf("%w: collection %q", ErrInvalidPath, path)
	}
	return nil
}

// Split separates a document path into its parent collection and ID.
func Split(path string) (collection, id string, err error) {
	path = strings.Trim(path, "/")
	parts, ok := segments(path)
	if !ok || len(parts) < 2 || len(parts)%2 != 0 {
		return "", "", ErrInvalidPath
	}
	i := strings.LastIndex(path, "/")
	return path[:i], path[i+1:], nil
}

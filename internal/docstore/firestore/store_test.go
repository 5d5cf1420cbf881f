package firestore

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	gfs "cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"keepto/internal/docstore"
)

func TestToFirestoreMapsSentinels(t *testing.T) {
	t.Parallel()
	out := toFirestore(docstore.Data{
		"createdAt": docstore.ServerTimestamp,
		"participantData": docstore.Data{
			"u1": map[string]any{"displayName": "Ann", "seenAt": docstore.ServerTimestamp},
		},
		"likesCount": int64(0),
	})

	assert.Equal(t, gfs.ServerTimestamp, out["createdAt"])
	nested := out["participantData"].(map[string]interface{})["u1"].(map[string]interface{})
	assert.Equal(t, "Ann", nested["displayName"])
	assert.Equal(t, gfs.ServerTimestamp, nested["seenAt"])
	assert.Equal(t, int64(0), out["likesCount"])
}

func TestFromFirestoreMissingDocument(t *testing.T) {
	t.Parallel()
	snap := fromFirestore("posts/p1/likes/u1", nil)
	assert.False(t, snap.Exists)
	assert.Equal(t, "u1", snap.ID)
	assert.Equal(t, "posts/p1/likes/u1", snap.Path)
}

func TestStoppedClassifiesListenerShutdown(t *testing.T) {
	t.Parallel()
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, stopped(live, iterator.Done))
	assert.True(t, stopped(live, status.Error(codes.Canceled, "closed")))
	assert.True(t, stopped(cancelled, errors.New("anything")))
	assert.False(t, stopped(live, status.Error(codes.PermissionDenied, "denied")))
}

// A Store without a client: every call below must be rejected before the
// client is touched.
func unconnected() *Store {
	return &Store{logger: slog.Default()}
}

func TestInvalidPathsAreRejectedBeforeTheClient(t *testing.T) {
	t.Parallel()
	collections := []string{
		"",
		"posts/p1",
		"posts/a/b/comments",
		"chats/a/b_u1/messages",
		"posts//comments",
	}
	for _, col := range collections {
		t.Run("query "+col, func(t *testing.T) {
			t.Parallel()
			errs := make(chan error, 1)
			stop := unconnected().WatchQuery(context.Background(), docstore.Query{Collection: col, OrderBy: "createdAt"},
				func([]docstore.Snapshot) { t.Error("no snapshot expected") },
				func(err error) { errs <- err },
			)
			defer stop()
			select {
			case err := <-errs:
				assert.ErrorIs(t, err, docstore.ErrInvalidPath)
			case <-time.After(2 * time.Second):
				t.Fatal("onError was not called")
			}
		})
		t.Run("add "+col, func(t *testing.T) {
			t.Parallel()
			_, err := unconnected().Add(context.Background(), col, docstore.Data{"text": "hi"})
			assert.ErrorIs(t, err, docstore.ErrInvalidPath)
		})
	}

	docs := []string{"posts", "posts/a/b", "posts//likes/u1"}
	for _, path := range docs {
		t.Run("doc "+path, func(t *testing.T) {
			t.Parallel()
			s := unconnected()
			_, err := s.Get(context.Background(), path)
			assert.ErrorIs(t, err, docstore.ErrInvalidPath)
			assert.ErrorIs(t, s.Set(context.Background(), path, docstore.Data{}), docstore.ErrInvalidPath)
			_, err = s.GetAll(context.Background(), []string{path})
			assert.ErrorIs(t, err, docstore.ErrInvalidPath)

			errs := make(chan error, 1)
			stop := s.Watch(context.Background(), path,
				func(docstore.Snapshot) { t.Error("no snapshot expected") },
				func(err error) { errs <- err },
			)
			defer stop()
			select {
			case err := <-errs:
				require.ErrorIs(t, err, docstore.ErrInvalidPath)
			case <-time.After(2 * time.Second):
				t.Fatal("onError was not called")
			}
		})
	}
}

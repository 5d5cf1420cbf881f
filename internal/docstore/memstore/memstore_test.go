package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepto/internal/docstore"
)

func TestSetMergeAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Set(ctx, "users/u1", docstore.Data{"firstName": "Ada", "bio": "hi"}))
	require.NoError(t, s.Set(ctx, "users/u1", docstore.Data{"bio": "updated"}, docstore.Merge()))

	snap, err := s.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, "u1", snap.ID)
	assert.Equal(t, "Ada", snap.Data.String("firstName"))
	assert.Equal(t, "updated", snap.Data.String("bio"))

	require.NoError(t, s.Set(ctx, "users/u1", docstore.Data{"bio": "replaced"}))
	snap, err = s.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.Empty(t, snap.Data.String("firstName"))

	missing, err := s.Get(ctx, "users/nobody")
	require.NoError(t, err)
	assert.False(t, missing.Exists)

	_, err = s.Get(ctx, "users")
	assert.ErrorIs(t, err, docstore.ErrInvalidPath)
}

func TestServerTimestampIsStrictlyIncreasing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))

	a, err := s.Add(ctx, "posts", docstore.Data{"createdAt": docstore.ServerTimestamp})
	require.NoError(t, err)
	b, err := s.Add(ctx, "posts", docstore.Data{"createdAt": docstore.ServerTimestamp})
	require.NoError(t, err)

	snaps, err := s.GetAll(ctx, []string{"posts/" + a, "posts/" + b})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, snaps[1].Data.Time("createdAt").After(snaps[0].Data.Time("createdAt")))
}

func TestRunTransactionRetriesOnConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, "posts/p1", docstore.Data{"likesCount": 0}))

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
					snap, err := tx.Get("posts/p1")
					if err != nil {
						return err
					}
					return tx.Update("posts/p1", docstore.Data{"likesCount": snap.Data.Int("likesCount") + 1})
				})
				if errors.Is(err, docstore.ErrConflict) {
					continue
				}
				errs <- err
				return
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := s.Get(ctx, "posts/p1")
	require.NoError(t, err)
	assert.Equal(t, int64(writers), snap.Data.Int("likesCount"))
}

func TestCommitHookAbortsWholeTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("backend unavailable")
	fail := false
	s := New(WithCommitHook(func(paths []string) error {
		if fail {
			return boom
		}
		return nil
	}))
	require.NoError(t, s.Set(ctx, "posts/p1", docstore.Data{"commentsCount": 0}))
	fail = true

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := tx.Set("posts/p1/comments/c1", docstore.Data{"text": "hi"}); err != nil {
			return err
		}
		return tx.Update("posts/p1", docstore.Data{"commentsCount": 1})
	})
	require.ErrorIs(t, err, boom)

	comment, err := s.Get(ctx, "posts/p1/comments/c1")
	require.NoError(t, err)
	assert.False(t, comment.Exists)
	post, err := s.Get(ctx, "posts/p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), post.Data.Int("commentsCount"))
}

func TestUpdateMissingDocumentFails(t *testing.T) {
	t.Parallel()
	s := New()
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.Update("posts/ghost", docstore.Data{"likesCount": 1})
	})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestWatchQueryDeliversOrderedSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	updates := make(chan []docstore.Snapshot, 16)
	stop := s.WatchQuery(ctx, docstore.Query{
		Collection: "chats",
		Filters:    []docstore.Filter{{Field: "participants", Op: docstore.OpArrayContains, Value: "a"}},
		OrderBy:    "lastMessageAt",
		Desc:       true,
	}, func(docs []docstore.Snapshot) { updates <- docs }, func(err error) { t.Errorf("unexpected error: %v", err) })
	defer stop()

	first := <-updates
	assert.Empty(t, first)

	require.NoError(t, s.Set(ctx, "chats/a_b", docstore.Data{"participants": []string{"a", "b"}, "lastMessageAt": docstore.ServerTimestamp}))
	require.NoError(t, s.Set(ctx, "chats/b_c", docstore.Data{"participants": []string{"b", "c"}, "lastMessageAt": docstore.ServerTimestamp}))
	require.NoError(t, s.Set(ctx, "chats/a_c", docstore.Data{"participants": []string{"a", "c"}, "lastMessageAt": docstore.ServerTimestamp}))

	require.Eventually(t, func() bool {
		for {
			select {
			case docs := <-updates:
				if len(docs) == 2 {
					return docs[0].ID == "a_c" && docs[1].ID == "a_b"
				}
			default:
				return false
			}
		}
	}, time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotentAndReleasesListener(t *testing.T) {
	t.Parallel()
	s := New()
	stop := s.Watch(context.Background(), "users/u1", func(docstore.Snapshot) {}, func(error) {})
	assert.Equal(t, 1, s.Listeners())

	stop()
	stop()
	assert.Eventually(t, func() bool { return s.Listeners() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWatchFaultReportsError(t *testing.T) {
	t.Parallel()
	denied := errors.New("permission denied")
	s := New(WithWatchFault(func(key string) error {
		if key == "users/u1" {
			return denied
		}
		return nil
	}))

	errs := make(chan error, 1)
	stop := s.Watch(context.Background(), "users/u1", func(docstore.Snapshot) {}, func(err error) { errs <- err })
	defer stop()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, denied)
	case <-time.After(time.Second):
		t.Fatal("expected watch error")
	}
}

func TestInvalidCollectionReportsError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	for _, col := range []string{"posts/a/b/comments", "posts/p1", "", "chats//messages"} {
		_, err := s.Add(ctx, col, docstore.Data{"text": "hi"})
		assert.ErrorIs(t, err, docstore.ErrInvalidPath, col)

		errs := make(chan error, 1)
		stop := s.WatchQuery(ctx, docstore.Query{Collection: col}, func([]docstore.Snapshot) {
			t.Error("no snapshot expected")
		}, func(err error) { errs <- err })
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, docstore.ErrInvalidPath, col)
		case <-time.After(time.Second):
			t.Fatalf("no error for %q", col)
		}
		stop()
	}
	assert.Zero(t, s.Listeners())
}

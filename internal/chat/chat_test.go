package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepto/internal/docstore"
	"keepto/internal/docstore/memstore"
	"keepto/internal/models"
	"keepto/internal/subscription"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	ada   = models.Profile{UID: "ada", DisplayName: "Ada Lovelace"}
	grace = models.Profile{UID: "grace", DisplayName: "Grace Hopper"}
	alan  = models.Profile{UID: "alan", DisplayName: "Alan Turing"}
)

func TestKeyIsSymmetric(t *testing.T) {
	t.Parallel()
	tests := []struct{ x, y string }{
		{"ada", "grace"},
		{"u2", "u10"},
		{"same", "same"},
		{"", "z"},
	}
	for _, tt := range tests {
		t.Run(tt.x+"|"+tt.y, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, Key(tt.x, tt.y), Key(tt.y, tt.x))
		})
	}
	assert.Equal(t, "ada_grace", Key("grace", "ada"))
}

func TestSendWritesMessageAndSummaryTogether(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	svc := NewService(store, nil)

	msg, err := svc.Send(ctx, ada, grace, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "ada_grace", msg.ChatID)

	snap, err := store.Get(ctx, models.ChatPath("ada_grace"))
	require.NoError(t, err)
	chat := models.ChatFromSnapshot(snap)
	assert.Equal(t, []string{"ada", "grace"}, chat.Participants)
	assert.Equal(t, "hello", chat.LastMessage)
	assert.Equal(t, "ada", chat.LastSenderID)
	assert.Equal(t, "Grace Hopper", chat.ParticipantData["grace"].DisplayName)
	created := chat.CreatedAt
	assert.False(t, created.IsZero())

	_, err = svc.Send(ctx, grace, ada, "hi back")
	require.NoError(t, err)
	snap, err = store.Get(ctx, models.ChatPath("ada_grace"))
	require.NoError(t, err)
	chat = models.ChatFromSnapshot(snap)
	assert.Equal(t, "hi back", chat.LastMessage)
	assert.Equal(t, created, chat.CreatedAt, "createdAt is written once")
	assert.True(t, chat.LastMessageAt.After(created))

	msgs := store.Query(docstore.Query{Collection: models.MessagesCollection("ada_grace")})
	assert.Len(t, msgs, 2)
}

func TestSendFailureWritesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New(memstore.WithCommitHook(func(paths []string) error {
		for _, p := range paths {
			if strings.HasPrefix(p, models.ChatsCollection+"/") && !strings.Contains(p, "/messages/") {
				return errors.New("summary write rejected")
			}
		}
		return nil
	}))
	svc := NewService(store, nil)

	_, err := svc.Send(ctx, ada, grace, "hello")
	assert.True(t, models.IsCode(err, models.CodeInternal))
	assert.Empty(t, store.Query(docstore.Query{Collection: models.MessagesCollection(Key("ada", "grace"))}))
}

func TestSendValidation(t *testing.T) {
	t.Parallel()
	svc := NewService(memstore.New(), nil)
	tests := []struct {
		name     string
		from, to models.Profile
		text     string
	}{
		{"blank", ada, grace, "  "},
		{"self", ada, ada, "hi"},
		{"no recipient", ada, models.Profile{}, "hi"},
		{"separator in uid", models.Profile{UID: "a_b"}, models.Profile{UID: "c"}, "hi"},
		{"slash in uid", ada, models.Profile{UID: "a/b"}, "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Send(context.Background(), tt.from, tt.to, tt.text)
			assert.True(t, models.IsCode(err, models.CodeValidation))
		})
	}
}

func TestListViewShowsOtherParticipantMostRecentFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	subs := subscription.NewManager(store, nil)
	svc := NewService(store, nil)

	_, err := svc.Send(ctx, ada, grace, "one")
	require.NoError(t, err)
	_, err = svc.Send(ctx, alan, ada, "two")
	require.NoError(t, err)
	_, err = svc.Send(ctx, grace, alan, "not mine")
	require.NoError(t, err)

	v := NewListView(ctx, subs, nil, "ada", nil)
	defer v.Close()

	peers := func() []string {
		rows := v.Rows()
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = r.Peer.DisplayName
		}
		return out
	}
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"Alan Turing", "Grace Hopper"}, peers()) }, waitFor, tick)

	_, err = svc.Send(ctx, grace, ada, "three")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"Grace Hopper", "Alan Turing"}, peers()) }, waitFor, tick)
	assert.Equal(t, "grace", v.Rows()[0].PeerID)
}

func TestConversationSwitchesPeer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	subs := subscription.NewManager(store, nil)
	svc := NewService(store, nil)

	for _, text := range []string{"g1", "g2"} {
		_, err := svc.Send(ctx, grace, ada, text)
		require.NoError(t, err)
	}
	_, err := svc.Send(ctx, alan, ada, "a1")
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[string]int{}
	conv := NewConversation(ctx, subs, nil, "ada", func(peer string, _ []models.Message) {
		mu.Lock()
		seen[peer]++
		mu.Unlock()
	})
	defer conv.Close()

	texts := func() []string {
		msgs := conv.Messages()
		out := make([]string, len(msgs))
		for i, m := range msgs {
			out[i] = m.Text
		}
		return out
	}

	require.NoError(t, conv.Open("grace"))
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"g2", "g1"}, texts()) }, waitFor, tick)

	require.NoError(t, conv.Open("alan"))
	assert.Equal(t, 1, subs.Active(), "old peer closed before the new one opened")
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"a1"}, texts()) }, waitFor, tick)
	assert.Equal(t, "alan", conv.Peer())

	mu.Lock()
	graceDeliveries := seen["grace"]
	mu.Unlock()
	_, err = svc.Send(ctx, grace, ada, "g3")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, graceDeliveries, seen["grace"], "closed conversation gets no deliveries")
	mu.Unlock()

	conv.Close()
	assert.Zero(t, subs.Active())
}

func TestKeyParticipantsAreUnambiguous(t *testing.T) {
	t.Parallel()
	// Both pairs would join to a_b_c.
	assert.Equal(t, Key("a_b", "c"), Key("a", "b_c"))
	assert.False(t, ValidParticipant("a_b"))
	assert.False(t, ValidParticipant("b_c"))
	assert.False(t, ValidParticipant("a/b"))
	assert.False(t, ValidParticipant(""))
	assert.True(t, ValidParticipant("ada"))
}

func TestConversationRejectsInvalidPeer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	subs := subscription.NewManager(store, nil)
	conv := NewConversation(ctx, subs, nil, "ada", nil)
	defer conv.Close()

	for _, peer := range []string{"", "ada", "a/b", "x_y"} {
		err := conv.Open(peer)
		assert.True(t, models.IsCode(err, models.CodeValidation), "peer %q", peer)
	}
	assert.Zero(t, subs.Active())
	assert.Empty(t, conv.Peer())

	require.NoError(t, conv.Open("grace"))
	assert.Error(t, conv.Open("ada"))
	assert.Equal(t, "grace", conv.Peer(), "a rejected peer keeps the open conversation")
	assert.Equal(t, 1, subs.Active())
}

package chat

import (
	"context"
	"log/slog"
	"sync"

	"keepto/internal/docstore"
	"keepto/internal/models"
	"keepto/internal/observability"
	"keepto/internal/subscription"
)

// Row is one entry of a user's chat list.
type Row struct {
	models.Chat
	PeerID string             `json:"peer_id"`
	Peer   models.Participant `json:"peer"`
}

// ListView follows every chat a user takes part in, most recent first.
type ListView struct {
	uid    string
	handle *subscription.Handle

	mu   sync.Mutex
	rows []Row
}

// NewListView subscribes to uid's chats. onChange must not block.
func NewListView(ctx context.Context, subs *subscription.Manager, logger *slog.Logger, uid string, onChange func([]Row)) *ListView {
	logger = observability.Component(logger, "chat_list")
	v := &ListView{uid: uid}
	v.handle = subs.Query(ctx, docstore.Query{
		Collection: models.ChatsCollection,
		Filters:    []docstore.Filter{{Field: "participants", Op: docstore.OpArrayContains, Value: uid}},
		OrderBy:    "lastMessageAt",
		Desc:       true,
	}, func(docs []docstore.Snapshot) {
		rows := make([]Row, len(docs))
		for i, d := range docs {
			c := models.ChatFromSnapshot(d)
			peerID, peer := c.Other(uid)
			rows[i] = Row{Chat: c, PeerID: peerID, Peer: peer}
		}
		v.mu.Lock()
		v.rows = rows
		v.mu.Unlock()
		if onChange != nil {
			onChange(rows)
		}
	}, func(err error) {
		logger.WarnContext(ctx, "chat list query failed, showing no chats",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		v.mu.Lock()
		v.rows = nil
		v.mu.Unlock()
		if onChange != nil {
			onChange(nil)
		}
	})
	return v
}

// Rows returns the current list.
func (v *ListView) Rows() []Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Row(nil), v.rows...)
}

// Close releases the subscription.
func (v *ListView) Close() {
	v.handle.Close()
}

// Conversation is the open message thread of one user with a chosen peer.
type Conversation struct {
	ctx      context.Context
	subs     *subscription.Manager
	logger   *slog.Logger
	uid      string
	onChange func(peer string, msgs []models.Message)

	sub subscription.Keyed

	mu       sync.Mutex
	gen      uint64
	peer     string
	messages []models.Message
}

// NewConversation creates an idle conversation for uid. onChange must not block.
func NewConversation(ctx context.Context, subs *subscription.Manager, logger *slog.Logger, uid string, onChange func(peer string, msgs []models.Message)) *Conversation {
	if onChange == nil {
		onChange = func(string, []models.Message) {}
	}
	return &Conversation{
		ctx:      ctx,
		subs:     subs,
		logger:   observability.Component(logger, "conversation"),
		uid:      uid,
		onChange: onChange,
	}
}

// Open switches to the conversation with peer, newest message first. The
// previous peer's subscription is closed before the new one opens. An
// invalid peer leaves the open conversation as it is.
func (c *Conversation) Open(peer string) error {
	if err := checkPair(c.uid, peer); err != nil {
		return err
	}
	key := Key(c.uid, peer)
	c.sub.Switch(key, func() *subscription.Handle {
		c.mu.Lock()
		c.gen++
		gen := c.gen
		c.peer = peer
		c.messages = nil
		c.mu.Unlock()

		return c.subs.Query(c.ctx, docstore.Query{
			Collection: models.MessagesCollection(key),
			OrderBy:    "createdAt",
			Desc:       true,
		}, func(docs []docstore.Snapshot) {
			msgs := make([]models.Message, len(docs))
			for i, d := range docs {
				msgs[i] = models.MessageFromSnapshot(key, d)
			}
			c.deliver(gen, peer, msgs)
		}, func(err error) {
			c.logger.WarnContext(c.ctx, "message query failed, showing no messages",
				slog.String("chat_id", key),
				slog.String("error", err.Error()),
			)
			c.deliver(gen, peer, nil)
		})
	})
	return nil
}

func (c *Conversation) deliver(gen uint64, peer string, msgs []models.Message) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.messages = msgs
	c.mu.Unlock()
	c.onChange(peer, msgs)
}

// Peer returns the uid of the open conversation's other participant.
func (c *Conversation) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Messages returns the open conversation, newest first.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

// Close releases the subscription.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.gen++
	c.peer = ""
	c.mu.Unlock()
	c.sub.Close()
}

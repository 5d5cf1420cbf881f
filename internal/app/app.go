// Package app wires the per-client object graph. Every connected client gets
// its own Client holding an auth session, a subscription manager and the
// view-models built on them; shared, stateless services live in Services.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"keepto/internal/auth"
	"keepto/internal/chat"
	"keepto/internal/docstore"
	"keepto/internal/feed"
	"keepto/internal/interaction"
	"keepto/internal/models"
	"keepto/internal/observability"
	"keepto/internal/session"
	"keepto/internal/subscription"
	"keepto/internal/upload"
)

// Services are shared by every client of the process.
type Services struct {
	Store     docstore.Store
	Directory auth.Directory
	Uploader  upload.Uploader
	Engine    *interaction.Engine
	Chat      *chat.Service
	Logger    *slog.Logger
	FeedLimit int
}

// NewServices builds the shared services over store.
func NewServices(store docstore.Store, dir auth.Directory, uploader upload.Uploader, logger *slog.Logger) *Services {
	if uploader == nil {
		uploader = upload.Disabled{}
	}
	return &Services{
		Store:     store,
		Directory: dir,
		Uploader:  uploader,
		Engine:    interaction.NewEngine(store, uploader, logger),
		Chat:      chat.NewService(store, logger),
		Logger:    logger,
	}
}

// Event is pushed to a live client whenever one of its views changes.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	EventSession      = "session"
	EventFeed         = "feed"
	EventThread       = "thread"
	EventChats        = "chats"
	EventConversation = "conversation"
)

// ConversationView is the payload of EventConversation.
type ConversationView struct {
	Peer     string           `json:"peer"`
	Messages []models.Message `json:"messages"`
}

// Client is one connected app instance.
type Client struct {
	svc    *Services
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	emit   func(Event)

	Auth    *auth.Client
	Subs    *subscription.Manager
	Session *session.Session

	stopSession func()

	mu      sync.Mutex
	started bool
	uid     string
	feed    *feed.ViewModel
	chats   *chat.ListView
	conv    *chat.Conversation
	thread  *feed.CommentThread
	closed  bool
}

// NewClient creates a client. With a nil emit the client only runs
// commands; with emit set it also keeps live views and pushes their changes.
// emit must not block.
func (s *Services) NewClient(ctx context.Context, emit func(Event)) *Client {
	ctx, cancel := context.WithCancel(ctx)
	authClient := auth.NewClient(s.Directory)
	subs := subscription.NewManager(s.Store, s.Logger)
	c := &Client{
		svc:    s,
		ctx:    ctx,
		cancel: cancel,
		logger: observability.Component(s.Logger, "client"),
		emit:   emit,
		Auth:   authClient,
		Subs:   subs,
	}
	c.Session = session.New(ctx, session.Deps{
		Auth:     authClient,
		Store:    s.Store,
		Subs:     subs,
		Uploader: s.Uploader,
		Logger:   s.Logger,
	})
	if emit != nil {
		c.stopSession = c.Session.Subscribe(c.onSession)
	}
	return c
}

func (c *Client) onSession(st session.State) {
	c.emit(Event{Type: EventSession, Data: st})
	if st.Loading {
		return
	}
	uid := ""
	if st.User != nil {
		uid = st.User.UID
	}

	c.mu.Lock()
	if c.closed || (c.started && uid == c.uid) {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.uid = uid
	old := c.takeViewsLocked()
	c.mu.Unlock()

	for _, v := range old {
		v.Close()
	}
	c.buildViews(uid)
}

// takeViewsLocked detaches every open view. c.mu must be held.
func (c *Client) takeViewsLocked() []interface{ Close() } {
	var views []interface{ Close() }
	if c.feed != nil {
		views = append(views, c.feed)
	}
	if c.chats != nil {
		views = append(views, c.chats)
	}
	if c.conv != nil {
		views = append(views, c.conv)
	}
	if c.thread != nil {
		views = append(views, c.thread)
	}
	c.feed, c.chats, c.conv, c.thread = nil, nil, nil, nil
	return views
}

// buildViews opens the views of uid; signed-out clients only get the feed.
func (c *Client) buildViews(uid string) {
	deps := feed.Deps{Subs: c.Subs, Store: c.svc.Store, Logger: c.svc.Logger, Viewer: uid, Limit: c.svc.FeedLimit}
	vm := feed.New(c.ctx, deps, func(items []feed.Item) {
		c.emit(Event{Type: EventFeed, Data: items})
	})

	var list *chat.ListView
	var conv *chat.Conversation
	if uid != "" {
		list = chat.NewListView(c.ctx, c.Subs, c.svc.Logger, uid, func(rows []chat.Row) {
			c.emit(Event{Type: EventChats, Data: rows})
		})
		conv = chat.NewConversation(c.ctx, c.Subs, c.svc.Logger, uid, func(peer string, msgs []models.Message) {
			c.emit(Event{Type: EventConversation, Data: ConversationView{Peer: peer, Messages: msgs}})
		})
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		vm.Close()
		if list != nil {
			list.Close()
			conv.Close()
		}
		return
	}
	c.feed, c.chats, c.conv = vm, list, conv
	c.mu.Unlock()

	vm.Show("")
}

// Resume restores the session of an already authenticated uid.
func (c *Client) Resume(ctx context.Context, uid string) error {
	if _, err := c.Auth.Resume(ctx, uid); err != nil {
		return session.AsAppError(err)
	}
	return nil
}

// UID returns the signed-in uid or "".
func (c *Client) UID() string {
	return c.Session.UID()
}

// Feed returns the live feed, or nil for a command-only client.
func (c *Client) Feed() *feed.ViewModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feed
}

// viewer returns the signed-in profile, reading it once when the live
// subscription has not delivered yet.
func (c *Client) viewer(ctx context.Context) (models.Profile, error) {
	p, err := c.Session.Viewer()
	if err != nil {
		return models.Profile{}, err
	}
	if c.Session.Profile() != nil {
		return p, nil
	}
	snap, err := c.svc.Store.Get(ctx, models.ProfilePath(p.UID))
	if err == nil && snap.Exists {
		return models.ProfileFromSnapshot(snap), nil
	}
	return p, nil
}

// checkID rejects ids that cannot name a single document.
func checkID(field, id string) error {
	if id == "" {
		return models.NewValidationError(field + " is required")
	}
	if !docstore.ValidID(id) {
		return models.NewValidationError(field + " is invalid")
	}
	return nil
}

func (c *Client) requireUID() (string, error) {
	uid := c.UID()
	if uid == "" {
		return "", session.AsAppError(auth.ErrNotSignedIn)
	}
	return uid, nil
}

// CreatePost publishes a post as the signed-in user.
func (c *Client) CreatePost(ctx context.Context, in interaction.PostInput) (models.Post, error) {
	author, err := c.viewer(ctx)
	if err != nil {
		return models.Post{}, err
	}
	return c.svc.Engine.CreatePost(ctx, author, in)
}

// ToggleLike flips the signed-in user's like on postID, mirrored in the
// live feed when there is one.
func (c *Client) ToggleLike(ctx context.Context, postID string) (bool, error) {
	if err := checkID("post_id", postID); err != nil {
		return false, err
	}
	uid, err := c.requireUID()
	if err != nil {
		return false, err
	}
	var mirror interaction.LikeMirror
	if vm := c.Feed(); vm != nil {
		mirror = vm
	}
	return c.svc.Engine.ToggleLike(ctx, mirror, postID, uid)
}

// AddComment comments on postID as the signed-in user.
func (c *Client) AddComment(ctx context.Context, postID, text string) (models.Comment, error) {
	if err := checkID("post_id", postID); err != nil {
		return models.Comment{}, err
	}
	author, err := c.viewer(ctx)
	if err != nil {
		return models.Comment{}, err
	}
	return c.svc.Engine.AddComment(ctx, postID, author, text)
}

// SendMessage sends text to peer.
func (c *Client) SendMessage(ctx context.Context, peer, text string) (models.Message, error) {
	if err := checkID("user_id", peer); err != nil {
		return models.Message{}, err
	}
	from, err := c.viewer(ctx)
	if err != nil {
		return models.Message{}, err
	}
	snap, err := c.svc.Store.Get(ctx, models.ProfilePath(peer))
	if err != nil {
		return models.Message{}, models.NewInternalError(fmt.Errorf("load recipient: %w", err))
	}
	if !snap.Exists {
		return models.Message{}, models.NewNotFoundError("User", peer)
	}
	return c.svc.Chat.Send(ctx, from, models.ProfileFromSnapshot(snap), text)
}

// ShowProfile points the feed at one author, or back at every post when
// uid is empty.
func (c *Client) ShowProfile(uid string) error {
	if uid != "" {
		if err := checkID("user_id", uid); err != nil {
			return err
		}
	}
	if vm := c.Feed(); vm != nil {
		vm.Show(uid)
	}
	return nil
}

// RefreshLikes re-checks the viewer's like-state on the loaded posts.
func (c *Client) RefreshLikes() {
	if vm := c.Feed(); vm != nil {
		vm.RefreshLikes()
	}
}

// OpenThread shows postID with its comments, replacing any open thread.
func (c *Client) OpenThread(postID string) error {
	if err := checkID("post_id", postID); err != nil {
		return err
	}
	c.CloseThread()

	var liked func(string) bool
	if vm := c.Feed(); vm != nil {
		liked = vm.Liked
	}
	deps := feed.Deps{Subs: c.Subs, Store: c.svc.Store, Logger: c.svc.Logger, Viewer: c.UID()}
	t := feed.NewCommentThread(c.ctx, deps, postID, liked, func(th feed.Thread) {
		if c.emit != nil {
			c.emit(Event{Type: EventThread, Data: th})
		}
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Close()
		return nil
	}
	c.thread = t
	c.mu.Unlock()
	return nil
}

// CloseThread closes the open comment thread, if any.
func (c *Client) CloseThread() {
	c.mu.Lock()
	t := c.thread
	c.thread = nil
	c.mu.Unlock()
	if t != nil {
		t.Close()
	}
}

// OpenChat switches the open conversation to peer.
func (c *Client) OpenChat(peer string) error {
	if err := checkID("user_id", peer); err != nil {
		return err
	}
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return session.AsAppError(auth.ErrNotSignedIn)
	}
	return conv.Open(peer)
}

// Close releases every subscription and ends the session follow.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	views := c.takeViewsLocked()
	c.mu.Unlock()

	if c.stopSession != nil {
		c.stopSession()
	}
	for _, v := range views {
		v.Close()
	}
	c.Session.Close()
	c.Subs.Close()
	c.cancel()
}

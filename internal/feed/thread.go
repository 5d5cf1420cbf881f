package feed

import (
	"context"
	"log/slog"
	"sync"

	"keepto/internal/docstore"
	"keepto/internal/models"
	"keepto/internal/observability"
	"keepto/internal/subscription"
)

// Thread is a post with its comments, newest first.
type Thread struct {
	Post     *Item            `json:"post"`
	Comments []models.Comment `json:"comments"`
}

// CommentThread follows one post document and its comments. Comment authors
// are resolved through live profile subscriptions like the feed's.
type CommentThread struct {
	ctx      context.Context
	postID   string
	logger   *slog.Logger
	onChange func(Thread)

	postSub    *subscription.Handle
	commentSub *subscription.Handle
	authors    *authors

	mu       sync.Mutex
	post     *models.Post
	comments []models.Comment
	liked    func(string) bool

	reconcileMu sync.Mutex
	notifyMu    sync.Mutex
}

// NewCommentThread subscribes to postID. liked, when set, supplies the
// viewer's like-state from the feed it was opened from.
func NewCommentThread(ctx context.Context, d Deps, postID string, liked func(string) bool, onChange func(Thread)) *CommentThread {
	if onChange == nil {
		onChange = func(Thread) {}
	}
	t := &CommentThread{
		ctx:      ctx,
		postID:   postID,
		logger:   observability.Component(d.Logger, "comment_thread"),
		onChange: onChange,
		liked:    liked,
	}
	t.authors = newAuthors(ctx, d.Subs, t.notify)

	t.postSub = d.Subs.Document(ctx, models.PostPath(postID), t.onPost, func(error) {
		t.onPost(docstore.Snapshot{})
	})
	t.commentSub = d.Subs.Query(ctx, docstore.Query{
		Collection: models.CommentsCollection(postID),
		OrderBy:    "createdAt",
		Desc:       true,
	}, t.onComments, t.onCommentsError)
	return t
}

func (t *CommentThread) onPost(snap docstore.Snapshot) {
	t.mu.Lock()
	if snap.Exists {
		p := models.PostFromSnapshot(snap)
		t.post = &p
	} else {
		t.post = nil
	}
	t.mu.Unlock()
	t.reconcileAuthors()
	t.notify()
}

func (t *CommentThread) onComments(docs []docstore.Snapshot) {
	comments := make([]models.Comment, len(docs))
	for i, d := range docs {
		comments[i] = models.CommentFromSnapshot(t.postID, d)
	}
	t.mu.Lock()
	t.comments = comments
	t.mu.Unlock()
	t.reconcileAuthors()
	t.notify()
}

func (t *CommentThread) onCommentsError(err error) {
	t.logger.WarnContext(t.ctx, "comment query failed, showing no comments",
		slog.String("post_id", t.postID),
		slog.String("error", err.Error()),
	)
	t.mu.Lock()
	t.comments = nil
	t.mu.Unlock()
	t.reconcileAuthors()
	t.notify()
}

// reconcileAuthors is called from both the post and the comment streams.
func (t *CommentThread) reconcileAuthors() {
	t.reconcileMu.Lock()
	defer t.reconcileMu.Unlock()

	t.mu.Lock()
	uids := make([]string, 0, len(t.comments)+1)
	if t.post != nil {
		uids = append(uids, t.post.UserID)
	}
	for _, c := range t.comments {
		uids = append(uids, c.UserID)
	}
	t.mu.Unlock()
	t.authors.reconcile(distinct(uids))
}

// View returns the current thread.
func (t *CommentThread) View() Thread {
	t.mu.Lock()
	defer t.mu.Unlock()

	var view Thread
	if t.post != nil {
		p := *t.post
		p.AuthorName, p.AuthorPhoto = t.authors.resolve(p.UserID, p.AuthorName, p.AuthorPhoto)
		item := Item{Post: p}
		if t.liked != nil {
			item.Liked = t.liked(p.ID)
		}
		view.Post = &item
	}
	view.Comments = make([]models.Comment, len(t.comments))
	for i, c := range t.comments {
		c.AuthorName, c.AuthorPhoto = t.authors.resolve(c.UserID, c.AuthorName, c.AuthorPhoto)
		view.Comments[i] = c
	}
	return view
}

func (t *CommentThread) notify() {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	t.onChange(t.View())
}

// Close releases the thread's subscriptions.
func (t *CommentThread) Close() {
	t.postSub.Close()
	t.commentSub.Close()
	t.authors.close()
}

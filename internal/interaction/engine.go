// Package interaction performs the writes behind user actions. Every counter
// on a post is changed in the same transaction as the set it counts.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"keepto/internal/docstore"
	"keepto/internal/models"
	"keepto/internal/observability"
	"keepto/internal/upload"
)

const (
	OpToggleLike = "toggle_like"
	OpAddComment = "add_comment"
	OpCreatePost = "create_post"
)

// LikeMirror is the local like-state a view renders from. The engine flips
// it before the transaction runs and settles it afterwards.
type LikeMirror interface {
	Liked(postID string) bool
	SetLiked(postID string, liked bool)
}

// Engine runs interaction transactions against a store.
type Engine struct {
	store    docstore.Store
	uploader upload.Uploader
	logger   *slog.Logger
}

// NewEngine creates an engine. A nil uploader disables image posts.
func NewEngine(store docstore.Store, uploader upload.Uploader, logger *slog.Logger) *Engine {
	if uploader == nil {
		uploader = upload.Disabled{}
	}
	return &Engine{
		store:    store,
		uploader: uploader,
		logger:   observability.Component(logger, "interaction"),
	}
}

// ToggleLike likes postID as uid if it is not liked yet, and unlikes it
// otherwise. It returns the committed state. mirror may be nil; when set it
// is flipped immediately, restored if the transaction fails and set to the
// committed state when it succeeds.
func (e *Engine) ToggleLike(ctx context.Context, mirror LikeMirror, postID, uid string) (bool, error) {
	if postID == "" || uid == "" {
		return false, models.NewValidationError("post and user are required")
	}

	var previous bool
	if mirror != nil {
		previous = mirror.Liked(postID)
		mirror.SetLiked(postID, !previous)
	}

	var liked bool
	err := e.run(ctx, OpToggleLike, postID, func(ctx context.Context) error {
		return e.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			post, err := tx.Get(models.PostPath(postID))
			if err != nil {
				return err
			}
			if !post.Exists {
				return docstore.ErrNotFound
			}
			likePath := models.LikePath(postID, uid)
			like, err := tx.Get(likePath)
			if err != nil {
				return err
			}

			if like.Exists {
				liked = false
				if err := tx.Delete(likePath); err != nil {
					return err
				}
				return tx.Update(models.PostPath(postID), docstore.Data{"likesCount": adjust(post, "likesCount", -1)})
			}
			liked = true
			if err := tx.Set(likePath, models.Like{UserID: uid}.Data()); err != nil {
				return err
			}
			return tx.Update(models.PostPath(postID), docstore.Data{"likesCount": adjust(post, "likesCount", 1)})
		})
	})

	if mirror != nil {
		if err != nil {
			mirror.SetLiked(postID, previous)
		} else {
			mirror.SetLiked(postID, liked)
		}
	}
	if err != nil {
		return previous, mapError(err, postID)
	}
	return liked, nil
}

// AddComment stores a comment by author on postID and bumps the post's
// comment counter in the same transaction.
func (e *Engine) AddComment(ctx context.Context, postID string, author models.Profile, text string) (models.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Comment{}, models.NewValidationError("comment text is required")
	}
	if postID == "" || author.UID == "" {
		return models.Comment{}, models.NewValidationError("post and author are required")
	}

	name := strings.TrimSpace(author.DisplayName)
	if name == "" {
		name = models.UnknownAuthor
	}
	c := models.Comment{
		ID:          docstore.NewID(),
		PostID:      postID,
		UserID:      author.UID,
		AuthorName:  name,
		AuthorPhoto: author.Photo(),
		Text:        text,
	}

	err := e.run(ctx, OpAddComment, postID, func(ctx context.Context) error {
		return e.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			post, err := tx.Get(models.PostPath(postID))
			if err != nil {
				return err
			}
			if !post.Exists {
				return docstore.ErrNotFound
			}
			if err := tx.Set(docstore.Doc(models.CommentsCollection(postID), c.ID), c.Data()); err != nil {
				return err
			}
			return tx.Update(models.PostPath(postID), docstore.Data{"commentsCount": adjust(post, "commentsCount", 1)})
		})
	})
	if err != nil {
		return models.Comment{}, mapError(err, postID)
	}
	return c, nil
}

// PostInput is a new post. Image, when set, is uploaded first and takes
// precedence over ImageURL.
type PostInput struct {
	Content  string
	ImageURL string
	Image    *upload.Image
}

// CreatePost writes a new post by author. A post needs text or an image. When
// the upload fails nothing is written.
func (e *Engine) CreatePost(ctx context.Context, author models.Profile, in PostInput) (models.Post, error) {
	if author.UID == "" {
		return models.Post{}, models.NewValidationError("author is required")
	}
	content := strings.TrimSpace(in.Content)
	imageURL := strings.TrimSpace(in.ImageURL)
	if content == "" && imageURL == "" && in.Image == nil {
		return models.Post{}, models.NewValidationError("post needs text or an image")
	}

	name := strings.TrimSpace(author.DisplayName)
	if name == "" {
		name = models.AnonymousAuthor
	}
	p := models.Post{
		UserID:      author.UID,
		AuthorName:  name,
		AuthorPhoto: author.Photo(),
		Content:     content,
	}

	err := e.run(ctx, OpCreatePost, "", func(ctx context.Context) error {
		if in.Image != nil {
			url, err := e.uploader.Upload(ctx, *in.Image)
			if err != nil {
				return uploadError(err)
			}
			imageURL = url
		}
		if imageURL != "" {
			p.Image = &imageURL
		}
		id, err := e.store.Add(ctx, models.PostsCollection, p.Data())
		if err != nil {
			return err
		}
		p.ID = id
		return nil
	})
	if err != nil {
		return models.Post{}, mapError(err, "")
	}
	return p, nil
}

func (e *Engine) run(ctx context.Context, op, postID string, fn func(ctx context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "interaction."+op, "post_id", postID)
	start := time.Now()
	err := fn(ctx)
	observability.TransactionLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	observability.TransactionsTotal.WithLabelValues(op, observability.Outcome(err)).Inc()
	span.End(err)

	if err != nil {
		e.logger.WarnContext(ctx, "interaction failed",
			slog.String("operation", op),
			slog.String("post_id", postID),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// adjust returns field+delta, never below zero.
func adjust(snap docstore.Snapshot, field string, delta int64) int64 {
	n := snap.Data.Int(field) + delta
	if n < 0 {
		return 0
	}
	return n
}

func uploadError(err error) error {
	if errors.Is(err, upload.ErrInvalidImage) || errors.Is(err, upload.ErrTooLarge) {
		return models.NewValidationError(err.Error())
	}
	return models.NewUploadError(err)
}

func mapError(err error, postID string) error {
	var appErr *models.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, docstore.ErrNotFound):
		return models.NewNotFoundError("Post", postID)
	case errors.Is(err, docstore.ErrConflict):
		return models.NewConflictError("Too many concurrent updates, try again", err)
	}
	return models.NewInternalError(fmt.Errorf("interaction: %w", err))
}

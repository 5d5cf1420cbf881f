package models

import (
	"time"

	"keepto/internal/docstore"
)

const (
	PostsCollection = "posts"
	likesSub        = "likes"
	commentsSub     = "comments"

	// AnonymousAuthor is shown on posts whose author had no display name.
	AnonymousAuthor = "Anonymous"
	// UnknownAuthor is shown on comments whose author had no display name.
	UnknownAuthor = "Unknown"
)

// Post is a feed entry. AuthorName and AuthorPhoto are copied from the
// author's profile when the post is created and are not kept in sync.
type Post struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	AuthorName    string    `json:"author_name"`
	AuthorPhoto   string    `json:"author_photo,omitempty"`
	Content       string    `json:"content"`
	Image         *string   `json:"image"`
	LikesCount    int64     `json:"likes_count"`
	CommentsCount int64     `json:"comments_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// PostPath returns the document path of a post.
func PostPath(id string) string {
	return docstore.Doc(PostsCollection, id)
}

// LikesCollection returns the collection holding a post's likes, keyed by liker uid.
func LikesCollection(postID string) string {
	return docstore.Doc(PostsCollection, postID, likesSub)
}

// LikePath returns the like record of uid on postID.
func LikePath(postID, uid string) string {
	return docstore.Doc(PostsCollection, postID, likesSub, uid)
}

// CommentsCollection returns the collection holding a post's comments.
func CommentsCollection(postID string) string {
	return docstore.Doc(PostsCollection, postID, commentsSub)
}

// Data encodes a new post. Counters always start at zero.
func (p Post) Data() docstore.Data {
	d := docstore.Data{
		"userId":        p.UserID,
		"authorName":    p.AuthorName,
		"authorPhoto":   p.AuthorPhoto,
		"content":       p.Content,
		"image":         nil,
		"likesCount":    int64(0),
		"commentsCount": int64(0),
		"createdAt":     docstore.ServerTimestamp,
	}
	if p.Image != nil {
		d["image"] = *p.Image
	}
	return d
}

// PostFromSnapshot decodes a post document.
func PostFromSnapshot(s docstore.Snapshot) Post {
	return Post{
		ID:            s.ID,
		UserID:        s.Data.String("userId"),
		AuthorName:    s.Data.String("authorName"),
		AuthorPhoto:   s.Data.String("authorPhoto"),
		Content:       s.Data.String("content"),
		Image:         s.Data.StringPtr("image"),
		LikesCount:    s.Data.Int("likesCount"),
		CommentsCount: s.Data.Int("commentsCount"),
		CreatedAt:     s.Data.Time("createdAt"),
	}
}

// Like records that UserID likes a post. It exists at most once per pair.
type Like struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (l Like) Data() docstore.Data {
	return docstore.Data{
		"userId":    l.UserID,
		"createdAt": docstore.ServerTimestamp,
	}
}

// Comment is an append-only reply on a post.
type Comment struct {
	ID          string    `json:"id"`
	PostID      string    `json:"post_id"`
	UserID      string    `json:"user_id"`
	AuthorName  string    `json:"author_name"`
	AuthorPhoto string    `json:"author_photo,omitempty"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c Comment) Data() docstore.Data {
	return docstore.Data{
		"userId":      c.UserID,
		"authorName":  c.AuthorName,
		"authorPhoto": c.AuthorPhoto,
		"text":        c.Text,
		"createdAt":   docstore.ServerTimestamp,
	}
}

// CommentFromSnapshot decodes a comment document of postID.
func CommentFromSnapshot(postID string, s docstore.Snapshot) Comment {
	return Comment{
		ID:          s.ID,
		PostID:      postID,
		UserID:      s.Data.String("userId"),
		AuthorName:  s.Data.String("authorName"),
		AuthorPhoto: s.Data.String("authorPhoto"),
		Text:        s.Data.String("text"),
		CreatedAt:   s.Data.Time("createdAt"),
	}
}

package app

import (
	"context"
	"fmt"

	"keepto/internal/interaction"
	"keepto/internal/models"
)

// Command is a request sent by a live client over its view stream.
type Command struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	PostID   string `json:"post_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

const (
	CmdLike         = "like"
	CmdComment      = "comment"
	CmdPost         = "post"
	CmdMessage      = "message"
	CmdShowFeed     = "show_feed"
	CmdShowProfile  = "show_profile"
	CmdOpenThread   = "open_thread"
	CmdCloseThread  = "close_thread"
	CmdOpenChat     = "open_chat"
	CmdRefreshLikes = "refresh_likes"
)

// Dispatch runs cmd and returns its result.
func (c *Client) Dispatch(ctx context.Context, cmd Command) (any, error) {
	switch cmd.Type {
	case CmdLike:
		liked, err := c.ToggleLike(ctx, cmd.PostID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"post_id": cmd.PostID, "liked": liked}, nil
	case CmdComment:
		return c.AddComment(ctx, cmd.PostID, cmd.Text)
	case CmdPost:
		return c.CreatePost(ctx, interaction.PostInput{Content: cmd.Text, ImageURL: cmd.ImageURL})
	case CmdMessage:
		return c.SendMessage(ctx, cmd.UserID, cmd.Text)
	case CmdShowFeed:
		return nil, c.ShowProfile("")
	case CmdShowProfile:
		return nil, c.ShowProfile(cmd.UserID)
	case CmdOpenThread:
		return nil, c.OpenThread(cmd.PostID)
	case CmdCloseThread:
		c.CloseThread()
		return nil, nil
	case CmdOpenChat:
		return nil, c.OpenChat(cmd.UserID)
	case CmdRefreshLikes:
		c.RefreshLikes()
		return nil, nil
	}
	return nil, models.NewValidationError(fmt.Sprintf("unknown command %q", cmd.Type))
}

package seed

import (
	"context"
	"fmt"
	"log/slog"

	"keepto/internal/app"
	"keepto/internal/interaction"
	"keepto/internal/models"
	"keepto/internal/observability"
)

// Result counts what Apply wrote.
type Result struct {
	Users    int
	Posts    int
	Likes    int
	Comments int
	Messages int
	// UIDs maps each fixture email to its account.
	UIDs map[string]string
}

// Seeder applies fixtures through the app services.
type Seeder struct {
	svc    *app.Services
	logger *slog.Logger
}

// NewSeeder returns a seeder writing through svc.
func NewSeeder(svc *app.Services, logger *slog.Logger) *Seeder {
	return &Seeder{svc: svc, logger: observability.Component(logger, "seed")}
}

// Apply creates the fixture's users, then its posts with their likes and
// comments, then its messages. Users that already exist are signed in
// instead, so a fixture can be applied on top of earlier data.
func (s *Seeder) Apply(ctx context.Context, f Fixture) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}
	res := Result{UIDs: make(map[string]string, len(f.Users))}

	clients := make(map[string]*app.Client, len(f.Users))
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	for _, u := range f.Users {
		c, created, err := s.account(ctx, u)
		if err != nil {
			return res, fmt.Errorf("user %s: %w", u.Email, err)
		}
		clients[u.Email] = c
		res.UIDs[u.Email] = c.UID()
		if created {
			res.Users++
		}
	}

	for i, p := range f.Posts {
		post, err := clients[p.Author].CreatePost(ctx, interaction.PostInput{Content: p.Content, ImageURL: p.ImageURL})
		if err != nil {
			return res, fmt.Errorf("post %d: %w", i, err)
		}
		res.Posts++
		for _, who := range p.LikedBy {
			if _, err := clients[who].ToggleLike(ctx, post.ID); err != nil {
				return res, fmt.Errorf("post %d like by %s: %w", i, who, err)
			}
			res.Likes++
		}
		for _, cm := range p.Comments {
			if _, err := clients[cm.Author].AddComment(ctx, post.ID, cm.Text); err != nil {
				return res, fmt.Errorf("post %d comment by %s: %w", i, cm.Author, err)
			}
			res.Comments++
		}
	}

	for i, m := range f.Messages {
		if _, err := clients[m.From].SendMessage(ctx, res.UIDs[m.To], m.Text); err != nil {
			return res, fmt.Errorf("message %d: %w", i, err)
		}
		res.Messages++
	}

	s.logger.InfoContext(ctx, "seed applied",
		slog.Int("users", res.Users),
		slog.Int("posts", res.Posts),
		slog.Int("likes", res.Likes),
		slog.Int("comments", res.Comments),
		slog.Int("messages", res.Messages),
	)
	return res, nil
}

// account signs u up, or signs in when the email is taken.
func (s *Seeder) account(ctx context.Context, u User) (*app.Client, bool, error) {
	c := s.svc.NewClient(ctx, nil)
	_, err := c.Session.SignUp(ctx, u.Email, u.Password, models.Registration{
		FirstName: u.FirstName,
		LastName:  u.LastName,
		DOB:       u.DOB,
	})
	created := err == nil
	if models.IsCode(err, models.CodeConflict) {
		_, err = c.Session.SignIn(ctx, u.Email, u.Password)
	}
	if err != nil {
		c.Close()
		return nil, false, err
	}
	if created && u.Bio != "" {
		bio := u.Bio
		if err := c.Session.UpdateProfile(ctx, models.ProfileUpdate{Bio: &bio}); err != nil {
			c.Close()
			return nil, false, err
		}
	}
	return c, created, nil
}

// Package auth manages accounts and the signed-in session of one client.
//
// A Directory is the account backend (the local accounts collection or
// Firebase Authentication). A Client wraps a Directory with the state of a
// single app instance: who is signed in, and who wants to hear about it.
package auth

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrEmailInUse         = errors.New("auth: email already in use")
	ErrWeakPassword       = errors.New("auth: password should be at least 6 characters")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrNotSignedIn        = errors.New("auth: not signed in")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
)

// MinPasswordLength is the shortest password a directory accepts.
const MinPasswordLength = 6

// Identity is an authenticated account.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// DisplayFields is a partial update of the auth-level profile. A nil field
// is left alone; an empty PhotoURL removes the photo.
type DisplayFields struct {
	DisplayName *string
	PhotoURL    *string
}

// Empty reports whether no field is set.
func (f DisplayFields) Empty() bool {
	return f.DisplayName == nil && f.PhotoURL == nil
}

func (f DisplayFields) applyTo(id *Identity) {
	if f.DisplayName != nil {
		id.DisplayName = *f.DisplayName
	}
	if f.PhotoURL != nil {
		id.PhotoURL = *f.PhotoURL
	}
}

// Directory stores accounts.
type Directory interface {
	CreateAccount(ctx context.Context, email, password string) (Identity, error)
	VerifyPassword(ctx context.Context, email, password string) (Identity, error)
	UpdateDisplayFields(ctx context.Context, uid string, fields DisplayFields) error
	Lookup(ctx context.Context, uid string) (Identity, error)
}

// TokenVerifier turns a bearer token into a uid.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// Client is the session of one app instance.
type Client struct {
	dir Directory

	mu        sync.Mutex
	current   *Identity
	listeners map[uint64]func(*Identity)
	nextID    uint64

	// emitMu keeps session-change deliveries in the order the changes happened.
	emitMu sync.Mutex
}

// NewClient returns a signed-out client.
func NewClient(dir Directory) *Client {
	return &Client{dir: dir, listeners: make(map[uint64]func(*Identity))}
}

// CurrentUser returns a copy of the signed-in identity, or nil.
func (c *Client) CurrentUser() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	id := *c.current
	return &id
}

// CreateAccount registers a new account and signs it in.
func (c *Client) CreateAccount(ctx context.Context, email, password string) (*Identity, error) {
	id, err := c.dir.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.setSession(&id)
	return &id, nil
}

// SignIn verifies the credentials and starts a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	id, err := c.dir.VerifyPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.setSession(&id)
	return &id, nil
}

// Resume starts a session for an already authenticated uid, such as one
// taken from a verified bearer token.
func (c *Client) Resume(ctx context.Context, uid string) (*Identity, error) {
	id, err := c.dir.Lookup(ctx, uid)
	if err != nil {
		return nil, err
	}
	c.setSession(&id)
	return &id, nil
}

// SignOut ends the session. Signing out while signed out is a no-op.
func (c *Client) SignOut(context.Context) error {
	c.mu.Lock()
	signedIn := c.current != nil
	c.mu.Unlock()
	if signedIn {
		c.setSession(nil)
	}
	return nil
}

// UpdateDisplayFields changes the signed-in account's display name or photo.
// It does not count as a session change.
func (c *Client) UpdateDisplayFields(ctx context.Context, fields DisplayFields) error {
	current := c.CurrentUser()
	if current == nil {
		return ErrNotSignedIn
	}
	if fields.Empty() {
		return nil
	}
	if err := c.dir.UpdateDisplayFields(ctx, current.UID, fields); err != nil {
		return err
	}
	c.mu.Lock()
	if c.current != nil && c.current.UID == current.UID {
		fields.applyTo(c.current)
	}
	c.mu.Unlock()
	return nil
}

// OnSessionChange calls fn with the current session right away and again
// after every sign-in or sign-out, until stop is called. Deliveries run on
// the goroutine that caused the change.
func (c *Client) OnSessionChange(fn func(*Identity)) (stop func()) {
	c.emitMu.Lock()
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	var current *Identity
	if c.current != nil {
		cp := *c.current
		current = &cp
	}
	c.mu.Unlock()
	fn(current)
	c.emitMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) setSession(id *Identity) {
	if id != nil {
		cp := *id
		id = &cp
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	c.current = id
	fns := make([]func(*Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		if id == nil {
			fn(nil)
			continue
		}
		cp := *id
		fn(&cp)
	}
}

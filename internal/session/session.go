// Package session owns the signed-in identity of one client and keeps its
// profile document live.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"keepto/internal/auth"
	"keepto/internal/docstore"
	"keepto/internal/models"
	"keepto/internal/observability"
	"keepto/internal/subscription"
	"keepto/internal/upload"
	"keepto/internal/validation"
)

// State is what observers see.
type State struct {
	Loading bool            `json:"loading"`
	User    *auth.Identity  `json:"user"`
	Profile *models.Profile `json:"profile"`
}

// Session follows the auth client. While someone is signed in it holds
// exactly one live subscription, on that user's profile document.
type Session struct {
	auth     *auth.Client
	store    docstore.Store
	subs     *subscription.Manager
	uploader upload.Uploader
	logger   *slog.Logger
	ctx      context.Context
	now      func() time.Time

	mu      sync.Mutex
	loading bool
	user    *auth.Identity
	profile *models.Profile
	gen     uint64

	// switchMu orders profile subscription changes against Close.
	switchMu   sync.Mutex
	closed     bool
	profileSub subscription.Keyed
	stopAuth   func()

	notifyMu  sync.Mutex
	observers map[uint64]func(State)
	nextObs   uint64
}

// Deps are the collaborators of a Session.
type Deps struct {
	Auth     *auth.Client
	Store    docstore.Store
	Subs     *subscription.Manager
	Uploader upload.Uploader
	Logger   *slog.Logger
	Now      func() time.Time
}

// New starts following d.Auth. ctx bounds the profile subscription.
func New(ctx context.Context, d Deps) *Session {
	s := &Session{
		auth:      d.Auth,
		store:     d.Store,
		subs:      d.Subs,
		uploader:  d.Uploader,
		logger:    observability.Component(d.Logger, "session"),
		ctx:       ctx,
		now:       d.Now,
		loading:   true,
		observers: make(map[uint64]func(State)),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.uploader == nil {
		s.uploader = upload.Disabled{}
	}
	s.stopAuth = d.Auth.OnSessionChange(s.onSessionChange)
	return s
}

func (s *Session) onSessionChange(id *auth.Identity) {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()
	if s.closed {
		return
	}

	s.mu.Lock()
	s.loading = false
	sameUser := id != nil && s.user != nil && s.user.UID == id.UID
	s.user = id
	if !sameUser {
		s.gen++
		s.profile = nil
	}
	gen := s.gen
	s.mu.Unlock()

	if id == nil {
		s.profileSub.Close()
	} else {
		uid := id.UID
		s.profileSub.Switch(uid, func() *subscription.Handle {
			return s.subs.Document(s.ctx, models.ProfilePath(uid),
				func(snap docstore.Snapshot) { s.onProfile(gen, snap) },
				func(error) { s.onProfile(gen, docstore.Snapshot{}) },
			)
		})
	}
	s.notify()
}

func (s *Session) onProfile(gen uint64, snap docstore.Snapshot) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if snap.Exists {
		p := models.ProfileFromSnapshot(snap)
		s.profile = &p
	} else {
		s.profile = nil
	}
	s.mu.Unlock()
	s.notify()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{Loading: s.loading}
	if s.user != nil {
		u := *s.user
		st.User = &u
	}
	if s.profile != nil {
		p := *s.profile
		st.Profile = &p
	}
	return st
}

// Profile returns the cached profile, or nil.
func (s *Session) Profile() *models.Profile {
	return s.State().Profile
}

// UID returns the signed-in uid or "".
func (s *Session) UID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.UID
}

// Viewer returns the profile to denormalize onto new content. It falls back
// to the auth identity when the profile document has not loaded.
func (s *Session) Viewer() (models.Profile, error) {
	st := s.State()
	if st.User == nil {
		return models.Profile{}, AsAppError(auth.ErrNotSignedIn)
	}
	if st.Profile != nil {
		return *st.Profile, nil
	}
	p := models.Profile{UID: st.User.UID, Email: st.User.Email, DisplayName: st.User.DisplayName}
	if st.User.PhotoURL != "" {
		photo := st.User.PhotoURL
		p.PhotoURL = &photo
	}
	return p, nil
}

// Subscribe calls fn with the current state now and after every change.
func (s *Session) Subscribe(fn func(State)) (stop func()) {
	s.notifyMu.Lock()
	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn
	fn(s.State())
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			delete(s.observers, id)
			s.notifyMu.Unlock()
		})
	}
}

func (s *Session) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	st := s.State()
	for _, fn := range s.observers {
		fn(st)
	}
}

// SignIn signs in with email and password.
func (s *Session) SignIn(ctx context.Context, email, password string) (*auth.Identity, error) {
	if err := validation.ValidateEmail(email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	id, err := s.auth.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, AsAppError(err)
	}
	s.logger.InfoContext(ctx, "signed in", slog.String("user_id", id.UID))
	return id, nil
}

// SignUp creates the account, sets its display name and writes the initial
// profile document. If a later step fails the account still exists.
func (s *Session) SignUp(ctx context.Context, email, password string, reg models.Registration) (*auth.Identity, error) {
	if err := validation.ValidateSignup(email, password, reg, s.now()); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	email = strings.TrimSpace(email)

	id, err := s.auth.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, AsAppError(err)
	}

	name := models.ComposeDisplayName(reg.FirstName, reg.LastName)
	if err := s.auth.UpdateDisplayFields(ctx, auth.DisplayFields{DisplayName: &name}); err != nil {
		return id, AsAppError(fmt.Errorf("set display name: %w", err))
	}

	profile := models.Profile{
		UID:         id.UID,
		FirstName:   strings.TrimSpace(reg.FirstName),
		LastName:    strings.TrimSpace(reg.LastName),
		DisplayName: name,
		Email:       email,
		PhoneNumber: reg.PhoneNumber,
		Gender:      reg.Gender,
		DOB:         reg.DOB,
	}
	if err := s.store.Set(ctx, models.ProfilePath(id.UID), profile.Data()); err != nil {
		s.logger.ErrorContext(ctx, "profile write failed after signup",
			slog.String("user_id", id.UID),
			slog.String("error", err.Error()),
		)
		return id, models.NewInternalError(fmt.Errorf("write profile: %w", err))
	}

	s.logger.InfoContext(ctx, "account created", slog.String("user_id", id.UID))
	id.DisplayName = name
	return id, nil
}

// SignOut ends the session.
func (s *Session) SignOut(ctx context.Context) error {
	return s.auth.SignOut(ctx)
}

// UpdateProfile merges u into the stored profile. The auth-level display
// name and photo are only touched when u carries those fields.
func (s *Session) UpdateProfile(ctx context.Context, u models.ProfileUpdate) error {
	uid := s.UID()
	if uid == "" {
		return AsAppError(auth.ErrNotSignedIn)
	}
	if u.Empty() {
		return nil
	}
	if err := validation.ValidateProfileUpdate(u, s.now()); err != nil {
		return models.NewValidationError(err.Error())
	}

	if err := s.store.Set(ctx, models.ProfilePath(uid), u.Data(), docstore.Merge()); err != nil {
		return models.NewInternalError(fmt.Errorf("merge profile: %w", err))
	}

	fields := auth.DisplayFields{PhotoURL: u.PhotoURL}
	if u.DisplayName != nil {
		name := strings.TrimSpace(*u.DisplayName)
		fields.DisplayName = &name
	}
	if fields.Empty() {
		return nil
	}
	if err := s.auth.UpdateDisplayFields(ctx, fields); err != nil {
		return AsAppError(fmt.Errorf("update auth profile: %w", err))
	}
	return nil
}

// ChangePhoto uploads img and stores its URL. Nothing is written when the
// upload fails.
func (s *Session) ChangePhoto(ctx context.Context, img upload.Image) (string, error) {
	if s.UID() == "" {
		return "", AsAppError(auth.ErrNotSignedIn)
	}
	url, err := s.uploader.Upload(ctx, img)
	if err != nil {
		s.logger.WarnContext(ctx, "photo upload failed", slog.String("error", err.Error()))
		return "", uploadError(err)
	}
	if err := s.UpdateProfile(ctx, models.ProfileUpdate{PhotoURL: &url}); err != nil {
		return "", err
	}
	return url, nil
}

// RemovePhoto clears the profile photo.
func (s *Session) RemovePhoto(ctx context.Context) error {
	empty := ""
	return s.UpdateProfile(ctx, models.ProfileUpdate{PhotoURL: &empty})
}

// Close stops following the auth client and releases the profile subscription.
func (s *Session) Close() {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopAuth()
	s.profileSub.Close()

	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

func uploadError(err error) error {
	if errors.Is(err, upload.ErrInvalidImage) || errors.Is(err, upload.ErrTooLarge) {
		return models.NewValidationError(err.Error())
	}
	return models.NewUploadError(err)
}

// AsAppError maps auth failures onto client-facing errors. Anything else is
// returned unchanged.
func AsAppError(err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return &models.AppError{Code: models.CodeUnauthorized, Message: "Invalid email or password", Err: err}
	case errors.Is(err, auth.ErrNotSignedIn):
		return &models.AppError{Code: models.CodeUnauthorized, Message: "Not signed in", Err: err}
	case errors.Is(err, auth.ErrInvalidToken):
		return &models.AppError{Code: models.CodeUnauthorized, Message: "Invalid or expired token", Err: err}
	case errors.Is(err, auth.ErrEmailInUse):
		return models.NewConflictError("Email already in use", err)
	case errors.Is(err, auth.ErrWeakPassword):
		return &models.AppError{Code: models.CodeValidation, Message: "Password should be at least 6 characters", Err: err}
	case errors.Is(err, auth.ErrUserNotFound):
		return &models.AppError{Code: models.CodeNotFound, Message: "User not found", Err: err}
	}
	return err
}

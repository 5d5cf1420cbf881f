package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"keepto/internal/auth"
	"keepto/internal/docstore/memstore"
	"keepto/internal/models"
	"keepto/internal/subscription"
	"keepto/internal/upload"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type uploaderFunc func(ctx context.Context, img upload.Image) (string, error)

func (f uploaderFunc) Upload(ctx context.Context, img upload.Image) (string, error) {
	return f(ctx, img)
}

type fixture struct {
	store *memstore.Store
	dir   *auth.StoreDirectory
	subs  *subscription.Manager
	sess  *Session
}

func newFixture(t *testing.T, up upload.Uploader) *fixture {
	t.Helper()
	store := memstore.New()
	dir := auth.NewStoreDirectory(store, bcrypt.MinCost)
	subs := subscription.NewManager(store, nil)
	sess := New(context.Background(), Deps{
		Auth:     auth.NewClient(dir),
		Store:    store,
		Subs:     subs,
		Uploader: up,
		Now:      func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	t.Cleanup(sess.Close)
	return &fixture{store: store, dir: dir, subs: subs, sess: sess}
}

var ada = models.Registration{FirstName: "Ada", LastName: "Lovelace", PhoneNumber: "0123", DOB: "1990-12-10"}

func (f *fixture) waitProfile(t *testing.T, match func(*models.Profile) bool) {
	t.Helper()
	assert.Eventually(t, func() bool { return match(f.sess.Profile()) }, waitFor, tick)
}

func TestInitialStateResolvesToSignedOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	st := f.sess.State()
	assert.False(t, st.Loading)
	assert.Nil(t, st.User)
	assert.Nil(t, st.Profile)
	assert.Zero(t, f.subs.Active())
}

func TestSignUpWritesProfileAndDisplayName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	id, err := f.sess.SignUp(ctx, " ada@example.com ", "secret1", ada)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", id.DisplayName)

	f.waitProfile(t, func(p *models.Profile) bool { return p != nil && p.DisplayName == "Ada Lovelace" })
	p := f.sess.Profile()
	assert.Equal(t, id.UID, p.UID)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Nil(t, p.PhotoURL)
	assert.False(t, p.CreatedAt.IsZero())

	stored, err := f.dir.Lookup(ctx, id.UID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", stored.DisplayName)
	assert.Equal(t, 1, f.subs.Active())
}

func TestSignUpRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.sess.SignUp(ctx, "ada@example.com", "123", ada)
	assert.True(t, models.IsCode(err, models.CodeValidation))

	_, err = f.sess.SignUp(ctx, "ada@example.com", "secret1", ada)
	require.NoError(t, err)
	require.NoError(t, f.sess.SignOut(ctx))

	_, err = f.sess.SignUp(ctx, "ADA@example.com", "secret1", ada)
	assert.True(t, models.IsCode(err, models.CodeConflict))
	assert.ErrorIs(t, err, auth.ErrEmailInUse)

	_, err = f.sess.SignIn(ctx, "ada@example.com", "wrong-password")
	assert.True(t, models.IsCode(err, models.CodeUnauthorized))
	assert.Nil(t, f.sess.State().User, "failed sign in leaves no session")
}

func TestSessionSwitchKeepsOneProfileSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	a, err := f.sess.SignUp(ctx, "ada@example.com", "secret1", ada)
	require.NoError(t, err)
	require.NoError(t, f.sess.SignOut(ctx))
	assert.Nil(t, f.sess.State().Profile)
	assert.Zero(t, f.subs.Active())

	grace := models.Registration{FirstName: "Grace", LastName: "Hopper", DOB: "1980-01-01"}
	g, err := f.sess.SignUp(ctx, "grace@example.com", "secret1", grace)
	require.NoError(t, err)
	f.waitProfile(t, func(p *models.Profile) bool { return p != nil && p.UID == g.UID })

	_, err = f.sess.SignIn(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	f.waitProfile(t, func(p *models.Profile) bool { return p != nil && p.UID == a.UID })
	assert.Equal(t, 1, f.subs.Active())

	// Grace's late edits must not leak into Ada's session.
	require.NoError(t, f.store.Set(ctx, models.ProfilePath(g.UID), map[string]any{"bio": "compilers"}))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, a.UID, f.sess.Profile().UID)
}

func TestUpdateProfile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	bio := "Analyst"
	err := f.sess.UpdateProfile(ctx, models.ProfileUpdate{Bio: &bio})
	assert.True(t, models.IsCode(err, models.CodeUnauthorized))

	id, err := f.sess.SignUp(ctx, "ada@example.com", "secret1", ada)
	require.NoError(t, err)

	require.NoError(t, f.sess.UpdateProfile(ctx, models.ProfileUpdate{Bio: &bio}))
	f.waitProfile(t, func(p *models.Profile) bool { return p != nil && p.Bio == "Analyst" })
	stored, err := f.dir.Lookup(ctx, id.UID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", stored.DisplayName, "bio edits do not touch the auth profile")

	name := " Countess "
	require.NoError(t, f.sess.UpdateProfile(ctx, models.ProfileUpdate{DisplayName: &name}))
	f.waitProfile(t, func(p *models.Profile) bool { return p != nil && p.DisplayName == "Countess" })
	stored, err = f.dir.Lookup(ctx, id.UID)
	require.NoError(t, err)
	assert.Equal(t, "Countess", stored.DisplayName)
	assert.Equal(t, "Ada", f.sess.Profile().FirstName, "merge keeps other fields")

	long := strings.Repeat("x", 161)
	err = f.sess.UpdateProfile(ctx, models.ProfileUpdate{Bio: &long})
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestChangeAndRemovePhoto(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fail := true
	up := uploaderFunc(func(context.Context, upload.Image) (string, error) {
		if fail {
			return "", errors.New("network down")
		}
		return "https://cdn.example.com/ada.png", nil
	})
	f := newFixture(t, up)

	id, err := f.sess.SignUp(ctx, "ada@example.com", "secret1", ada)
	require.NoError(t, err)
	f.waitProfile(t, func(p *models.Profile) bool { return p != nil })

	_, err = f.sess.ChangePhoto(ctx, upload.Image{Name: "ada.png", Body: strings.NewReader("png")})
	assert.True(t, models.IsCode(err, models.CodeUpload))
	assert.Nil(t, f.sess.Profile().PhotoURL, "failed upload writes nothing")

	fail = false
	url, err := f.sess.ChangePhoto(ctx, upload.Image{Name: "ada.png", Body: strings.NewReader("png")})
	require.NoError(t, err)
	f.waitProfile(t, func(p *models.Profile) bool { return p != nil && p.Photo() == url })
	stored, err := f.dir.Lookup(ctx, id.UID)
	require.NoError(t, err)
	assert.Equal(t, url, stored.PhotoURL)

	require.NoError(t, f.sess.RemovePhoto(ctx))
	f.waitProfile(t, func(p *models.Profile) bool { return p != nil && p.PhotoURL == nil })
	stored, err = f.dir.Lookup(ctx, id.UID)
	require.NoError(t, err)
	assert.Empty(t, stored.PhotoURL)
}

func TestSubscribeDeliversCurrentStateFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	states := make(chan State, 64)
	stop := f.sess.Subscribe(func(st State) { states <- st })
	defer stop()

	first := <-states
	assert.Nil(t, first.User)

	_, err := f.sess.SignUp(ctx, "ada@example.com", "secret1", ada)
	require.NoError(t, err)

	deadline := time.After(waitFor)
	for {
		select {
		case st := <-states:
			if st.Profile != nil && st.Profile.DisplayName == "Ada Lovelace" {
				return
			}
		case <-deadline:
			t.Fatal("profile never delivered to observer")
		}
	}
}

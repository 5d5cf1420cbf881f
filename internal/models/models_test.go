package models

import (
	"errors"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"keepto/internal/docstore"
)

func TestProfileUpdateDataOnlyCarriesPresentKeys(t *testing.T) {
	t.Parallel()
	bio := "  hello  "
	empty := ""
	unset := GenderUnset

	d := ProfileUpdate{Bio: &bio, PhotoURL: &empty, Gender: &unset}.Data()

	assert.Len(t, d, 3)
	assert.Equal(t, "hello", d["bio"])
	v, ok := d["photoURL"]
	assert.True(t, ok)
	assert.Nil(t, v, "an empty photo URL removes the photo")
	assert.Nil(t, d["gender"])
	assert.True(t, ProfileUpdate{}.Empty())
}

func TestComposeDisplayName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Ada Lovelace", ComposeDisplayName(" Ada ", "Lovelace"))
	assert.Equal(t, "Ada", ComposeDisplayName("Ada", ""))
}

func TestProfileFromSnapshotFallsBackToDocumentID(t *testing.T) {
	t.Parallel()
	p := ProfileFromSnapshot(docstore.Snapshot{ID: "u9", Exists: true, Data: docstore.Data{"displayName": "Nine", "photoURL": nil}})
	assert.Equal(t, "u9", p.UID)
	assert.Equal(t, "Nine", p.DisplayName)
	assert.Nil(t, p.PhotoURL)
	assert.Equal(t, "", p.Photo())
}

func TestChatOther(t *testing.T) {
	t.Parallel()
	c := ChatFromSnapshot(docstore.Snapshot{ID: "a_b", Exists: true, Data: docstore.Data{
		"participants": []any{"a", "b"},
		"participantData": map[string]any{
			"a": map[string]any{"displayName": "Ann"},
			"b": map[string]any{"displayName": "Bob", "photoURL": "https://img/b.png"},
		},
	}})
	uid, p := c.Other("a")
	assert.Equal(t, "b", uid)
	assert.Equal(t, "Bob", p.DisplayName)
	assert.Equal(t, "https://img/b.png", p.PhotoURL)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Validation", NewValidationError("bad"), fiber.StatusBadRequest},
		{"Not Found", NewNotFoundError("Post", "p1"), fiber.StatusNotFound},
		{"Unauthorized", NewUnauthorizedError("no"), fiber.StatusUnauthorized},
		{"Conflict", NewConflictError("busy", nil), fiber.StatusConflict},
		{"Upload", NewUploadError(errors.New("x")), fiber.StatusBadGateway},
		{"Wrapped", errors.Join(errors.New("ctx"), NewValidationError("bad")), fiber.StatusBadRequest},
		{"Plain", errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

package models

import (
	"strings"
	"time"

	"keepto/internal/docstore"
)

// UsersCollection holds one Profile per auth identity, keyed by uid.
const UsersCollection = "users"

// Gender is optional; the zero value means unset.
type Gender string

const (
	GenderUnset  Gender = ""
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
)

// DateLayout is how dates of birth are stored.
const DateLayout = "2006-01-02"

// Profile is the public user document.
type Profile struct {
	UID         string    `json:"uid"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number"`
	Gender      Gender    `json:"gender,omitempty"`
	DOB         string    `json:"dob,omitempty"`
	Bio         string    `json:"bio"`
	PhotoURL    *string   `json:"photo_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProfilePath returns the document path of uid's profile.
func ProfilePath(uid string) string {
	return docstore.Doc(UsersCollection, uid)
}

// ComposeDisplayName joins first and last name the way signup does.
func ComposeDisplayName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// Photo returns the photo URL or "".
func (p Profile) Photo() string {
	if p.PhotoURL == nil {
		return ""
	}
	return *p.PhotoURL
}

// Data encodes the profile for storage.
func (p Profile) Data() docstore.Data {
	d := docstore.Data{
		"uid":         p.UID,
		"firstName":   p.FirstName,
		"lastName":    p.LastName,
		"displayName": p.DisplayName,
		"email":       p.Email,
		"phoneNumber": p.PhoneNumber,
		"dob":         p.DOB,
		"bio":         p.Bio,
		"photoURL":    nil,
	}
	if p.Gender != GenderUnset {
		d["gender"] = string(p.Gender)
	} else {
		d["gender"] = nil
	}
	if p.PhotoURL != nil {
		d["photoURL"] = *p.PhotoURL
	}
	if p.CreatedAt.IsZero() {
		d["createdAt"] = docstore.ServerTimestamp
	} else {
		d["createdAt"] = p.CreatedAt
	}
	return d
}

// ProfileFromSnapshot decodes a profile document.
func ProfileFromSnapshot(s docstore.Snapshot) Profile {
	uid := s.Data.String("uid")
	if uid == "" {
		uid = s.ID
	}
	return Profile{
		UID:         uid,
		FirstName:   s.Data.String("firstName"),
		LastName:    s.Data.String("lastName"),
		DisplayName: s.Data.String("displayName"),
		Email:       s.Data.String("email"),
		PhoneNumber: s.Data.String("phoneNumber"),
		Gender:      Gender(s.Data.String("gender")),
		DOB:         s.Data.String("dob"),
		Bio:         s.Data.String("bio"),
		PhotoURL:    s.Data.StringPtr("photoURL"),
		CreatedAt:   s.Data.Time("createdAt"),
	}
}

// Registration carries the profile fields collected at signup.
type Registration struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	Gender      Gender `json:"gender"`
	DOB         string `json:"dob"`
}

// ProfileUpdate is a partial profile edit; nil fields are left unchanged.
// An empty PhotoURL removes the photo.
type ProfileUpdate struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Gender      *Gender `json:"gender,omitempty"`
	DOB         *string `json:"dob,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	PhotoURL    *string `json:"photo_url,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.DisplayName == nil &&
		u.PhoneNumber == nil && u.Gender == nil && u.DOB == nil &&
		u.Bio == nil && u.PhotoURL == nil
}

// Data encodes only the fields present in the update.
func (u ProfileUpdate) Data() docstore.Data {
	d := docstore.Data{}
	if u.FirstName != nil {
		d["firstName"] = strings.TrimSpace(*u.FirstName)
	}
	if u.LastName != nil {
		d["lastName"] = strings.TrimSpace(*u.LastName)
	}
	if u.DisplayName != nil {
		d["displayName"] = strings.TrimSpace(*u.DisplayName)
	}
	if u.PhoneNumber != nil {
		d["phoneNumber"] = *u.PhoneNumber
	}
	if u.Gender != nil {
		if *u.Gender == GenderUnset {
			d["gender"] = nil
		} else {
			d["gender"] = string(*u.Gender)
		}
	}
	if u.DOB != nil {
		d["dob"] = *u.DOB
	}
	if u.Bio != nil {
		d["bio"] = strings.TrimSpace(*u.Bio)
	}
	if u.PhotoURL != nil {
		if *u.PhotoURL == "" {
			d["photoURL"] = nil
		} else {
			d["photoURL"] = *u.PhotoURL
		}
	}
	return d
}

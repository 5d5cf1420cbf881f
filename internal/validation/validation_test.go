package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"keepto/internal/models"
)

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestValidateEmail(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"Valid", "test@example.com", false},
		{"Surrounding Space", "  test@example.com ", false},
		{"Missing At", "not-an-email", true},
		{"Missing Domain Dot", "user@example", true},
		{"Inner Space", "us er@example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateEmail(tt.email)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDOB(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		dob     string
		wantErr bool
	}{
		{"Adult", "1990-01-01", false},
		{"Eighteenth Birthday Today", "2008-06-15", false},
		{"Day Before Eighteenth", "2008-06-16", true},
		{"Bad Format", "15/06/1990", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateDOB(tt.dob, now)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSignup(t *testing.T) {
	t.Parallel()
	valid := models.Registration{FirstName: "Ada", LastName: "Lovelace", PhoneNumber: "0123", DOB: "1990-12-10"}

	tests := []struct {
		name    string
		mutate  func(r *models.Registration)
		pass    string
		wantErr bool
	}{
		{"Valid", func(*models.Registration) {}, "secret", false},
		{"Short Password", func(*models.Registration) {}, "12345", true},
		{"Digits In Name", func(r *models.Registration) { r.FirstName = "Ada2" }, "secret", true},
		{"Missing Last Name", func(r *models.Registration) { r.LastName = " " }, "secret", true},
		{"Letters In Phone", func(r *models.Registration) { r.PhoneNumber = "01a" }, "secret", true},
		{"Unknown Gender", func(r *models.Registration) { r.Gender = "Other" }, "secret", true},
		{"Minor", func(r *models.Registration) { r.DOB = "2015-01-01" }, "secret", true},
		{"No DOB", func(r *models.Registration) { r.DOB = "" }, "secret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg := valid
			tt.mutate(&reg)
			err := ValidateSignup("ada@example.com", tt.pass, reg, now)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateProfileUpdate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		update  models.ProfileUpdate
		wantErr bool
	}{
		{"Empty", models.ProfileUpdate{}, false},
		{"Rename", models.ProfileUpdate{FirstName: ptr("Grace"), DisplayName: ptr("Grace H")}, false},
		{"Clear First Name", models.ProfileUpdate{FirstName: ptr("")}, true},
		{"Clear Display Name", models.ProfileUpdate{DisplayName: ptr("  ")}, true},
		{"Bio At Limit", models.ProfileUpdate{Bio: ptr(strings.Repeat("é", MaxBioLength))}, false},
		{"Bio Too Long", models.ProfileUpdate{Bio: ptr(strings.Repeat("a", MaxBioLength+1))}, true},
		{"Clear DOB", models.ProfileUpdate{DOB: ptr("")}, false},
		{"Remove Photo", models.ProfileUpdate{PhotoURL: ptr("")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateProfileUpdate(tt.update, now)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPasswordStrength(t *testing.T) {
	t.Parallel()
	tests := []struct {
		password string
		want     Strength
	}{
		{"abc", TooShort},
		{"abcdef", Weak},
		{"abcdefg1", Medium},
		{"abcdefgh12", Medium},
		{"abcdefg12!", Strong},
		{"1234567890!", Weak},
	}

	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PasswordStrength(tt.password))
		})
	}
}

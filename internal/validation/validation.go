// Package validation checks registration and profile input.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"keepto/internal/models"
)

const (
	MinPasswordLength = 6
	MaxBioLength      = 160
	MinimumAge        = 18
)

var (
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nameRegex  = regexp.MustCompile(`^[a-zA-Z\s]*$`)
	phoneRegex = regexp.MustCompile(`^[0-9]*$`)
)

// ValidateEmail checks basic email format
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(strings.TrimSpace(email)) {
		return errors.New("invalid email format")
	}
	return nil
}

// ValidatePassword enforces the minimum length accepted by the auth service.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	}
	return nil
}

// ValidateName checks a first or last name.
func ValidateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s is required", field)
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("%s can only contain letters and spaces", field)
	}
	return nil
}

func ValidatePhone(phone string) error {
	if !phoneRegex.MatchString(phone) {
		return errors.New("phone number can only contain digits")
	}
	return nil
}

func ValidateGender(g models.Gender) error {
	switch g {
	case models.GenderUnset, models.GenderMale, models.GenderFemale:
		return nil
	}
	return fmt.Errorf("gender must be %q, %q or empty", models.GenderMale, models.GenderFemale)
}

// ValidateDOB requires a YYYY-MM-DD date at least MinimumAge years before now.
func ValidateDOB(dob string, now time.Time) error {
	born, err := time.Parse(models.DateLayout, dob)
	if err != nil {
		return errors.New("date of birth must be YYYY-MM-DD")
	}
	if Age(born, now) < MinimumAge {
		return fmt.Errorf("you must be at least %d years old", MinimumAge)
	}
	return nil
}

// Age returns completed years between born and now.
func Age(born, now time.Time) int {
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	return age
}

func ValidateBio(bio string) error {
	if utf8.RuneCountInString(bio) > MaxBioLength {
		return fmt.Errorf("bio must not exceed %d characters", MaxBioLength)
	}
	return nil
}

// ValidateSignup checks everything collected by the signup form.
func ValidateSignup(email, password string, reg models.Registration, now time.Time) error {
	checks := []error{
		ValidateName("first name", reg.FirstName),
		ValidateName("last name", reg.LastName),
		ValidateEmail(email),
		ValidatePassword(password),
		ValidatePhone(reg.PhoneNumber),
		ValidateGender(reg.Gender),
	}
	if reg.DOB != "" {
		checks = append(checks, ValidateDOB(reg.DOB, now))
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

// ValidateProfileUpdate checks the fields present in a partial edit. Names
// may be changed but never cleared.
func ValidateProfileUpdate(u models.ProfileUpdate, now time.Time) error {
	if u.FirstName != nil {
		if err := ValidateName("first name", *u.FirstName); err != nil {
			return err
		}
	}
	if u.LastName != nil {
		if err := ValidateName("last name", *u.LastName); err != nil {
			return err
		}
	}
	if u.DisplayName != nil && strings.TrimSpace(*u.DisplayName) == "" {
		return errors.New("display name is required")
	}
	if u.PhoneNumber != nil {
		if err := ValidatePhone(*u.PhoneNumber); err != nil {
			return err
		}
	}
	if u.Gender != nil {
		if err := ValidateGender(*u.Gender); err != nil {
			return err
		}
	}
	if u.DOB != nil && *u.DOB != "" {
		if err := ValidateDOB(*u.DOB, now); err != nil {
			return err
		}
	}
	if u.Bio != nil {
		if err := ValidateBio(strings.TrimSpace(*u.Bio)); err != nil {
			return err
		}
	}
	return nil
}

// Strength is a password strength label shown while typing.
type Strength string

const (
	TooShort Strength = "Too Short"
	Weak     Strength = "Weak"
	Medium   Strength = "Medium"
	Strong   Strength = "Strong"
)

// PasswordStrength grades a password.
func PasswordStrength(password string) Strength {
	if len(password) < MinPasswordLength {
		return TooShort
	}
	var letters, digits, symbols bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letters = true
		case unicode.IsDigit(r):
			digits = true
		default:
			symbols = true
		}
	}
	n := len(password)
	switch {
	case n >= 10 && letters && digits && symbols:
		return Strong
	case n >= 8 && letters && digits:
		return Medium
	default:
		return Weak
	}
}

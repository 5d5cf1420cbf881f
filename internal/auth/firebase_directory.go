package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
)

const identityToolkitURL = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"

// FirebaseDirectory uses Firebase Authentication. Account administration
// goes through the admin SDK; password checks go through the Identity
// Toolkit REST API because the admin SDK cannot verify passwords.
type FirebaseDirectory struct {
	client   *fbauth.Client
	apiKey   string
	endpoint string
	http     *http.Client
}

var (
	_ Directory     = (*FirebaseDirectory)(nil)
	_ TokenVerifier = (*FirebaseDirectory)(nil)
)

// NewFirebaseDirectory opens the admin auth client of app.
func NewFirebaseDirectory(ctx context.Context, app *firebase.App, apiKey string) (*FirebaseDirectory, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("open firebase auth: %w", err)
	}
	return &FirebaseDirectory{
		client:   client,
		apiKey:   apiKey,
		endpoint: identityToolkitURL,
		http:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (d *FirebaseDirectory) CreateAccount(ctx context.Context, email, password string) (Identity, error) {
	if len(password) < MinPasswordLength {
		return Identity{}, ErrWeakPassword
	}
	params := (&fbauth.UserToCreate{}).Email(strings.TrimSpace(email)).Password(password)
	rec, err := d.client.CreateUser(ctx, params)
	if fbauth.IsEmailAlreadyExists(err) {
		return Identity{}, ErrEmailInUse
	}
	if err != nil {
		return Identity{}, fmt.Errorf("create firebase user: %w", err)
	}
	return identityOf(rec), nil
}

type passwordSignInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type passwordSignInResponse struct {
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	IDToken     string `json:"idToken"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (d *FirebaseDirectory) VerifyPassword(ctx context.Context, email, password string) (Identity, error) {
	body, err := json.Marshal(passwordSignInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return Identity{}, err
	}
	endpoint := d.endpoint + "?key=" + url.QueryEscape(d.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("firebase sign in: %w", err)
	}
	defer resp.Body.Close()

	var out passwordSignInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Identity{}, fmt.Errorf("decode firebase sign in: %w", err)
	}
	if out.Error != nil {
		switch {
		case strings.HasPrefix(out.Error.Message, "INVALID_PASSWORD"),
			strings.HasPrefix(out.Error.Message, "EMAIL_NOT_FOUND"),
			strings.HasPrefix(out.Error.Message, "INVALID_LOGIN_CREDENTIALS"),
			strings.HasPrefix(out.Error.Message, "INVALID_EMAIL"):
			return Identity{}, ErrInvalidCredentials
		default:
			return Identity{}, fmt.Errorf("firebase sign in: %s", out.Error.Message)
		}
	}
	if resp.StatusCode != http.StatusOK || out.LocalID == "" {
		return Identity{}, fmt.Errorf("firebase sign in: unexpected status %d", resp.StatusCode)
	}
	return d.Lookup(ctx, out.LocalID)
}

func (d *FirebaseDirectory) UpdateDisplayFields(ctx context.Context, uid string, fields DisplayFields) error {
	if fields.Empty() {
		return nil
	}
	params := &fbauth.UserToUpdate{}
	if fields.DisplayName != nil {
		params = params.DisplayName(*fields.DisplayName)
	}
	if fields.PhotoURL != nil {
		params = params.PhotoURL(*fields.PhotoURL)
	}
	if _, err := d.client.UpdateUser(ctx, uid, params); err != nil {
		if fbauth.IsUserNotFound(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update firebase user: %w", err)
	}
	return nil
}

func (d *FirebaseDirectory) Lookup(ctx context.Context, uid string) (Identity, error) {
	rec, err := d.client.GetUser(ctx, uid)
	if fbauth.IsUserNotFound(err) {
		return Identity{}, ErrUserNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("get firebase user: %w", err)
	}
	return identityOf(rec), nil
}

// VerifyToken accepts Firebase ID tokens issued to mobile clients.
func (d *FirebaseDirectory) VerifyToken(ctx context.Context, idToken string) (string, error) {
	token, err := d.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", ErrInvalidToken
	}
	return token.UID, nil
}

func identityOf(rec *fbauth.UserRecord) Identity {
	return Identity{
		UID:         rec.UID,
		Email:       rec.Email,
		DisplayName: rec.DisplayName,
		PhotoURL:    rec.PhotoURL,
	}
}

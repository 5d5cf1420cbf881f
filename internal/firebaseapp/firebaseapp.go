// Package firebaseapp builds the Firebase admin app shared by the Firestore
// store and the Firebase auth directory.
package firebaseapp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Config identifies the Firebase project.
type Config struct {
	ProjectID       string
	CredentialsFile string
	StorageBucket   string
}

// ClientOptions returns the Google API options for cfg. Without a credentials
// file the application default credentials are used.
func (c Config) ClientOptions() []option.ClientOption {
	if c.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(c.CredentialsFile)}
}

// New initializes the admin app.
func New(ctx context.Context, cfg Config) (*firebase.App, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     cfg.ProjectID,
		StorageBucket: cfg.StorageBucket,
	}, cfg.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return app, nil
}

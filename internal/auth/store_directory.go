package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"keepto/internal/docstore"
)

const (
	accountsCollection   = "accounts"
	identitiesCollection = "identities"
)

// StoreDirectory keeps accounts in the document store with bcrypt password
// hashes. Accounts are keyed by a hash of the lowercased email so that
// duplicate registration is detected inside a transaction.
type StoreDirectory struct {
	store docstore.Store
	cost  int
}

var _ Directory = (*StoreDirectory)(nil)

// NewStoreDirectory returns a directory using bcrypt.DefaultCost unless cost is positive.
func NewStoreDirectory(store docstore.Store, cost int) *StoreDirectory {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &StoreDirectory{store: store, cost: cost}
}

func emailKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func (d *StoreDirectory) CreateAccount(ctx context.Context, email, password string) (Identity, error) {
	email = strings.TrimSpace(email)
	if len(password) < MinPasswordLength {
		return Identity{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	id := Identity{UID: strings.ReplaceAll(uuid.NewString(), "-", ""), Email: email}
	accountPath := docstore.Doc(accountsCollection, emailKey(email))
	err = d.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		existing, err := tx.Get(accountPath)
		if err != nil {
			return err
		}
		if existing.Exists {
			return ErrEmailInUse
		}
		if err := tx.Set(accountPath, docstore.Data{
			"uid":          id.UID,
			"email":        email,
			"passwordHash": string(hash),
			"createdAt":    docstore.ServerTimestamp,
		}); err != nil {
			return err
		}
		return tx.Set(docstore.Doc(identitiesCollection, id.UID), docstore.Data{
			"email":       email,
			"displayName": "",
			"photoURL":    "",
		})
	})
	if err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (d *StoreDirectory) VerifyPassword(ctx context.Context, email, password string) (Identity, error) {
	account, err := d.store.Get(ctx, docstore.Doc(accountsCollection, emailKey(email)))
	if err != nil {
		return Identity{}, err
	}
	if !account.Exists {
		return Identity{}, ErrInvalidCredentials
	}
	err = bcrypt.CompareHashAndPassword([]byte(account.Data.String("passwordHash")), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, fmt.Errorf("compare password: %w", err)
	}
	return d.Lookup(ctx, account.Data.String("uid"))
}

func (d *StoreDirectory) UpdateDisplayFields(ctx context.Context, uid string, fields DisplayFields) error {
	update := docstore.Data{}
	if fields.DisplayName != nil {
		update["displayName"] = *fields.DisplayName
	}
	if fields.PhotoURL != nil {
		update["photoURL"] = *fields.PhotoURL
	}
	if len(update) == 0 {
		return nil
	}
	path := docstore.Doc(identitiesCollection, uid)
	return d.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(path)
		if err != nil {
			return err
		}
		if !snap.Exists {
			return ErrUserNotFound
		}
		return tx.Update(path, update)
	})
}

func (d *StoreDirectory) Lookup(ctx context.Context, uid string) (Identity, error) {
	if uid == "" {
		return Identity{}, ErrUserNotFound
	}
	snap, err := d.store.Get(ctx, docstore.Doc(identitiesCollection, uid))
	if err != nil {
		return Identity{}, err
	}
	if !snap.Exists {
		return Identity{}, ErrUserNotFound
	}
	return Identity{
		UID:         uid,
		Email:       snap.Data.String("email"),
		DisplayName: snap.Data.String("displayName"),
		PhotoURL:    snap.Data.String("photoURL"),
	}, nil
}

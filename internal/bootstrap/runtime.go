// Package bootstrap assembles the backends selected by configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"keepto/internal/app"
	"keepto/internal/auth"
	"keepto/internal/cache"
	"keepto/internal/changefeed"
	"keepto/internal/config"
	"keepto/internal/docstore"
	"keepto/internal/docstore/firestore"
	"keepto/internal/docstore/memstore"
	"keepto/internal/docstore/sqlstore"
	"keepto/internal/firebaseapp"
	"keepto/internal/observability"
	"keepto/internal/upload"
)

// Runtime holds the process-wide backends.
type Runtime struct {
	Store     docstore.Store
	Directory auth.Directory
	Uploader  upload.Uploader
	Redis     *redis.Client
	Firebase  *firebase.App
	Services  *app.Services

	// Verifier accepts Firebase ID tokens when auth is delegated to Firebase.
	Verifier auth.TokenVerifier

	closers []func() error
	logger  *slog.Logger
}

// InitRuntime connects every backend cfg selects. On error, whatever was
// opened is closed again.
func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rt *Runtime, err error) {
	rt = &Runtime{logger: observability.Component(logger, "bootstrap")}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	if cfg.StoreBackend == "firestore" || cfg.AuthBackend == "firebase" || cfg.UploadBackend == "storage" {
		rt.Firebase, err = firebaseapp.New(ctx, firebaseapp.Config{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			StorageBucket:   cfg.StorageBucket,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Changefeed == "redis" || cfg.RedisURL != "" {
		rdb, rerr := cache.Connect(ctx, cfg.RedisURL, logger)
		switch {
		case rerr == nil:
			rt.Redis = rdb
			rt.closers = append(rt.closers, rdb.Close)
		case cfg.StoreBackend == "sql" && cfg.Changefeed == "redis":
			return nil, rerr
		default:
			rt.logger.Warn("continuing without redis, rate limits are off", slog.String("error", rerr.Error()))
		}
	}

	if rt.Store, err = rt.openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if rt.Directory, err = rt.openDirectory(ctx, cfg); err != nil {
		return nil, err
	}
	if rt.Uploader, err = rt.openUploader(ctx, cfg); err != nil {
		return nil, err
	}

	rt.Services = app.NewServices(rt.Store, rt.Directory, rt.Uploader, logger)
	rt.logger.Info("runtime ready",
		slog.String("store", cfg.StoreBackend),
		slog.String("auth", cfg.AuthBackend),
		slog.String("upload", cfg.UploadBackend),
	)
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (docstore.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return memstore.New(), nil
	case "firestore":
		s, err := firestore.New(ctx, rt.Firebase, logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s.Close)
		return s, nil
	case "sql":
		dsn := cfg.DSN()
		if cfg.DBDriver == "sqlite" {
			dsn = cfg.SQLitePath
		}
		db, err := sqlstore.Open(sqlstore.OpenConfig{
			Driver:  cfg.DBDriver,
			DSN:     dsn,
			Migrate: true,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			rt.closers = append(rt.closers, sqlDB.Close)
		}

		feed, err := rt.openFeed(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, feed.Close)
		return sqlstore.New(db, feed, sqlstore.WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func (rt *Runtime) openFeed(ctx context.Context, cfg *config.Config, logger *slog.Logger) (changefeed.Feed, error) {
	switch cfg.Changefeed {
	case "redis":
		if rt.Redis == nil {
			return nil, errors.New("redis change feed selected but redis is unavailable")
		}
		return changefeed.NewRedis(ctx, rt.Redis, logger)
	case "nats":
		return changefeed.NewNATS(changefeed.NATSConfig{URL: cfg.NATSURL, ClientName: cfg.ServiceName}, logger)
	default:
		return changefeed.NewLocal(logger), nil
	}
}

func (rt *Runtime) openDirectory(ctx context.Context, cfg *config.Config) (auth.Directory, error) {
	if cfg.AuthBackend == "firebase" {
		dir, err := auth.NewFirebaseDirectory(ctx, rt.Firebase, cfg.FirebaseAPIKey)
		if err != nil {
			return nil, err
		}
		rt.Verifier = dir
		return dir, nil
	}
	return auth.NewStoreDirectory(rt.Store, bcrypt.DefaultCost), nil
}

func (rt *Runtime) openUploader(ctx context.Context, cfg *config.Config) (upload.Uploader, error) {
	var next upload.Uploader
	switch cfg.UploadBackend {
	case "cloudinary":
		next = upload.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryUploadPreset)
	case "storage":
		s, err := upload.NewStorage(ctx, cfg.StorageBucket, "uploads/", firebaseapp.Config{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
		}.ClientOptions()...)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s.Close)
		next = s
	default:
		return upload.Disabled{}, nil
	}
	return upload.Validating{Next: next, MaxBytes: cfg.ImageMaxBytes(), Backend: cfg.UploadBackend}, nil
}

// Close releases the backends in reverse order of opening.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

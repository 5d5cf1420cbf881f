package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds all configuration for the application.
type Config struct {
	Env            string `mapstructure:"APP_ENV"`
	Port           string `mapstructure:"PORT"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	JWTTTLHours    int    `mapstructure:"JWT_TTL_HOURS"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	// Document store: memory, sql or firestore.
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	DBDriver     string `mapstructure:"DB_DRIVER"`
	DBHost       string `mapstructure:"DB_HOST"`
	DBPort       string `mapstructure:"DB_PORT"`
	DBUser       string `mapstructure:"DB_USER"`
	DBPassword   string `mapstructure:"DB_PASSWORD"`
	DBName       string `mapstructure:"DB_NAME"`
	DBSSLMode    string `mapstructure:"DB_SSLMODE"`
	SQLitePath   string `mapstructure:"SQLITE_PATH"`

	// Change feed for the sql store: local, redis or nats.
	Changefeed string `mapstructure:"CHANGEFEED"`
	RedisURL   string `mapstructure:"REDIS_URL"`
	NATSURL    string `mapstructure:"NATS_URL"`

	// Auth: store or firebase.
	AuthBackend             string `mapstructure:"AUTH_BACKEND"`
	FirebaseProjectID       string `mapstructure:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseAPIKey          string `mapstructure:"FIREBASE_API_KEY"`

	// Uploads: none, cloudinary or storage.
	UploadBackend          string `mapstructure:"UPLOAD_BACKEND"`
	CloudinaryCloudName    string `mapstructure:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryUploadPreset string `mapstructure:"CLOUDINARY_UPLOAD_PRESET"`
	StorageBucket          string `mapstructure:"STORAGE_BUCKET"`
	ImageMaxUploadMB       int    `mapstructure:"IMAGE_MAX_UPLOAD_MB"`

	PostRateLimit         int `mapstructure:"POST_RATE_LIMIT"`
	PostRateWindowSeconds int `mapstructure:"POST_RATE_WINDOW_SECONDS"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName     string  `mapstructure:"OTEL_SERVICE_NAME"`
	TracingSample   float64 `mapstructure:"TRACING_SAMPLE_RATE"`
}

var keys = []string{
	"APP_ENV", "PORT", "JWT_SECRET", "JWT_TTL_HOURS", "ALLOWED_ORIGINS",
	"STORE_BACKEND", "DB_DRIVER", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE", "SQLITE_PATH",
	"CHANGEFEED", "REDIS_URL", "NATS_URL",
	"AUTH_BACKEND", "FIREBASE_PROJECT_ID", "FIREBASE_CREDENTIALS_FILE", "FIREBASE_API_KEY",
	"UPLOAD_BACKEND", "CLOUDINARY_CLOUD_NAME", "CLOUDINARY_UPLOAD_PRESET", "STORAGE_BUCKET", "IMAGE_MAX_UPLOAD_MB",
	"POST_RATE_LIMIT", "POST_RATE_WINDOW_SECONDS",
	"TRACING_ENABLED", "TRACING_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME", "TRACING_SAMPLE_RATE",
}

// LoadConfig reads config.yml (and config.<APP_ENV>.yml outside development),
// a .env file when present, and the environment, in increasing precedence.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	env := v.GetString("APP_ENV")
	if env != "" && env != "development" && env != "test" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		slog.Info("loaded profile-specific configuration", "file", "config."+env+".yml")
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8375")
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_TTL_HOURS", 24*7)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:8081,http://localhost:19006")
	v.SetDefault("STORE_BACKEND", "memory")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "keepto")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("SQLITE_PATH", "keepto.db")
	v.SetDefault("CHANGEFEED", "local")
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("AUTH_BACKEND", "store")
	v.SetDefault("UPLOAD_BACKEND", "none")
	v.SetDefault("IMAGE_MAX_UPLOAD_MB", 10)
	v.SetDefault("POST_RATE_LIMIT", 10)
	v.SetDefault("POST_RATE_WINDOW_SECONDS", 60)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTEL_SERVICE_NAME", "keepto")
	v.SetDefault("TRACING_SAMPLE_RATE", 1.0)
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.Changefeed = strings.ToLower(strings.TrimSpace(c.Changefeed))
	c.AuthBackend = strings.ToLower(strings.TrimSpace(c.AuthBackend))
	c.UploadBackend = strings.ToLower(strings.TrimSpace(c.UploadBackend))
}

// IsProduction reports whether the app runs with production strictness.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// JWTTTL returns the session token lifetime.
func (c *Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLHours) * time.Hour
}

// PostRateWindow returns the post creation rate-limit window.
func (c *Config) PostRateWindow() time.Duration {
	return time.Duration(c.PostRateWindowSeconds) * time.Second
}

// ImageMaxBytes returns the upload size limit in bytes.
func (c *Config) ImageMaxBytes() int64 {
	return int64(c.ImageMaxUploadMB) << 20
}

// Origins returns ALLOWED_ORIGINS as a trimmed list.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// DSN returns the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// Validate checks that the configuration is usable for the selected backends.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	switch c.StoreBackend {
	case "memory":
	case "sql":
		if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
			return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
		}
		switch c.Changefeed {
		case "local", "redis", "nats":
		default:
			return fmt.Errorf("CHANGEFEED must be local, redis or nats, got %q", c.Changefeed)
		}
	case "firestore":
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required for the firestore store")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be memory, sql or firestore, got %q", c.StoreBackend)
	}

	switch c.AuthBackend {
	case "store":
	case "firebase":
		if c.FirebaseProjectID == "" || c.FirebaseAPIKey == "" {
			return errors.New("FIREBASE_PROJECT_ID and FIREBASE_API_KEY are required for firebase auth")
		}
	default:
		return fmt.Errorf("AUTH_BACKEND must be store or firebase, got %q", c.AuthBackend)
	}

	switch c.UploadBackend {
	case "none":
	case "cloudinary":
		if c.CloudinaryCloudName == "" || c.CloudinaryUploadPreset == "" {
			return errors.New("CLOUDINARY_CLOUD_NAME and CLOUDINARY_UPLOAD_PRESET are required for cloudinary uploads")
		}
	case "storage":
		if c.StorageBucket == "" {
			return errors.New("STORAGE_BUCKET is required for storage uploads")
		}
	default:
		return fmt.Errorf("UPLOAD_BACKEND must be none, cloudinary or storage, got %q", c.UploadBackend)
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.StoreBackend == "memory" {
			return errors.New("STORE_BACKEND=memory is not allowed in production")
		}
		if c.StoreBackend == "sql" && c.DBDriver == "postgres" {
			if c.DBPassword == "password" || c.DBPassword == "" {
				return errors.New("a strong DB_PASSWORD is required in production")
			}
			if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
				return errors.New("DB_SSLMODE must enable SSL in production")
			}
		}
		if c.AllowedOrigins == "*" {
			slog.Warn("ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		slog.Warn("JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

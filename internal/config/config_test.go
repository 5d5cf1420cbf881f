package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:              "development",
		Port:             "8375",
		JWTSecret:        "secure-secret-at-least-32-chars-long",
		StoreBackend:     "memory",
		DBDriver:         "postgres",
		DBPassword:       "secure-password",
		DBSSLMode:        "require",
		Changefeed:       "local",
		AuthBackend:      "store",
		UploadBackend:    "none",
		ImageMaxUploadMB: 10,
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"Defaults", func(c *Config) {}, false},
		{"Missing Port", func(c *Config) { c.Port = "" }, true},
		{"Unknown Store", func(c *Config) { c.StoreBackend = "mongo" }, true},
		{"SQL With Sqlite", func(c *Config) { c.StoreBackend = "sql"; c.DBDriver = "sqlite" }, false},
		{"SQL Unknown Changefeed", func(c *Config) { c.StoreBackend = "sql"; c.Changefeed = "kafka" }, true},
		{"Firestore Without Project", func(c *Config) { c.StoreBackend = "firestore" }, true},
		{"Firebase Auth Without Key", func(c *Config) { c.AuthBackend = "firebase"; c.FirebaseProjectID = "p" }, true},
		{"Cloudinary Without Preset", func(c *Config) { c.UploadBackend = "cloudinary"; c.CloudinaryCloudName = "keepto" }, true},
		{"Storage With Bucket", func(c *Config) { c.UploadBackend = "storage"; c.StorageBucket = "keepto.appspot.com" }, false},
		{"Production Default Secret", func(c *Config) { c.Env = "production"; c.StoreBackend = "sql"; c.JWTSecret = defaultJWTSecret }, true},
		{"Production Memory Store", func(c *Config) { c.Env = "production" }, true},
		{"Production SQL Without SSL", func(c *Config) { c.Env = "prod"; c.StoreBackend = "sql"; c.DBSSLMode = "disable" }, true},
		{"Production SQL", func(c *Config) { c.Env = "production"; c.StoreBackend = "sql" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("STORE_BACKEND", " SQL ")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("POST_RATE_LIMIT", "3")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, "sql", c.StoreBackend)
	assert.Equal(t, 3, c.PostRateLimit)
	assert.Equal(t, "8375", c.Port)
	assert.Equal(t, int64(10<<20), c.ImageMaxBytes())
}

func TestOrigins(t *testing.T) {
	t.Parallel()
	c := &Config{AllowedOrigins: " http://a , ,http://b"}
	assert.Equal(t, []string{"http://a", "http://b"}, c.Origins())
}

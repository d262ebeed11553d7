package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/wikigraph/internal/index"
	"github.com/starford/wikigraph/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Transport modes.
const (
	ModeHTTP  = "http"
	ModeStdio = "stdio"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Wiki   WikiConfig        `yaml:"wiki"`
	Watch  WatchConfig       `yaml:"watch"`
	Sync   SyncConfig        `yaml:"sync"`
	Search SearchConfig      `yaml:"search"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Wiki.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	Mode     string     `yaml:"mode"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = ModeHTTP
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.In(ModeHTTP, ModeStdio)),
	); err != nil {
		return err
	}
	if c.Mode == ModeStdio {
		return nil
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// WikiConfig locates the wiki directory and its page extension.
type WikiConfig struct {
	Path      string `yaml:"path"`
	Extension string `yaml:"extension"`
}

// Validate validates the wiki configuration.
func (c *WikiConfig) Validate() error {
	if c.Extension == "" {
		c.Extension = storage.DefaultExtension
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Extension, validation.By(func(v interface{}) error {
			ext := strings.TrimPrefix(v.(string), ".")
			if ext == "" || strings.ContainsAny(ext, "/. ") {
				return errors.New("must be a simple file extension such as .wiki")
			}
			return nil
		})),
	)
}

// WatchConfig tunes the filesystem change detector.
type WatchConfig struct {
	Debounce      time.Duration `yaml:"debounce"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Millisecond), validation.Max(time.Minute)),
		validation.Field(&c.RetryAttempts, validation.Min(1), validation.Max(20)),
		validation.Field(&c.RetryBackoff, validation.Min(time.Millisecond)),
	)
}

// Index converts the section to the watcher's configuration.
func (c *WatchConfig) Index() index.WatchConfig {
	return index.WatchConfig{
		Debounce:      c.Debounce,
		RetryAttempts: c.RetryAttempts,
		RetryBackoff:  c.RetryBackoff,
	}
}

// SyncConfig holds synchronization worker settings.
type SyncConfig struct {
	Workers int `yaml:"workers"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(64)),
	)
}

// SearchConfig holds the SQLite search projection location. An empty path
// keeps the projection in memory.
type SearchConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	watch := index.DefaultWatchConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			Mode:     ModeHTTP,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Wiki: WikiConfig{
			Path:      "./wiki",
			Extension: storage.DefaultExtension,
		},
		Watch: WatchConfig{
			Debounce:      watch.Debounce,
			RetryAttempts: watch.RetryAttempts,
			RetryBackoff:  watch.RetryBackoff,
		},
		Sync: SyncConfig{
			Workers: 4,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

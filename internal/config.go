package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Dictionary DictionaryConfig  `yaml:"dictionary"`
	Scan       WindowConfig      `yaml:"scan"`
	Recommit   WindowConfig      `yaml:"recommit"`
	Planner    PlannerConfig     `yaml:"planner"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Dictionary.Validate(); err != nil {
		return err
	}
	if err := c.Scan.Validate(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if err := c.Recommit.Validate(); err != nil {
		return fmt.Errorf("recommit: %w", err)
	}
	if err := c.Planner.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
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

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// DictionaryConfig selects where tag records live.
//
// With an empty CachePath the dictionary is persisted in the SQLite tags
// table. Otherwise it is read from and written to a YAML file relative to
// CacheDir, and Watch reloads it whenever the file changes on disk.
type DictionaryConfig struct {
	CacheDir  string `yaml:"cache_dir"`
	CachePath string `yaml:"cache_path"`
	Watch     bool   `yaml:"watch"`
	// ResolveCacheSize bounds the token resolution LRU.
	ResolveCacheSize int `yaml:"resolve_cache_size"`
}

// UsesFileCache reports whether the YAML cache is the persister.
func (c *DictionaryConfig) UsesFileCache() bool {
	return c.CachePath != ""
}

// Validate validates the dictionary configuration.
func (c *DictionaryConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ResolveCacheSize, validation.Min(0)),
	); err != nil {
		return err
	}
	if c.Watch && !c.UsesFileCache() {
		return fmt.Errorf("dictionary: watch requires cache_path")
	}
	if c.UsesFileCache() && c.CacheDir == "" {
		return fmt.Errorf("dictionary: cache_path requires cache_dir")
	}
	return nil
}

// WindowConfig sizes the windows of a paginated pass.
type WindowConfig struct {
	WindowSize int `yaml:"window_size"`
}

// Validate validates the window configuration.
func (c *WindowConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.WindowSize, validation.Required, validation.Min(1), validation.Max(100000)),
	)
}

// PlannerConfig holds index planning defaults.
type PlannerConfig struct {
	MinimumCount int  `yaml:"minimum_count"`
	Background   bool `yaml:"background"`
}

// Validate validates the planner configuration.
func (c *PlannerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MinimumCount, validation.Min(0)),
	)
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
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./tagdex.db",
		},
		Dictionary: DictionaryConfig{
			CacheDir:         ".",
			ResolveCacheSize: 4096,
		},
		Scan:     WindowConfig{WindowSize: 500},
		Recommit: WindowConfig{WindowSize: 100},
		Planner: PlannerConfig{
			MinimumCount: 100,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

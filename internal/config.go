package internal

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/zettelstack/internal/address"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Site       SiteConfig        `yaml:"site"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Auth       AuthConfig        `yaml:"auth"`
	Navigation NavigationConfig  `yaml:"navigation"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Site.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Navigation.Validate()
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

// SiteConfig locates the generated note site.
//
// Path is the directory of note pages served and indexed by serve. Origin,
// when set, is the base URL viewer sessions load notes from; mcp and open
// fall back to reading Path directly when it is empty.
type SiteConfig struct {
	Path   string `yaml:"path"`
	Origin string `yaml:"origin"`
}

// Validate validates the site configuration.
func (c *SiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Origin, validation.By(httpURL)),
	)
}

// OriginURL returns the parsed origin, or a local placeholder when unset.
func (c *SiteConfig) OriginURL() *url.URL {
	if c.Origin == "" {
		return &url.URL{Scheme: "http", Host: "localhost", Path: "/"}
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return &url.URL{Scheme: "http", Host: "localhost", Path: "/"}
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u
}

func httpURL(v interface{}) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL")
	}
	return nil
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

// NavigationConfig tunes viewer sessions.
type NavigationConfig struct {
	// QueryParam is the repeated address key holding the open notes.
	QueryParam   string        `yaml:"query_param"`
	Tick         time.Duration `yaml:"tick"`
	Animation    time.Duration `yaml:"animation"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// Parallel caps concurrent requests while restoring a stack. 0 is unbounded.
	Parallel int `yaml:"parallel"`
}

// Validate validates the navigation configuration.
func (c *NavigationConfig) Validate() error {
	if c.QueryParam == "" {
		c.QueryParam = address.DefaultParam
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.QueryParam, validation.Required, validation.Length(1, 64)),
		validation.Field(&c.Tick, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Animation, validation.Min(time.Duration(0))),
		validation.Field(&c.FetchTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.Parallel, validation.Min(0)),
	)
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
		Site: SiteConfig{
			Path: "./site",
		},
		SQLite: SQLiteConfig{
			Path: "./zettelstack.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Navigation: NavigationConfig{
			QueryParam:   address.DefaultParam,
			Tick:         10 * time.Millisecond,
			Animation:    200 * time.Millisecond,
			FetchTimeout: 30 * time.Second,
		},
	}
}

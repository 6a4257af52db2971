package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"gopkg.in/yaml.v3"
)

const configFileEnvVar = "CONFIG_FILE"

type Config interface {
	EnvConfig
	OIDCConfig
	SessionConfig
	Validate() error
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
}

// File mirrors the optional YAML config file. Every value can be overridden by
// its environment variable.
type File struct {
	Server struct {
		Port    string `yaml:"port"`
		AppName string `yaml:"app_name"`
		Env     string `yaml:"env"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`

	OIDC struct {
		ProviderURL           string   `yaml:"provider_url"`
		Realm                 string   `yaml:"realm"`
		ClientID              string   `yaml:"client_id"`
		ClientSecret          string   `yaml:"client_secret"`
		RedirectURL           string   `yaml:"redirect_url"`
		PostLogoutRedirectURL string   `yaml:"post_logout_redirect_url"`
		Scopes                []string `yaml:"scopes"`
		RefreshThreshold      string   `yaml:"refresh_threshold"`
		RequestTimeout        string   `yaml:"request_timeout"`
	} `yaml:"oidc"`

	Session struct {
		Secret       string `yaml:"secret"`
		Store        string `yaml:"store"`
		DSN          string `yaml:"dsn"`
		RedisAddr    string `yaml:"redis_addr"`
		MaxAge       string `yaml:"max_age"`
		CookieSecure string `yaml:"cookie_secure"`
	} `yaml:"session"`
}

type mainConfig struct {
	EnvVars
	OIDC
	Session
}

// New returns a Config backed only by environment variables and defaults.
func New() Config {
	return newFromFile(&File{})
}

// Load reads the YAML file at path (or $CONFIG_FILE when path is empty) and
// returns a Config where environment variables take precedence over the file.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(configFileEnvVar)
	}
	if path == "" {
		return New(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[config Load] read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("[config Load] parse %s: %w", path, err)
	}
	return newFromFile(&f), nil
}

func newFromFile(f *File) Config {
	return mainConfig{
		EnvVars: EnvVars{file: f},
		OIDC:    OIDC{file: f},
		Session: Session{file: f},
	}
}

// Validate checks the values that cannot fall back to a sensible default.
func (c mainConfig) Validate() error {
	if c.GetClientID() == "" {
		return errors.Wrapf(errors.ErrInvalidConfig, "%s is required", clientIDEnvVar)
	}
	if c.GetProviderURL() == "" {
		return errors.Wrapf(errors.ErrInvalidConfig, "%s is required", providerURLEnvVar)
	}
	for envVar, value := range map[string]string{
		refreshThresholdEnvVar: lookup(refreshThresholdEnvVar, c.OIDC.file.OIDC.RefreshThreshold, ""),
		requestTimeoutEnvVar:   lookup(requestTimeoutEnvVar, c.OIDC.file.OIDC.RequestTimeout, ""),
		sessionMaxAgeEnvVar:    lookup(sessionMaxAgeEnvVar, c.Session.file.Session.MaxAge, ""),
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return errors.Wrapf(errors.ErrInvalidConfig, "%s: %v", envVar, err)
		}
	}
	switch c.GetSessionStore() {
	case StoreMemory, StoreSQLite, StoreMySQL, StoreRedis:
	default:
		return errors.Wrapf(errors.ErrInvalidConfig, "%s: unknown store %q", sessionStoreEnvVar, c.GetSessionStore())
	}
	return nil
}

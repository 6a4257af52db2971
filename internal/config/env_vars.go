package config

import (
	"os"
	"strings"
	"time"
)

const (
	portEnvVar    = "PORT"
	appNameVar    = "APP_NAME"
	envEnvVar     = "ENV"
	baseURLEnvVar = "BASE_URL"
)

type EnvVars struct {
	file *File
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := lookup(portEnvVar, e.file.Server.Port, "8000")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return lookup(appNameVar, e.file.Server.AppName, "OIDC Test App")
}

func (e EnvVars) GetEnv() string {
	return strings.ToUpper(lookup(envEnvVar, e.file.Server.Env, "DEV"))
}

// GetBaseURL returns the externally visible URL of this application (e.g. "http://localhost:8000").
// The callback and post-logout URLs default to paths below it.
func (e EnvVars) GetBaseURL() string {
	return strings.TrimSuffix(lookup(baseURLEnvVar, e.file.Server.BaseURL, "http://localhost:8000"), "/")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// lookup resolves a setting: environment variable, then file value, then default.
func lookup(envVar, fileValue, defaultValue string) string {
	if fileValue != "" {
		defaultValue = fileValue
	}
	return GetEnv(envVar, defaultValue)
}

func lookupDuration(envVar, fileValue string, defaultValue time.Duration) time.Duration {
	value := lookup(envVar, fileValue, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func lookupBool(envVar, fileValue string, defaultValue bool) bool {
	switch strings.ToLower(lookup(envVar, fileValue, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

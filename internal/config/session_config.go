package config

import (
	"strings"
	"time"
)

const (
	sessionSecretEnvVar = "SESSION_SECRET"
	sessionStoreEnvVar  = "SESSION_STORE"
	sessionDSNEnvVar    = "SESSION_DSN"
	redisAddrEnvVar     = "REDIS_ADDR"
	sessionMaxAgeEnvVar = "SESSION_MAX_AGE"
	cookieSecureEnvVar  = "COOKIE_SECURE"
)

// Session store backends
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
)

type SessionConfig interface {
	GetSessionSecret() string
	GetSessionStore() string
	GetSessionDSN() string
	GetRedisAddr() string
	GetSessionMaxAge() time.Duration
	GetCookieSecure() bool
}

type Session struct {
	file *File
}

var _ SessionConfig = Session{}

func (s Session) GetSessionSecret() string {
	return lookup(sessionSecretEnvVar, s.file.Session.Secret, "test-secret-change-in-production")
}

func (s Session) GetSessionStore() string {
	return strings.ToLower(lookup(sessionStoreEnvVar, s.file.Session.Store, StoreMemory))
}

// GetSessionDSN returns the data source name for the sql stores.
func (s Session) GetSessionDSN() string {
	defaultDSN := ""
	if s.GetSessionStore() == StoreSQLite {
		defaultDSN = "file:sessions.db"
	}
	return lookup(sessionDSNEnvVar, s.file.Session.DSN, defaultDSN)
}

func (s Session) GetRedisAddr() string {
	return lookup(redisAddrEnvVar, s.file.Session.RedisAddr, "localhost:6379")
}

func (s Session) GetSessionMaxAge() time.Duration {
	return lookupDuration(sessionMaxAgeEnvVar, s.file.Session.MaxAge, 24*time.Hour)
}

func (s Session) GetCookieSecure() bool {
	return lookupBool(cookieSecureEnvVar, s.file.Session.CookieSecure, false)
}

// Package config reads the service configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-focus/domain"
)

const (
	BackendRedis = "redis"
	BackendTable = "table"
)

type Config struct {
	Debug      bool
	ListenAddr string

	StorageBackend          string
	RedisConnectionString   string
	StorageConnectionString string
	StateTable              string
	Namespace               string
	CacheTTL                time.Duration

	Timer domain.TimerSettings

	NotifyChannel        string
	NotifyQueue          string
	NotifyWorkers        int
	NotifyBuffer         int
	NotifyTimeout        time.Duration
	NotifyHandoffTimeout time.Duration
	AudioBell            bool

	DeduperTTL time.Duration

	Auth0Domain     string
	Auth0Audience   string
	LocalAuthMode   string
	LocalAuthSecret string
	JWKSCacheTTL    time.Duration

	TracingEnabled bool
}

// HasRedis reports whether a Redis connection is configured.
func (c Config) HasRedis() bool { return c.RedisConnectionString != "" }

// AuthEnabled reports whether requests must carry a bearer token.
func (c Config) AuthEnabled() bool { return c.LocalAuthMode != "" || c.Auth0Domain != "" }

// env collects parse errors so Load can report all of them at once.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) envInt(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (e *env) envDur(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func (e *env) envBool(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}

func (e *env) check(ok bool, format string, args ...any) {
	if !ok {
		e.errs = append(e.errs, fmt.Errorf(format, args...))
	}
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	e := &env{lookup: lookup}
	c := Config{
		Debug:      e.envBool("DEBUG", false),
		ListenAddr: e.str("LISTEN_ADDR", ":8080"),

		StorageBackend:          strings.ToLower(e.str("STORAGE_BACKEND", BackendRedis)),
		RedisConnectionString:   e.str("REDIS_CONNECTION_STRING", ""),
		StorageConnectionString: e.str("STORAGE_CONNECTION_STRING", ""),
		StateTable:              e.str("STATE_TABLE", ""),
		Namespace:               e.str("STORAGE_NAMESPACE", "focus"),
		CacheTTL:                e.envDur("CACHE_TTL", 0),

		Timer: domain.TimerSettings{
			Work:         e.envDur("WORK_DURATION", domain.DefaultWorkDuration),
			Break:        e.envDur("BREAK_DURATION", domain.DefaultBreakDuration),
			AutoContinue: e.envBool("TIMER_AUTO_CONTINUE", false),
		},

		NotifyChannel:        e.str("NOTIFY_CHANNEL", ""),
		NotifyQueue:          e.str("NOTIFY_QUEUE", ""),
		NotifyWorkers:        e.envInt("NOTIFY_WORKERS", 2),
		NotifyBuffer:         e.envInt("NOTIFY_BUFFER", 16),
		NotifyTimeout:        e.envDur("NOTIFY_TIMEOUT", 5*time.Second),
		NotifyHandoffTimeout: e.envDur("NOTIFY_HANDOFF_TIMEOUT", 15*time.Millisecond),
		AudioBell:            e.envBool("AUDIO_BELL", true),

		DeduperTTL: e.envDur("DEDUPER_TTL", 24*time.Hour),

		Auth0Domain:     e.str("AUTH0_DOMAIN", ""),
		Auth0Audience:   e.str("AUTH0_AUDIENCE", ""),
		LocalAuthMode:   strings.ToLower(e.str("LOCAL_AUTH_MODE", "")),
		LocalAuthSecret: e.str("LOCAL_AUTH_SHARED_SECRET", ""),
		JWKSCacheTTL:    e.envDur("JWKS_CACHE_TTL", 15*time.Minute),

		TracingEnabled: e.envBool("TRACING_ENABLED", false),
	}

	switch c.StorageBackend {
	case BackendRedis:
		e.check(c.HasRedis(), "REDIS_CONNECTION_STRING is required for the redis backend")
	case BackendTable:
		e.check(c.StorageConnectionString != "" && c.StateTable != "", "STORAGE_CONNECTION_STRING and STATE_TABLE are required for the table backend")
	default:
		e.check(false, "unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}
	e.check(c.CacheTTL >= 0, "CACHE_TTL must not be negative")
	e.check(c.CacheTTL == 0 || c.HasRedis(), "CACHE_TTL requires REDIS_CONNECTION_STRING")

	for _, d := range []struct {
		key string
		val time.Duration
	}{{"WORK_DURATION", c.Timer.Work}, {"BREAK_DURATION", c.Timer.Break}} {
		e.check(d.val >= time.Second && d.val <= domain.MaxDuration && d.val%time.Second == 0,
			"%s must be whole seconds between 1s and %v", d.key, domain.MaxDuration)
	}

	e.check(c.NotifyChannel == "" || c.HasRedis(), "NOTIFY_CHANNEL requires REDIS_CONNECTION_STRING")
	e.check(c.NotifyQueue == "" || c.StorageConnectionString != "", "NOTIFY_QUEUE requires STORAGE_CONNECTION_STRING")
	e.check(c.NotifyWorkers > 0, "NOTIFY_WORKERS must be greater than zero")
	e.check(c.NotifyBuffer >= 0, "NOTIFY_BUFFER must not be negative")
	e.check(c.NotifyTimeout > 0, "NOTIFY_TIMEOUT must be greater than zero")
	e.check(c.DeduperTTL > 0, "DEDUPER_TTL must be greater than zero")
	e.check(c.JWKSCacheTTL >= 0, "JWKS_CACHE_TTL must not be negative")

	switch c.LocalAuthMode {
	case "":
		e.check((c.Auth0Domain == "") == (c.Auth0Audience == ""), "AUTH0_DOMAIN and AUTH0_AUDIENCE must be set together")
	case "hs256":
		e.check(c.LocalAuthSecret != "", "LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
	default:
		e.check(false, "unsupported LOCAL_AUTH_MODE %q", c.LocalAuthMode)
	}

	if port := e.str("FUNCTIONS_CUSTOMHANDLER_PORT", ""); port != "" {
		if _, ok := lookup("LISTEN_ADDR"); !ok {
			c.ListenAddr = ":" + port
		}
	}

	return c, errors.Join(e.errs...)
}

// RedisOptions parses either a redis:// URL or the "host:port,password=...,ssl=true"
// form used by Azure Cache for Redis.
func RedisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "=") {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

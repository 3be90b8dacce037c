package cabinet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
)

// Store kinds understood by NewFromConfig.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config is the file/env representation of a Client. Durations accept Go
// duration strings ("30s", "2m").
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	RefreshPath    string        `mapstructure:"refresh_path"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ExpirySkew     time.Duration `mapstructure:"expiry_skew"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
	RefreshRetries int           `mapstructure:"refresh_retries"`
	IdentityHeader string        `mapstructure:"identity_header"`
	IdentityEnv    string        `mapstructure:"identity_env"`
	Store          struct {
		Kind        string        `mapstructure:"kind"`
		Path        string        `mapstructure:"path"`
		RedisAddr   string        `mapstructure:"redis_addr"`
		RedisPrefix string        `mapstructure:"redis_prefix"`
		Session     string        `mapstructure:"session"`
		TTL         time.Duration `mapstructure:"ttl"`
	} `mapstructure:"store"`
	OAuth2 struct {
		TokenURL     string `mapstructure:"token_url"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"oauth2"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// LoadConfig reads path (any format viper understands; empty means defaults
// only) and overlays CABINET_* environment variables, e.g.
// CABINET_STORE_KIND=redis.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("base_url", "")
	v.SetDefault("refresh_path", DefaultRefreshPath)
	v.SetDefault("timeout", "30s")
	v.SetDefault("expiry_skew", DefaultExpirySkew.String())
	v.SetDefault("refresh_timeout", "15s")
	v.SetDefault("refresh_retries", 2)
	v.SetDefault("identity_header", DefaultIdentityHeader)
	v.SetDefault("identity_env", "")
	v.SetDefault("store.kind", StoreMemory)
	v.SetDefault("store.path", "")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_prefix", "cabinet")
	v.SetDefault("store.session", "default")
	v.SetDefault("store.ttl", "0s")
	v.SetDefault("oauth2.token_url", "")
	v.SetDefault("oauth2.client_id", "")
	v.SetDefault("oauth2.client_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.enabled", false)

	v.SetEnvPrefix("CABINET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// NewFromConfig builds a Client from cfg. extra options are applied last and
// override anything derived from cfg.
func NewFromConfig(cfg Config, extra ...Option) (*Client, error) {
	store, err := cfg.tokenStore()
	if err != nil {
		return nil, err
	}

	var opts []Option
	opts = append(opts,
		WithBaseURL(cfg.BaseURL),
		WithTokenStore(store),
		WithRefreshRetries(cfg.RefreshRetries),
	)
	if cfg.IdentityHeader != "" {
		opts = append(opts, WithIdentityHeader(cfg.IdentityHeader))
	}
	if cfg.RefreshPath != "" {
		opts = append(opts, WithRefreshPath(cfg.RefreshPath))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	if cfg.ExpirySkew > 0 {
		opts = append(opts, WithExpirySkew(cfg.ExpirySkew))
	}
	if cfg.RefreshTimeout > 0 {
		opts = append(opts, WithRefreshTimeout(cfg.RefreshTimeout))
	}
	if cfg.IdentityEnv != "" {
		opts = append(opts, WithIdentitySource(EnvIdentity(cfg.IdentityEnv)))
	}
	if cfg.OAuth2.TokenURL != "" {
		opts = append(opts, WithRefresher(&OAuth2Refresher{
			Config: &oauth2.Config{
				ClientID:     cfg.OAuth2.ClientID,
				ClientSecret: cfg.OAuth2.ClientSecret,
				Endpoint:     oauth2.Endpoint{TokenURL: cfg.OAuth2.TokenURL},
			},
		}))
	}
	if cfg.Log.Level != "" {
		logger, err := NewLevelLogger(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Log.Level, err)
		}
		opts = append(opts, WithLogger(logger))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, WithMetrics())
	}

	client := New(append(opts, extra...)...)
	if !client.IsValid() {
		return nil, client.ValidationError()
	}
	return client, nil
}

func (cfg Config) tokenStore() (TokenStore, error) {
	switch strings.ToLower(cfg.Store.Kind) {
	case "", StoreMemory:
		return NewMemoryStore(Session{}), nil
	case StoreFile:
		if cfg.Store.Path == "" {
			return nil, errors.New("store.path is required for the file store")
		}
		return NewFileStore(cfg.Store.Path)
	case StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		return NewRedisStore(rdb, cfg.Store.RedisPrefix, cfg.Store.Session, cfg.Store.TTL), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

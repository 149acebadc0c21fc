package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/compozy/animagen/pkg/logger"
	goredis "github.com/redis/go-redis/v9"
)

const fallbackPingTimeout = 10 * time.Second

type Config struct {
	URL         string        `json:"url,omitempty"          yaml:"url,omitempty"          mapstructure:"url"`
	Addr        string        `json:"addr,omitempty"         yaml:"addr,omitempty"         mapstructure:"addr"`
	Password    string        `json:"password,omitempty"     yaml:"password,omitempty"     mapstructure:"password"`
	DB          int           `json:"db,omitempty"           yaml:"db,omitempty"           mapstructure:"db"`
	PingTimeout time.Duration `json:"ping_timeout,omitempty" yaml:"ping_timeout,omitempty" mapstructure:"ping_timeout"`
}

// NewClient builds a Redis client and verifies the server is reachable.
func NewClient(ctx context.Context, cfg *Config) (*goredis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	opt := &goredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.URL != "" {
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing Redis URL: %w", err)
		}
		opt = parsed
	}
	client := goredis.NewClient(opt)
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = fallbackPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging Redis server (timeout=%s): %w", timeout, err)
	}
	logger.FromContext(ctx).With("addr", opt.Addr, "db", opt.DB).Info("Redis connection established")
	return client, nil
}

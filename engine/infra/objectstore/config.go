package objectstore

import (
	"errors"
	"strings"
	"time"
)

const (
	DefaultURLExpiry = 24 * time.Hour
	maxURLExpiry     = 7 * 24 * time.Hour
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// URLExpiry bounds the validity of delivered links.
	URLExpiry time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("objectstore: endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return errors.New("objectstore: endpoint must be host[:port] without scheme")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("objectstore: bucket is required")
	}
	if c.URLExpiry > maxURLExpiry {
		return errors.New("objectstore: url expiry cannot exceed 7 days")
	}
	return nil
}

func (c Config) expiry() time.Duration {
	if c.URLExpiry <= 0 {
		return DefaultURLExpiry
	}
	return c.URLExpiry
}

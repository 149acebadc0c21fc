package config

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/compozy/animagen/pkg/logger"
)

// Manager holds the loaded configuration and the sources it came from.
type Manager struct {
	Service   Service
	current   atomic.Pointer[Config]
	sources   []Source
	mu        sync.Mutex
	closeOnce sync.Once
}

func NewManager(service Service) *Manager {
	if service == nil {
		service = NewService()
	}
	return &Manager{Service: service}
}

// Load loads configuration from sources and keeps them open until Close.
func (m *Manager) Load(ctx context.Context, sources ...Source) (*Config, error) {
	m.mu.Lock()
	m.sources = append([]Source(nil), sources...)
	m.mu.Unlock()

	config, err := m.Service.Load(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	m.current.Store(config)
	return config, nil
}

// Get returns the current configuration atomically.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Close releases every source.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		sources := append([]Source(nil), m.sources...)
		m.mu.Unlock()
		for _, source := range sources {
			if source == nil {
				continue
			}
			if err := source.Close(); err != nil {
				logger.FromContext(ctx).Error("failed to close configuration source", "error", err)
			}
		}
	})
	return nil
}

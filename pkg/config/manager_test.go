package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager(t *testing.T) {
	t.Run("Should expose loaded configuration", func(t *testing.T) {
		m := NewManager(nil)

		cfg, err := m.Load(t.Context())

		require.NoError(t, err)
		assert.Same(t, cfg, m.Get())
	})

	t.Run("Should report invalid sources", func(t *testing.T) {
		source := &mockSource{
			data:       map[string]any{"pipeline": map[string]any{"max_retries": -1}},
			sourceType: SourceYAML,
		}
		m := NewManager(NewService())

		_, err := m.Load(t.Context(), source)

		require.Error(t, err)
		assert.Nil(t, m.Get())
	})

	t.Run("Should close all sources", func(t *testing.T) {
		source := &mockSource{sourceType: SourceYAML}
		m := NewManager(nil)
		_, err := m.Load(t.Context(), source)
		require.NoError(t, err)

		require.NoError(t, m.Close(t.Context()))

		assert.True(t, source.closed)
	})
}

func TestContextManager(t *testing.T) {
	t.Run("Should return manager stored in context", func(t *testing.T) {
		m := NewManager(nil)
		_, err := m.Load(t.Context())
		require.NoError(t, err)
		ctx := ContextWithManager(t.Context(), m)

		assert.Same(t, m, ManagerFromContext(ctx))
		assert.Same(t, m.Get(), FromContext(ctx))
	})

	t.Run("Should fall back to defaults when context has no manager", func(t *testing.T) {
		cfg := FromContext(t.Context())

		require.NotNil(t, cfg)
		assert.NotZero(t, cfg.Pipeline.AITimeout)
	})
}

package cli

import (
	"context"
	"fmt"

	"github.com/compozy/animagen/pkg/config"
	"github.com/compozy/animagen/pkg/logger"
	"github.com/spf13/cobra"
)

// setupContext loads .env, the layered configuration and the logger, and
// returns a context carrying both.
func setupContext(ctx context.Context, cmd *cobra.Command) (context.Context, *config.Manager, error) {
	if _, err := loadEnvFile(cmd); err != nil {
		return nil, nil, err
	}
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	flags := make(map[string]any)
	extractCLIFlags(cmd, flags)

	manager := config.NewManager(config.NewService())
	cfg, err := manager.Load(ctx,
		config.NewYAMLProvider(configPath),
		config.NewCLIProvider(flags),
		config.NewEnvProvider(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	_, _, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger.SetupLogger(cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, logSource)
	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Runtime.LogLevel),
		JSON:       cfg.Runtime.LogJSON,
		AddSource:  logSource,
		Output:     cmd.ErrOrStderr(),
		TimeFormat: "15:04:05",
	})
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithManager(ctx, manager)
	log.Debug("Configuration loaded", "config_file", configPath, "environment", cfg.Runtime.Environment)
	return ctx, manager, nil
}

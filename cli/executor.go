package cli

import (
	"context"
	"fmt"

	"github.com/compozy/animagen/pkg/logger"
	"github.com/spf13/cobra"
)

// HandlerFunc runs a command once the engine is wired.
type HandlerFunc func(ctx context.Context, cmd *cobra.Command, a *app) error

// executeWithApp handles the setup shared by commands that execute pipelines:
// configuration, logging, engine wiring, the optional metrics server and
// cleanup.
func executeWithApp(cmd *cobra.Command, handler HandlerFunc, opts ...appOption) (err error) {
	ctx, manager, err := setupContext(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := manager.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	log := logger.FromContext(ctx)

	a, err := buildApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil {
			log.Warn("Failed to release resources", "error", cerr)
		}
	}()

	addr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return fmt.Errorf("failed to get metrics-addr flag: %w", err)
	}
	if addr != "" {
		shutdown, err := startMetricsServer(ctx, addr, a.monitoring, a.checks)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		a.addCleanup(shutdown)
	}
	return handler(ctx, cmd, a)
}

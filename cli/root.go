package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	return newRootCmd()
}

func newRootCmd(opts ...appOption) *cobra.Command {
	root := &cobra.Command{
		Use:           "animagen",
		Short:         "Run animation pipelines over participant submissions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.String("config", "animagen.yaml", "Path to the configuration file")
	flags.String("env-file", ".env", "Path to the environment variables file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.Bool("log-source", false, "Include source code location in logs")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9090)")

	flags.Int("max-retries", 3, "Retries for AI calls and reference downloads")
	flags.Duration("base-delay", time.Second, "Initial retry backoff delay")
	flags.Duration("ai-timeout", 120*time.Second, "Timeout of a single AI call attempt")
	flags.Duration("fetch-timeout", 30*time.Second, "Timeout of a single reference download")
	flags.Int("concurrency", 4, "Maximum number of runs executed at once")
	flags.String("openai-model", "", "Model used by AI blocks that name none")
	flags.String("openai-base-url", "", "OpenAI API base URL")
	flags.Bool("metrics", false, "Enable OpenTelemetry metrics")
	flags.Bool("storage-enabled", false, "Upload final images to object storage")
	flags.Bool("database-enabled", false, "Record run status in PostgreSQL")
	flags.Bool("redis-enabled", false, "Publish run status to Redis")

	root.AddCommand(
		newRunCmd(opts...),
		newBatchCmd(opts...),
		ValidateCmd(),
	)

	return root
}

package cli

import (
	"fmt"

	"github.com/compozy/animagen/engine/pipeline"
	"github.com/spf13/cobra"
)

func ValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline configuration without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("pipeline")
			p, err := pipeline.LoadFile(path)
			if err != nil {
				return err
			}
			verdict := pipeline.Validate(p)
			if err := writeJSON(cmd.OutOrStdout(), verdict); err != nil {
				return err
			}
			if verdict.Blocking() {
				return fmt.Errorf("pipeline %s is invalid", path)
			}
			return nil
		},
	}
	cmd.Flags().String("pipeline", "", "Path to the pipeline document (YAML or JSON)")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

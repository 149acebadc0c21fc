package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/executor"
	"github.com/compozy/animagen/engine/pipeline"
	"github.com/spf13/cobra"
)

func RunCmd() *cobra.Command {
	return newRunCmd()
}

func newRunCmd(opts ...appOption) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline for one submission",
		Example: `  animagen run --pipeline pipeline.yaml --submission jean.json --out out/jean.png
  animagen run --pipeline pipeline.yaml --submission jean.json --image seed.png --out out.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executeWithApp(cmd, runHandler, opts...)
		},
	}
	cmd.Flags().String("pipeline", "", "Path to the pipeline document (YAML or JSON)")
	cmd.Flags().String("submission", "", "Path to the participant submission (YAML or JSON)")
	cmd.Flags().String("image", "", "Optional image that seeds the working image")
	cmd.Flags().String("out", "", "Where to write the final image")
	cmd.Flags().String("run-id", "", "Run identifier; generated when empty")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("submission")
	return cmd
}

func runHandler(ctx context.Context, cmd *cobra.Command, a *app) error {
	pipelinePath, _ := cmd.Flags().GetString("pipeline")
	submissionPath, _ := cmd.Flags().GetString("submission")
	imagePath, _ := cmd.Flags().GetString("image")
	outPath, _ := cmd.Flags().GetString("out")
	runID, _ := cmd.Flags().GetString("run-id")

	p, err := pipeline.LoadFile(pipelinePath)
	if err != nil {
		return err
	}
	sub, err := readSubmission(submissionPath)
	if err != nil {
		return err
	}
	run := executor.Run{ID: core.ID(runID), Submission: sub}
	if imagePath != "" {
		run.InitialImage, err = os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("failed to read initial image: %w", err)
		}
	}

	res, execErr := a.engine.Execute(ctx, p, run)
	if res == nil {
		return execErr
	}
	summary := summarize("", res)
	if execErr == nil {
		summary.Output, err = writeFinalImage(outPath, res)
		if err != nil {
			return err
		}
	}
	if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if execErr != nil {
		return fmt.Errorf("run %s failed: %s", res.RunID, res.ErrorCode)
	}
	return nil
}

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/compozy/animagen/engine/executor"
	"github.com/compozy/animagen/engine/imaging"
	"github.com/compozy/animagen/engine/pipeline"
	"github.com/compozy/animagen/pkg/config"
	"github.com/compozy/animagen/pkg/logger"
	"github.com/gosimple/slug"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func BatchCmd() *cobra.Command {
	return newBatchCmd()
}

func newBatchCmd(opts ...appOption) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Execute a pipeline for every submission in a directory",
		Long: `Runs the pipeline once per submission file (*.json, *.yaml, *.yml).
Runs are independent: a failed run does not stop the others.`,
		Example: `  animagen batch --pipeline pipeline.yaml --submissions forms/ --out out/ --concurrency 8`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executeWithApp(cmd, batchHandler, opts...)
		},
	}
	cmd.Flags().String("pipeline", "", "Path to the pipeline document (YAML or JSON)")
	cmd.Flags().String("submissions", "", "Directory holding the submissions")
	cmd.Flags().String("out", "", "Directory receiving the final images")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("submissions")
	return cmd
}

// BatchReport is printed once every run finished.
type BatchReport struct {
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Runs      []RunSummary `json:"runs"`
}

func listSubmissions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read submissions directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && isSubmissionFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

func batchHandler(ctx context.Context, cmd *cobra.Command, a *app) error {
	pipelinePath, _ := cmd.Flags().GetString("pipeline")
	dir, _ := cmd.Flags().GetString("submissions")
	outDir, _ := cmd.Flags().GetString("out")
	log := logger.FromContext(ctx)

	p, err := pipeline.LoadFile(pipelinePath)
	if err != nil {
		return err
	}
	if err := pipeline.Validate(p).Err(); err != nil {
		return err
	}
	files, err := listSubmissions(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no submission files found in %s", dir)
	}

	limit := config.FromContext(ctx).Pipeline.MaxConcurrentRuns
	log.Info("Batch started", "submissions", len(files), "concurrency", limit)
	report := BatchReport{Total: len(files), Runs: make([]RunSummary, len(files))}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i, file := range files {
		name := slug.Make(strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)))
		g.Go(func() error {
			summary, err := runOne(gctx, a, p, file, name, outDir)
			mu.Lock()
			defer mu.Unlock()
			report.Runs[i] = summary
			if err != nil {
				report.Failed++
				log.Warn("Run failed", "submission", file, "error", err)
				return nil
			}
			report.Completed++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d runs failed", report.Failed, report.Total)
	}
	return nil
}

// runOne executes one submission. Errors never cancel sibling runs.
func runOne(ctx context.Context, a *app, p pipeline.Pipeline, file, name, outDir string) (RunSummary, error) {
	sub, err := readSubmission(file)
	if err != nil {
		return RunSummary{Name: name, Status: executor.StatusFailed.String(), ErrorMessage: err.Error()}, err
	}
	res, err := a.engine.Execute(ctx, p, executor.Run{Submission: sub})
	if res == nil {
		return RunSummary{Name: name, Status: executor.StatusFailed.String(), ErrorMessage: err.Error()}, err
	}
	summary := summarize(name, res)
	if err != nil {
		return summary, err
	}
	if outDir != "" {
		out := filepath.Join(outDir, name+imaging.Extension(res.MIME))
		if summary.Output, err = writeFinalImage(out, res); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

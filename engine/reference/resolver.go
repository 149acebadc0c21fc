package reference

import (
	"context"
	"fmt"
	"slices"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/retry"
	"github.com/compozy/animagen/pkg/logger"
)

// FetchObserver is notified of every successful resolution.
type FetchObserver interface {
	ObserveReferenceFetch(ctx context.Context, source string, bytes int)
}

// Resolver turns descriptors into in-memory images.
// It holds no per-run state and may be shared across runs.
type Resolver struct {
	fetcher  Fetcher
	retry    retry.Options
	observer FetchObserver
}

type Option func(*Resolver)

// WithRetry sets the policy applied to network fetches.
func WithRetry(opts retry.Options) Option {
	return func(r *Resolver) {
		r.retry = opts
	}
}

func WithObserver(o FetchObserver) Option {
	return func(r *Resolver) {
		r.observer = o
	}
}

func NewResolver(fetcher Fetcher, opts ...Option) *Resolver {
	r := &Resolver{fetcher: fetcher, retry: retry.DefaultOptions()}
	for _, opt := range opts {
		opt(r)
	}
	if r.retry.Operation == "" {
		r.retry.Operation = "reference_fetch"
	}
	return r
}

// Resolve loads every descriptor and returns the images sorted by ascending
// Order. It performs no I/O for an empty list. The first failure aborts the
// whole call and no partial result is returned.
func (r *Resolver) Resolve(
	ctx context.Context,
	descriptors []Descriptor,
	run RunInfo,
	outputs BlockOutputs,
) ([]Resolved, error) {
	if len(descriptors) == 0 {
		return []Resolved{}, nil
	}
	sorted := slices.Clone(descriptors)
	slices.SortStableFunc(sorted, func(a, b Descriptor) int {
		return a.Order - b.Order
	})
	log := logger.FromContext(ctx)
	result := make([]Resolved, 0, len(sorted))
	for _, d := range sorted {
		buf, err := r.resolveOne(ctx, d, run, outputs)
		if err != nil {
			log.Warn("Reference image resolution failed",
				"run_id", run.ID, "name", d.Name, "source", d.Source, "error", err)
			return nil, err
		}
		if r.observer != nil {
			r.observer.ObserveReferenceFetch(ctx, d.Source.String(), len(buf))
		}
		result = append(result, Resolved{
			Name:      d.Name,
			Source:    d.Source,
			Order:     d.Order,
			Buffer:    buf,
			SizeBytes: len(buf),
			MIME:      DetectMIME(buf),
		})
	}
	return result, nil
}

func (r *Resolver) resolveOne(ctx context.Context, d Descriptor, run RunInfo, outputs BlockOutputs) ([]byte, error) {
	switch d.Source {
	case SourceSelfie:
		if len(run.Selfie) > 0 {
			return run.Selfie, nil
		}
		if run.SelfieURL == nil || *run.SelfieURL == "" {
			return nil, core.Errorf(core.ErrCodeSelfieRequiredMissing,
				"reference image %q requires the participant selfie, but none was submitted", d.Name)
		}
		buf, err := r.fetch(ctx, *run.SelfieURL)
		if err != nil {
			return nil, core.NewError(
				fmt.Errorf("selfie for reference image %q could not be fetched: %w", d.Name, err),
				core.ErrCodeReferenceImageNotFound,
				map[string]any{"name": d.Name, "source": d.Source},
			)
		}
		return buf, nil
	case SourceUpload, SourceURL:
		if d.URL == "" {
			return nil, core.Errorf(core.ErrCodeReferenceImageNotFound,
				"URL manquante pour l'image de référence %q", d.Name)
		}
		buf, err := r.fetch(ctx, d.URL)
		if err != nil {
			return nil, core.NewError(
				fmt.Errorf("reference image %q could not be fetched: %w", d.Name, err),
				core.ErrCodeReferenceImageNotFound,
				map[string]any{"name": d.Name, "source": d.Source, "url": d.URL},
			)
		}
		return buf, nil
	case SourceAIBlockOutput:
		if outputs != nil {
			if buf, ok := outputs.Output(d.SourceBlockID); ok {
				return buf, nil
			}
		}
		return nil, core.NewError(
			fmt.Errorf("reference image %q: output of block %q is not available", d.Name, d.SourceBlockID),
			core.ErrCodeReferenceImageNotFound,
			map[string]any{"name": d.Name, "source_block_id": d.SourceBlockID},
		)
	default:
		return nil, core.Errorf(core.ErrCodeInvalidConfig,
			"reference image %q has unknown source %q", d.Name, d.Source)
	}
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	if r.fetcher == nil {
		return nil, fmt.Errorf("no fetcher configured")
	}
	return retry.Do(ctx, r.retry, func(ctx context.Context) ([]byte, error) {
		return r.fetcher.Fetch(ctx, url)
	})
}

package executor

import (
	"context"
	"fmt"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/imaging"
	"github.com/compozy/animagen/engine/llm"
	"github.com/compozy/animagen/engine/participant"
	"github.com/compozy/animagen/engine/pipeline"
	"github.com/compozy/animagen/engine/quiz"
	"github.com/compozy/animagen/engine/reference"
	"github.com/compozy/animagen/engine/retry"
	"github.com/compozy/animagen/pkg/logger"
	"github.com/compozy/animagen/pkg/tplengine"
)

// runState is the mutable state of a single run. It never outlives Execute.
type runState struct {
	run         Run
	outputs     *pipeline.Outputs
	vars        participant.ExecutionContext
	questions   []quiz.ChoiceQuestion
	quizResults []*quiz.Result
	working     []byte
	workingMIME string
	// selfie is the participant photo, replaced by its preprocessed version
	// while crop and filters work on it.
	selfie     []byte
	fromSelfie bool
}

func newRunState(plan *pipeline.Plan, run Run) *runState {
	st := &runState{
		run:       run,
		outputs:   plan.NewOutputs(),
		vars:      participant.BuildExecutionContext(run.Submission),
		questions: pipeline.Pipeline{Inputs: plan.Inputs}.ChoiceQuestions(),
	}
	if len(run.InitialImage) > 0 {
		st.setWorking(run.InitialImage)
	}
	return st
}

func (st *runState) setWorking(buf []byte) {
	st.working = buf
	st.workingMIME = reference.DetectMIME(buf)
}

func (st *runState) runInfo() reference.RunInfo {
	return reference.RunInfo{ID: st.run.ID, SelfieURL: st.run.Submission.SelfieURL, Selfie: st.selfie}
}

// selfieImage fetches the participant selfie once per run.
func (e *Engine) selfieImage(ctx context.Context, st *runState) ([]byte, error) {
	if st.selfie != nil {
		return st.selfie, nil
	}
	resolved, err := e.resolve(ctx, st, []reference.Descriptor{{Name: "selfie", Source: reference.SourceSelfie}})
	if err != nil {
		return nil, err
	}
	st.selfie = resolved[0].Buffer
	return st.selfie, nil
}

func (e *Engine) resolve(ctx context.Context, st *runState, descriptors []reference.Descriptor) ([]reference.Resolved, error) {
	return e.resolver.Resolve(ctx, descriptors, st.runInfo(), st.outputs)
}

// workingImage returns the image crop and filters operate on. Before any block
// produced one it falls back to the selfie when the participant sent one.
func (e *Engine) workingImage(ctx context.Context, st *runState) ([]byte, error) {
	if len(st.working) > 0 {
		return st.working, nil
	}
	if !st.run.Submission.HasSelfie() {
		return nil, nil
	}
	buf, err := e.selfieImage(ctx, st)
	if err != nil {
		return nil, err
	}
	st.setWorking(buf)
	st.fromSelfie = true
	return buf, nil
}

// transform replaces the working image with the output of a local block.
func (st *runState) transform(buf []byte) {
	st.setWorking(buf)
	if st.fromSelfie {
		st.selfie = buf
	}
}

func (e *Engine) runCrop(ctx context.Context, st *runState, spec pipeline.CropResizeSpec) error {
	img, err := e.workingImage(ctx, st)
	if err != nil {
		return err
	}
	if len(img) == 0 {
		logger.FromContext(ctx).Warn("No image to crop, block skipped")
		return nil
	}
	out, err := imaging.CropResize(img, spec.Format, spec.Dimension)
	if err != nil {
		return err
	}
	st.transform(out)
	return nil
}

func (e *Engine) runFilters(ctx context.Context, st *runState, spec pipeline.FiltersSpec) error {
	if len(spec.Filters) == 0 {
		return nil
	}
	img, err := e.workingImage(ctx, st)
	if err != nil {
		return err
	}
	if len(img) == 0 {
		logger.FromContext(ctx).Warn("No image to filter, block skipped")
		return nil
	}
	out, err := imaging.ApplyFilters(img, spec.Filters)
	if err != nil {
		return err
	}
	st.transform(out)
	return nil
}

func (e *Engine) runQuiz(ctx context.Context, st *runState, step pipeline.Step, spec pipeline.QuizScoringSpec) {
	res := quiz.Execute(spec.KeyPrefix(step.Block), spec.Scoring, st.run.Submission, st.questions)
	if res == nil {
		logger.FromContext(ctx).Debug("Quiz scoring not applicable, block skipped")
		return
	}
	st.vars = quiz.Enrich(st.vars, res)
	st.quizResults = append(st.quizResults, res)
	logger.FromContext(ctx).Info("Quiz profile selected", "profile", res.Winner.Key, "scores", res.ScoresJSON())
}

func (e *Engine) runAI(ctx context.Context, st *runState, step pipeline.Step, spec pipeline.AIGenerationSpec) error {
	log := logger.FromContext(ctx)
	if e.models == nil {
		return core.Errorf(core.ErrCodeUnsupportedModel, "no image models are configured")
	}
	model := spec.Model
	if model == "" {
		model = e.defaultModel
	}
	gen, info, err := e.models.ForModel(model)
	if err != nil {
		return err
	}
	mode := spec.Mode()
	if !info.Supports(mode) {
		return core.NewError(
			fmt.Errorf("model %q does not support image usage mode %q", model, mode),
			core.ErrCodeUnsupportedModel,
			map[string]any{"model": model, "mode": mode},
		)
	}

	labels := make([]tplengine.ImageRef, 0, len(spec.ReferenceImages))
	for _, d := range spec.ReferenceImages {
		labels = append(labels, tplengine.ImageRef{Name: d.Name, Order: d.Order})
	}
	prompt, err := e.templates.RenderPrompt(spec.Prompt, labels, st.vars.Vars())
	if err != nil {
		return core.NewError(err, core.ErrCodeInvalidConfig, map[string]any{"block_id": step.Block.ID})
	}

	var call func(ctx context.Context) ([]byte, error)
	if mode.NeedsSource() {
		images, err := e.editImages(ctx, st, step, spec)
		if err != nil {
			return err
		}
		req := llm.EditRequest{Model: model, Prompt: prompt, Images: images, Size: spec.Size, Quality: spec.Quality}
		call = func(ctx context.Context) ([]byte, error) { return gen.Edit(ctx, req) }
	} else {
		req := llm.GenerateRequest{Model: model, Prompt: prompt, Size: spec.Size, Quality: spec.Quality}
		call = func(ctx context.Context) ([]byte, error) { return gen.Generate(ctx, req) }
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.aiTimeout
	}
	opts := e.retry
	onRetry := opts.OnRetry
	opts.OnRetry = func(attempt int, err error) {
		e.observer.ObserveRetry(ctx, opts.Operation)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	log.Info("Calling image model", "model", model, "mode", mode, "prompt_chars", len(prompt))
	message := fmt.Sprintf("AI generation timed out after %s", timeout)
	out, err := retry.Do(ctx, opts, func(ctx context.Context) ([]byte, error) {
		return retry.WithTimeout(ctx, timeout, message, call)
	})
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return core.Errorf(core.ErrCodeAPIError, "model %q returned an empty image", model)
	}
	st.outputs.Set(step.Index, out)
	st.setWorking(out)
	st.fromSelfie = false
	return nil
}

// editImages returns the reference images by ascending order followed by the
// source image.
func (e *Engine) editImages(
	ctx context.Context,
	st *runState,
	step pipeline.Step,
	spec pipeline.AIGenerationSpec,
) ([]llm.Image, error) {
	refs, err := e.resolve(ctx, st, spec.ReferenceImages)
	if err != nil {
		return nil, err
	}
	images := make([]llm.Image, 0, len(refs)+1)
	for _, r := range refs {
		images = append(images, llm.Image{Name: r.Name, Data: r.Buffer, MIME: r.MIME})
	}
	src, err := e.sourceImage(ctx, st, step, spec)
	if err != nil {
		return nil, err
	}
	if len(src) > 0 {
		images = append(images, llm.Image{Name: "source", Data: src, MIME: reference.DetectMIME(src)})
	}
	if len(images) == 0 {
		return nil, core.Errorf(core.ErrCodeInvalidConfig,
			"block %q uses image mode %q but no input image is available", step.Block.ID, spec.Mode())
	}
	return images, nil
}

func (e *Engine) sourceImage(ctx context.Context, st *runState, step pipeline.Step, spec pipeline.AIGenerationSpec) ([]byte, error) {
	switch spec.ImageSource {
	case pipeline.ImageSourceAIBlockOutput:
		buf, ok := st.outputs.At(step.SourceIndex)
		if !ok {
			return nil, core.NewError(
				fmt.Errorf("block %q: output of source block %q is not available", step.Block.ID, spec.SourceBlockID),
				core.ErrCodeReferenceImageNotFound,
				map[string]any{"block_id": step.Block.ID, "source_block_id": spec.SourceBlockID},
			)
		}
		return buf, nil
	case pipeline.ImageSourceSelfie:
		return e.selfieImage(ctx, st)
	case pipeline.ImageSourceURL:
		resolved, err := e.resolve(ctx, st, []reference.Descriptor{{
			Name:   "source",
			Source: reference.SourceURL,
			URL:    spec.ImageURL,
		}})
		if err != nil {
			return nil, err
		}
		return resolved[0].Buffer, nil
	default:
		return e.workingImage(ctx, st)
	}
}

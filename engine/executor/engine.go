package executor

import (
	"context"
	"errors"
	"time"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/llm"
	"github.com/compozy/animagen/engine/participant"
	"github.com/compozy/animagen/engine/pipeline"
	"github.com/compozy/animagen/engine/quiz"
	"github.com/compozy/animagen/engine/reference"
	"github.com/compozy/animagen/engine/retry"
	"github.com/compozy/animagen/pkg/logger"
	"github.com/compozy/animagen/pkg/tplengine"
)

const (
	DefaultAITimeout = 120 * time.Second
	DefaultModel     = "gpt-image-1"
)

// Observer receives execution metrics.
type Observer interface {
	ObserveBlock(ctx context.Context, blockName, outcome string, d time.Duration)
	ObserveRun(ctx context.Context, outcome, code string, d time.Duration)
	ObserveRetry(ctx context.Context, operation string)
}

type nopObserver struct{}

func (nopObserver) ObserveBlock(context.Context, string, string, time.Duration) {}
func (nopObserver) ObserveRun(context.Context, string, string, time.Duration)   {}
func (nopObserver) ObserveRetry(context.Context, string)                        {}

// Run is one participant submission to execute.
type Run struct {
	ID         core.ID
	Submission participant.Submission
	// InitialImage seeds the working image. When empty the selfie is used.
	InitialImage []byte
}

// Result is the outcome of Execute.
type Result struct {
	RunID        core.ID
	Status       Status
	FinalImage   []byte
	MIME         string
	BlockOutputs map[string][]byte
	Context      participant.ExecutionContext
	QuizResults  []*quiz.Result
	DeliveredURL string
	ErrorCode    string
	ErrorMessage string
	Transitions  []Status
	Duration     time.Duration
}

// Engine executes pipelines. It holds read-only collaborators only and is
// safe for concurrent runs.
type Engine struct {
	models       *llm.Registry
	resolver     *reference.Resolver
	templates    *tplengine.TemplateEngine
	sink         StatusSink
	deliverer    Deliverer
	observer     Observer
	retry        retry.Options
	aiTimeout    time.Duration
	defaultModel string
}

type Option func(*Engine)

func WithSink(s StatusSink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

func WithDeliverer(d Deliverer) Option {
	return func(e *Engine) {
		e.deliverer = d
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

func WithTemplates(t *tplengine.TemplateEngine) Option {
	return func(e *Engine) {
		e.templates = t
	}
}

// WithRetry sets the policy wrapping AI calls.
func WithRetry(opts retry.Options) Option {
	return func(e *Engine) {
		e.retry = opts
	}
}

// WithAITimeout bounds each AI call attempt. Blocks may override it.
func WithAITimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.aiTimeout = d
	}
}

// WithDefaultModel sets the model used by AI blocks that name none.
func WithDefaultModel(model string) Option {
	return func(e *Engine) {
		e.defaultModel = model
	}
}

func New(models *llm.Registry, resolver *reference.Resolver, opts ...Option) *Engine {
	e := &Engine{
		models:       models,
		resolver:     resolver,
		observer:     nopObserver{},
		retry:        retry.DefaultOptions(),
		aiTimeout:    DefaultAITimeout,
		defaultModel: DefaultModel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.templates == nil {
		e.templates = tplengine.NewEngine(0)
	}
	if e.resolver == nil {
		e.resolver = reference.NewResolver(reference.NewHTTPFetcher(reference.HTTPOptions{}))
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.retry.Operation == "" {
		e.retry.Operation = "ai_generation"
	}
	return e
}

func (e *Engine) catalog() pipeline.Catalog {
	if e.models == nil {
		return pipeline.DefaultCatalog()
	}
	return e.models.Catalog()
}

// Execute runs every block of p in order for one submission. The pipeline is
// validated first; an error verdict fails the run with INVALID_CONFIG before
// any block runs. The first block failure is fatal. On failure the returned
// Result carries the failed status and taxonomy code alongside the error.
func (e *Engine) Execute(ctx context.Context, p pipeline.Pipeline, run Run) (*Result, error) {
	if run.ID.IsZero() {
		id, err := core.NewID()
		if err != nil {
			return nil, err
		}
		run.ID = id
	}
	log := logger.FromContext(ctx).With("run_id", run.ID)
	ctx = logger.ContextWithLogger(ctx, log)
	start := time.Now()
	res := &Result{RunID: run.ID, Status: StatusPending, Transitions: []Status{StatusPending}}

	verdict := pipeline.Validate(p, pipeline.WithCatalog(e.catalog()))
	for _, is := range verdict.Issues {
		if is.Level != pipeline.LevelError {
			log.Info("Pipeline validation note", "level", is.Level, "block_id", is.BlockID, "message", is.Message)
		}
	}
	if err := verdict.Err(); err != nil {
		return e.fail(ctx, res, start, err)
	}
	plan, err := pipeline.Compile(p)
	if err != nil {
		return e.fail(ctx, res, start, err)
	}

	e.transition(res, StatusProcessing)
	if e.sink != nil {
		if err := e.sink.MarkProcessing(ctx, run.ID); err != nil {
			log.Warn("Failed to report processing status", "error", err)
		}
	}
	log.Info("Run started", "blocks", plan.Len())

	st := newRunState(plan, run)
	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, res, start, err)
		}
		if err := e.runStep(ctx, st, step); err != nil {
			res.BlockOutputs = st.outputs.Map()
			res.Context = st.vars
			res.QuizResults = st.quizResults
			return e.fail(ctx, res, start, err)
		}
	}
	return e.complete(ctx, res, st, start)
}

func (e *Engine) runStep(ctx context.Context, st *runState, step pipeline.Step) error {
	log := logger.FromContext(ctx).With(
		"block_id", step.Block.ID,
		"block_name", step.Block.BlockName,
		"order", step.Block.Order,
	)
	ctx = logger.ContextWithLogger(ctx, log)
	start := time.Now()
	log.Debug("Block started")
	var err error
	switch spec := step.Spec.(type) {
	case pipeline.CropResizeSpec:
		err = e.runCrop(ctx, st, spec)
	case pipeline.AIGenerationSpec:
		err = e.runAI(ctx, st, step, spec)
	case pipeline.QuizScoringSpec:
		e.runQuiz(ctx, st, step, spec)
	case pipeline.FiltersSpec:
		err = e.runFilters(ctx, st, spec)
	default:
		err = core.Errorf(core.ErrCodeInvalidConfig, "block %q has no handler", step.Block.ID)
	}
	d := time.Since(start)
	if err != nil {
		e.observer.ObserveBlock(ctx, step.Block.BlockName.String(), "failure", d)
		log.Error("Block failed", "error", core.RedactError(err), "duration", d)
		return err
	}
	e.observer.ObserveBlock(ctx, step.Block.BlockName.String(), "success", d)
	log.Debug("Block completed", "duration", d)
	return nil
}

func (e *Engine) complete(ctx context.Context, res *Result, st *runState, start time.Time) (*Result, error) {
	log := logger.FromContext(ctx)
	res.FinalImage = st.working
	res.MIME = st.workingMIME
	res.BlockOutputs = st.outputs.Map()
	res.Context = st.vars
	res.QuizResults = st.quizResults
	if e.deliverer != nil && len(st.working) > 0 {
		url, err := e.deliverer.Deliver(ctx, res.RunID, st.working, st.workingMIME)
		if err != nil {
			return e.fail(ctx, res, start, core.NewError(err, core.ErrCodeAPIError, map[string]any{"stage": "delivery"}))
		}
		res.DeliveredURL = url
	}
	e.transition(res, StatusCompleted)
	res.Duration = time.Since(start)
	if e.sink != nil {
		c := Completion{OutputURL: res.DeliveredURL, MIME: res.MIME, SizeBytes: len(res.FinalImage)}
		if err := e.sink.MarkCompleted(ctx, res.RunID, c); err != nil {
			log.Warn("Failed to report completed status", "error", err)
		}
	}
	e.observer.ObserveRun(ctx, "completed", "", res.Duration)
	log.Info("Run completed", "duration", res.Duration, "outputs", len(res.BlockOutputs))
	return res, nil
}

func (e *Engine) fail(ctx context.Context, res *Result, start time.Time, err error) (*Result, error) {
	log := logger.FromContext(ctx)
	code, message := Classify(err)
	res.ErrorCode = code
	res.ErrorMessage = message
	res.FinalImage = nil
	e.transition(res, StatusFailed)
	res.Duration = time.Since(start)
	if e.sink != nil {
		if serr := e.sink.MarkFailed(ctx, res.RunID, code, message); serr != nil {
			log.Warn("Failed to report failed status", "error", serr)
		}
	}
	e.observer.ObserveRun(ctx, "failed", code, res.Duration)
	log.Error("Run failed", "code", code, "error", core.RedactString(message))
	if core.CodeOf(err) == "" {
		err = core.NewError(err, code, nil)
	}
	return res, err
}

func (e *Engine) transition(res *Result, s Status) {
	res.Status = s
	res.Transitions = append(res.Transitions, s)
}

// Classify maps an execution error onto the surfaced taxonomy.
func Classify(err error) (code, message string) {
	if err == nil {
		return "", ""
	}
	if c := core.CodeOf(err); c != "" {
		return core.PublicCode(c), core.MessageOf(err)
	}
	if errors.Is(err, retry.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return core.ErrCodeTimeout, err.Error()
	}
	return core.ErrCodeAPIError, err.Error()
}

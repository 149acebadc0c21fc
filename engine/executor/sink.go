package executor

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/compozy/animagen/engine/core"
)

// Status is the lifecycle state of a generation run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Completion is what a sink learns about a successful run.
type Completion struct {
	OutputURL string
	MIME      string
	SizeBytes int
}

// StatusSink receives the status transitions of runs.
type StatusSink interface {
	MarkProcessing(ctx context.Context, runID core.ID) error
	MarkCompleted(ctx context.Context, runID core.ID, c Completion) error
	MarkFailed(ctx context.Context, runID core.ID, code, message string) error
}

// Deliverer persists the final image and returns where it can be fetched.
type Deliverer interface {
	Deliver(ctx context.Context, runID core.ID, image []byte, mime string) (string, error)
}

// MultiSink fans transitions out to every sink. All sinks are called; their
// errors are joined.
type MultiSink []StatusSink

func (m MultiSink) MarkProcessing(ctx context.Context, runID core.ID) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.MarkProcessing(ctx, runID))
	}
	return errors.Join(errs...)
}

func (m MultiSink) MarkCompleted(ctx context.Context, runID core.ID, c Completion) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.MarkCompleted(ctx, runID, c))
	}
	return errors.Join(errs...)
}

func (m MultiSink) MarkFailed(ctx context.Context, runID core.ID, code, message string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.MarkFailed(ctx, runID, code, message))
	}
	return errors.Join(errs...)
}

// RunRecord is the state a MemorySink keeps per run.
type RunRecord struct {
	Status       Status
	Transitions  []Status
	ErrorCode    string
	ErrorMessage string
	Completion   Completion
}

// MemorySink records transitions in memory.
type MemorySink struct {
	mu   sync.Mutex
	runs map[core.ID]*RunRecord
}

func NewMemorySink() *MemorySink {
	return &MemorySink{runs: make(map[core.ID]*RunRecord)}
}

func (s *MemorySink) record(runID core.ID, status Status) *RunRecord {
	rec, ok := s.runs[runID]
	if !ok {
		rec = &RunRecord{Status: StatusPending, Transitions: []Status{StatusPending}}
		s.runs[runID] = rec
	}
	rec.Status = status
	rec.Transitions = append(rec.Transitions, status)
	return rec
}

func (s *MemorySink) MarkProcessing(_ context.Context, runID core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(runID, StatusProcessing)
	return nil
}

func (s *MemorySink) MarkCompleted(_ context.Context, runID core.ID, c Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(runID, StatusCompleted).Completion = c
	return nil
}

func (s *MemorySink) MarkFailed(_ context.Context, runID core.ID, code, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(runID, StatusFailed)
	rec.ErrorCode = code
	rec.ErrorMessage = message
	return nil
}

// Get returns a copy of the record of runID.
func (s *MemorySink) Get(runID core.ID) (RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return RunRecord{}, false
	}
	out := *rec
	out.Transitions = slices.Clone(rec.Transitions)
	return out, true
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/compozy/animagen/engine/executor"
	"github.com/compozy/animagen/engine/participant"
	"gopkg.in/yaml.v3"
)

// readSubmission decodes a participant submission. JSON is read as YAML.
func readSubmission(path string) (participant.Submission, error) {
	var sub participant.Submission
	f, err := os.Open(path)
	if err != nil {
		return sub, fmt.Errorf("failed to open submission file: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&sub); err != nil {
		if errors.Is(err, io.EOF) {
			return sub, fmt.Errorf("%s: empty submission document", path)
		}
		return sub, fmt.Errorf("%s: failed to parse submission: %w", path, err)
	}
	return sub, nil
}

func isSubmissionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// RunSummary is the machine-readable outcome printed by run and batch.
type RunSummary struct {
	Name         string   `json:"name,omitempty"`
	RunID        string   `json:"runId"`
	Status       string   `json:"status"`
	Output       string   `json:"output,omitempty"`
	DeliveredURL string   `json:"deliveredUrl,omitempty"`
	ErrorCode    string   `json:"errorCode,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	Transitions  []string `json:"transitions"`
	DurationMS   int64    `json:"durationMs"`
}

func summarize(name string, res *executor.Result) RunSummary {
	s := RunSummary{
		Name:         name,
		RunID:        res.RunID.String(),
		Status:       res.Status.String(),
		DeliveredURL: res.DeliveredURL,
		ErrorCode:    res.ErrorCode,
		ErrorMessage: res.ErrorMessage,
		DurationMS:   res.Duration.Round(time.Millisecond).Milliseconds(),
	}
	for _, t := range res.Transitions {
		s.Transitions = append(s.Transitions, t.String())
	}
	return s
}

// writeFinalImage stores the final image at path and returns it. An empty
// final image writes nothing.
func writeFinalImage(path string, res *executor.Result) (string, error) {
	if path == "" || len(res.FinalImage) == 0 {
		return "", nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, res.FinalImage, 0o644); err != nil {
		return "", fmt.Errorf("failed to write final image: %w", err)
	}
	return path, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

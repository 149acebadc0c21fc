package pipeline

import (
	"fmt"
	"strings"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/imaging"
	"github.com/compozy/animagen/engine/reference"
)

// Level is the severity of a validation verdict.
type Level string

const (
	LevelValid   Level = "valid"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (l Level) rank() int {
	switch l {
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	}
	return 0
}

type Issue struct {
	BlockID string `json:"blockId,omitempty"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Verdict is the outcome of Validate. Level is the most severe issue level.
type Verdict struct {
	Level  Level   `json:"level"`
	Issues []Issue `json:"issues,omitempty"`
}

func (v *Verdict) add(level Level, blockID, format string, args ...any) {
	v.Issues = append(v.Issues, Issue{BlockID: blockID, Level: level, Message: fmt.Sprintf(format, args...)})
	if level.rank() > v.Level.rank() {
		v.Level = level
	}
}

// Blocking reports whether execution must not proceed.
func (v Verdict) Blocking() bool {
	return v.Level == LevelError
}

// Err returns an INVALID_CONFIG error listing the error issues, or nil.
func (v Verdict) Err() error {
	if !v.Blocking() {
		return nil
	}
	var msgs []string
	for _, is := range v.Issues {
		if is.Level != LevelError {
			continue
		}
		if is.BlockID != "" {
			msgs = append(msgs, fmt.Sprintf("block %s: %s", is.BlockID, is.Message))
		} else {
			msgs = append(msgs, is.Message)
		}
	}
	return core.Errorf(core.ErrCodeInvalidConfig, "pipeline configuration is invalid: %s", strings.Join(msgs, "; "))
}

type validateOptions struct {
	catalog Catalog
}

type ValidateOption func(*validateOptions)

// WithCatalog validates models against c instead of DefaultCatalog.
func WithCatalog(c Catalog) ValidateOption {
	return func(o *validateOptions) {
		o.catalog = c
	}
}

// Validate checks a pipeline before execution. It performs no I/O.
func Validate(p Pipeline, opts ...ValidateOption) Verdict {
	o := validateOptions{catalog: DefaultCatalog()}
	for _, opt := range opts {
		opt(&o)
	}
	v := Verdict{Level: LevelValid}
	byID := make(map[string]Block, len(p.Blocks))
	for _, b := range p.Blocks {
		if b.ID == "" {
			v.add(LevelError, "", "block %q has no id", b.BlockName)
			continue
		}
		if _, dup := byID[b.ID]; dup {
			v.add(LevelError, b.ID, "duplicate block id")
			continue
		}
		byID[b.ID] = b
	}
	selfieInput := p.CollectsSelfie()
	aiBlocks := 0
	selfieUsed := false
	for _, b := range p.Sorted() {
		spec, err := Decode(b)
		if err != nil {
			v.add(LevelError, b.ID, "%s", core.MessageOf(err))
			continue
		}
		switch s := spec.(type) {
		case CropResizeSpec:
			validateCrop(&v, b, s)
		case FiltersSpec:
			for _, f := range s.Filters {
				if err := f.Validate(); err != nil {
					v.add(LevelError, b.ID, "%s", err)
				}
			}
		case QuizScoringSpec:
			validateQuiz(&v, b, s)
		case AIGenerationSpec:
			aiBlocks++
			if usesSelfie(s) {
				selfieUsed = true
			}
			validateAI(&v, b, s, byID, selfieInput, o.catalog)
		}
	}
	if aiBlocks == 0 {
		v.add(LevelWarning, "", "no AI block configured")
	} else if selfieInput && !selfieUsed {
		v.add(LevelInfo, "", "a selfie is collected but no AI block uses it")
	}
	return v
}

func validateCrop(v *Verdict, b Block, s CropResizeSpec) {
	if !s.Format.IsValid() {
		v.add(LevelError, b.ID, "unknown crop format %q", s.Format)
	}
	if s.Dimension < 0 {
		v.add(LevelError, b.ID, "dimension must not be negative")
	}
	if s.Dimension > imaging.MaxDimension {
		v.add(LevelError, b.ID, "dimension %d exceeds the maximum of %d", s.Dimension, imaging.MaxDimension)
	}
}

func validateQuiz(v *Verdict, b Block, s QuizScoringSpec) {
	if s.Scoring == nil {
		return
	}
	keys := make(map[string]bool, len(s.Scoring.Profiles))
	for _, p := range s.Scoring.Profiles {
		keys[p.Key] = true
	}
	for _, q := range s.Scoring.Questions {
		for _, m := range q.OptionMappings {
			if !keys[m.ProfileKey] {
				v.add(LevelWarning, b.ID, "question %s maps %q to unknown profile %q",
					q.ElementID, m.OptionText, m.ProfileKey)
			}
		}
	}
}

func usesSelfie(s AIGenerationSpec) bool {
	if s.Mode().NeedsSource() && s.ImageSource == ImageSourceSelfie {
		return true
	}
	for _, d := range s.ReferenceImages {
		if d.Source == reference.SourceSelfie {
			return true
		}
	}
	return false
}

func validateAI(v *Verdict, b Block, s AIGenerationSpec, byID map[string]Block, selfieInput bool, catalog Catalog) {
	mode := s.Mode()
	if strings.TrimSpace(s.Prompt) == "" {
		v.add(LevelError, b.ID, "prompt is required")
	}
	if !mode.IsValid() {
		v.add(LevelError, b.ID, "unknown imageUsageMode %q", s.ImageUsageMode)
		return
	}
	// none consumes no image, set explicitly or not.
	if mode.NeedsSource() {
		validateImageSource(v, b, s, byID, selfieInput)
	}
	if s.Model != "" {
		if m, ok := catalog.Lookup(s.Model); !ok {
			v.add(LevelWarning, b.ID, "model %q is not in the catalog", s.Model)
		} else if !m.Supports(mode) {
			v.add(LevelError, b.ID, "model %q does not support imageUsageMode %q", s.Model, mode)
		}
	}
	for _, d := range s.ReferenceImages {
		if err := d.Validate(); err != nil {
			v.add(LevelError, b.ID, "%s", err)
			continue
		}
		switch d.Source {
		case reference.SourceAIBlockOutput:
			if !runsBefore(byID, d.SourceBlockID, b) {
				v.add(LevelError, b.ID, "reference image %q must use the output of an earlier block, got %q",
					d.Name, d.SourceBlockID)
			}
		case reference.SourceUpload, reference.SourceURL:
			if d.URL == "" {
				v.add(LevelError, b.ID, "reference image %q has no url", d.Name)
			}
		case reference.SourceSelfie:
			if !selfieInput {
				v.add(LevelWarning, b.ID, "reference image %q uses the selfie but no input collects one", d.Name)
			}
		}
	}
}

func validateImageSource(v *Verdict, b Block, s AIGenerationSpec, byID map[string]Block, selfieInput bool) {
	switch s.ImageSource {
	case "":
		v.add(LevelError, b.ID, "imageUsageMode %q requires an imageSource", s.ImageUsageMode)
	case ImageSourceSelfie:
		if !selfieInput {
			v.add(LevelError, b.ID, "imageSource selfie requires a selfie input element")
		}
	case ImageSourceURL:
		if strings.TrimSpace(s.ImageURL) == "" {
			v.add(LevelError, b.ID, "imageSource url requires imageUrl")
		}
	case ImageSourceAIBlockOutput:
		if !runsBefore(byID, s.SourceBlockID, b) {
			v.add(LevelError, b.ID, "sourceBlockId %q must reference a block with a lower order", s.SourceBlockID)
		}
	default:
		v.add(LevelError, b.ID, "unknown imageSource %q", s.ImageSource)
	}
}

// runsBefore reports whether id names a block whose order is strictly lower than b's.
func runsBefore(byID map[string]Block, id string, b Block) bool {
	if id == "" || id == b.ID {
		return false
	}
	src, ok := byID[id]
	return ok && src.Order < b.Order
}

package pipeline

import (
	"slices"
	"strings"

	"github.com/compozy/animagen/engine/quiz"
)

// BlockType groups blocks by pipeline stage.
type BlockType string

const (
	TypePreprocessing  BlockType = "preprocessing"
	TypeAIGeneration   BlockType = "ai-generation"
	TypeProcessing     BlockType = "processing"
	TypePostprocessing BlockType = "postprocessing"
)

// BlockName selects the handler of a block.
type BlockName string

const (
	BlockCropResize   BlockName = "crop-resize"
	BlockAIGeneration BlockName = "ai-generation"
	BlockQuizScoring  BlockName = "quiz-scoring"
	BlockFilters      BlockName = "filters"
)

func (n BlockName) String() string {
	return string(n)
}

// Block is one configured step of a pipeline.
type Block struct {
	ID        string         `json:"id"               yaml:"id"`
	Type      BlockType      `json:"type"             yaml:"type"`
	BlockName BlockName      `json:"blockName"        yaml:"blockName"`
	Order     int            `json:"order"            yaml:"order"`
	Config    map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Input element types understood by the pipeline.
const (
	InputSelfie   = "selfie"
	InputChoice   = "choice"
	InputRadio    = "radio"
	InputSelect   = "select"
	InputText     = "text"
	InputSlider   = "slider"
	InputCheckbox = "checkbox"
)

// InputElement is a participant-facing form element.
type InputElement struct {
	ID      string   `json:"id"                yaml:"id"`
	Type    string   `json:"type"              yaml:"type"`
	Label   string   `json:"label,omitempty"   yaml:"label,omitempty"`
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`
}

func (e InputElement) IsChoice() bool {
	switch strings.ToLower(e.Type) {
	case InputChoice, InputRadio, InputSelect, InputCheckbox:
		return true
	}
	return false
}

// Pipeline is an ordered block list plus the inputs it collects.
type Pipeline struct {
	Name   string         `json:"name,omitempty"   yaml:"name,omitempty"`
	Blocks []Block        `json:"blocks"           yaml:"blocks"`
	Inputs []InputElement `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Sorted returns the blocks by ascending Order, keeping list position for ties.
func (p Pipeline) Sorted() []Block {
	blocks := slices.Clone(p.Blocks)
	slices.SortStableFunc(blocks, func(a, b Block) int {
		return a.Order - b.Order
	})
	return blocks
}

// CollectsSelfie reports whether any input element collects a selfie.
func (p Pipeline) CollectsSelfie() bool {
	return slices.ContainsFunc(p.Inputs, func(e InputElement) bool {
		return strings.EqualFold(e.Type, InputSelfie)
	})
}

// ChoiceQuestions returns the multiple-choice inputs used by quiz scoring.
func (p Pipeline) ChoiceQuestions() []quiz.ChoiceQuestion {
	var out []quiz.ChoiceQuestion
	for _, e := range p.Inputs {
		if !e.IsChoice() {
			continue
		}
		out = append(out, quiz.ChoiceQuestion{
			ElementID: e.ID,
			Label:     e.Label,
			Options:   slices.Clone(e.Options),
		})
	}
	return out
}

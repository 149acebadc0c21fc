package pipeline

import (
	"fmt"
	"reflect"
	"regexp"
	"time"

	"dario.cat/mergo"
	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/imaging"
	"github.com/compozy/animagen/engine/quiz"
	"github.com/compozy/animagen/engine/reference"
	"github.com/go-viper/mapstructure/v2"
)

// Spec is the decoded configuration of a block. The set of implementations is
// closed: CropResizeSpec, AIGenerationSpec, QuizScoringSpec and FiltersSpec.
type Spec interface {
	Name() BlockName
	sealed()
}

// ImageUsageMode tells an AI block how it consumes input images.
type ImageUsageMode string

const (
	// ModeNone generates from the prompt alone.
	ModeNone ImageUsageMode = "none"
	// ModeEdit edits the source image.
	ModeEdit ImageUsageMode = "edit"
	// ModeReference edits the source image guided by the reference images.
	ModeReference ImageUsageMode = "reference"
)

// NeedsSource reports whether the mode consumes an input image.
func (m ImageUsageMode) NeedsSource() bool {
	return m == ModeEdit || m == ModeReference
}

func (m ImageUsageMode) IsValid() bool {
	switch m {
	case ModeNone, ModeEdit, ModeReference:
		return true
	}
	return false
}

// ImageSource is where an AI block takes its input image from.
type ImageSource string

const (
	ImageSourceSelfie        ImageSource = "selfie"
	ImageSourceURL           ImageSource = "url"
	ImageSourceAIBlockOutput ImageSource = "ai-block-output"
)

const (
	DefaultDimension = 1024
	DefaultSize      = "1024x1024"
	DefaultQuality   = "auto"
)

type CropResizeSpec struct {
	Format    imaging.CropFormat `json:"format"    mapstructure:"format"`
	Dimension int                `json:"dimension" mapstructure:"dimension"`
}

func (CropResizeSpec) Name() BlockName { return BlockCropResize }
func (CropResizeSpec) sealed()         {}

type AIGenerationSpec struct {
	Model           string                 `json:"model"                     mapstructure:"model"`
	Prompt          string                 `json:"prompt"                    mapstructure:"prompt"`
	ImageUsageMode  ImageUsageMode         `json:"imageUsageMode,omitempty"  mapstructure:"imageUsageMode"`
	ImageSource     ImageSource            `json:"imageSource,omitempty"     mapstructure:"imageSource"`
	ImageURL        string                 `json:"imageUrl,omitempty"        mapstructure:"imageUrl"`
	SourceBlockID   string                 `json:"sourceBlockId,omitempty"   mapstructure:"sourceBlockId"`
	ReferenceImages []reference.Descriptor `json:"referenceImages,omitempty" mapstructure:"referenceImages"`
	Size            string                 `json:"size,omitempty"            mapstructure:"size"`
	Quality         string                 `json:"quality,omitempty"         mapstructure:"quality"`
	Timeout         time.Duration          `json:"timeout,omitempty"         mapstructure:"timeout"`
}

func (AIGenerationSpec) Name() BlockName { return BlockAIGeneration }
func (AIGenerationSpec) sealed()         {}

// Mode returns the usage mode, treating an unset mode as ModeNone.
func (s AIGenerationSpec) Mode() ImageUsageMode {
	if s.ImageUsageMode == "" {
		return ModeNone
	}
	return s.ImageUsageMode
}

// QuizScoringSpec carries an optional scoring configuration. A nil Scoring
// marks an unconfigured block. Namespace prefixes the context keys the block
// adds; it defaults to the block id.
type QuizScoringSpec struct {
	Namespace string       `json:"namespace,omitempty" mapstructure:"namespace"`
	Scoring   *quiz.Config `json:"scoring,omitempty"   mapstructure:"scoring"`
}

func (QuizScoringSpec) Name() BlockName { return BlockQuizScoring }
func (QuizScoringSpec) sealed()         {}

var nonWord = regexp.MustCompile(`\W+`)

// KeyPrefix returns the identifier used in <prefix>_profile_* context keys.
// Characters that cannot appear in a {variable} token become underscores.
func (s QuizScoringSpec) KeyPrefix(b Block) string {
	ns := s.Namespace
	if ns == "" {
		ns = b.ID
	}
	return nonWord.ReplaceAllString(ns, "_")
}

type FiltersSpec struct {
	Filters []imaging.Filter `json:"filters" mapstructure:"filters"`
}

func (FiltersSpec) Name() BlockName { return BlockFilters }
func (FiltersSpec) sealed()         {}

// Decode turns a block's raw configuration into its typed Spec. Unknown block
// names are INVALID_CONFIG.
func Decode(b Block) (Spec, error) {
	switch b.BlockName {
	case BlockCropResize:
		return decodeWithDefaults(b, CropResizeSpec{Format: imaging.CropOriginal, Dimension: DefaultDimension})
	case BlockAIGeneration:
		return decodeWithDefaults(b, AIGenerationSpec{Size: DefaultSize, Quality: DefaultQuality})
	case BlockQuizScoring:
		return decodeWithDefaults(b, QuizScoringSpec{})
	case BlockFilters:
		return decodeWithDefaults(b, FiltersSpec{})
	default:
		return nil, core.NewError(
			fmt.Errorf("block %q has unknown blockName %q", b.ID, b.BlockName),
			core.ErrCodeInvalidConfig,
			map[string]any{"block_id": b.ID},
		)
	}
}

func decodeWithDefaults[T Spec](b Block, defaults T) (Spec, error) {
	spec, err := fromMap[T](b.Config)
	if err != nil {
		return nil, core.NewError(
			fmt.Errorf("block %q: invalid %s config: %w", b.ID, b.BlockName, err),
			core.ErrCodeInvalidConfig,
			map[string]any{"block_id": b.ID},
		)
	}
	if err := mergo.Merge(&spec, defaults); err != nil {
		return nil, fmt.Errorf("block %q: failed to apply defaults: %w", b.ID, err)
	}
	return spec, nil
}

func fromMap[T any](data map[string]any) (T, error) {
	var out T
	if data == nil {
		return out, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			filterNameHook,
		),
	})
	if err != nil {
		return out, err
	}
	return out, decoder.Decode(data)
}

// filterNameHook accepts a bare filter name in place of a filter object.
func filterNameHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(imaging.Filter{}) {
		return data, nil
	}
	name, _ := data.(string)
	return imaging.Filter{Name: name}, nil
}

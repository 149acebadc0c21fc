package reference

import (
	"fmt"
	"sync"

	"github.com/compozy/animagen/engine/core"
	"github.com/go-playground/validator/v10"
)

// Source tells the resolver where a reference image comes from.
type Source string

const (
	SourceSelfie        Source = "selfie"
	SourceUpload        Source = "upload"
	SourceURL           Source = "url"
	SourceAIBlockOutput Source = "ai-block-output"
)

func (s Source) String() string {
	return string(s)
}

func (s Source) IsValid() bool {
	switch s {
	case SourceSelfie, SourceUpload, SourceURL, SourceAIBlockOutput:
		return true
	}
	return false
}

// Descriptor is a configured reference image.
type Descriptor struct {
	Name          string `json:"name"                    yaml:"name"                    mapstructure:"name"          validate:"required"`
	Source        Source `json:"source"                  yaml:"source"                  mapstructure:"source"        validate:"required,oneof=selfie upload url ai-block-output"`
	Order         int    `json:"order"                   yaml:"order"                   mapstructure:"order"`
	URL           string `json:"url,omitempty"           yaml:"url,omitempty"           mapstructure:"url"           validate:"omitempty,url"`
	SourceBlockID string `json:"sourceBlockId,omitempty" yaml:"sourceBlockId,omitempty" mapstructure:"sourceBlockId"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func descriptorValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the structural shape of the descriptor.
func (d Descriptor) Validate() error {
	if err := descriptorValidator().Struct(d); err != nil {
		return fmt.Errorf("reference image %q: %w", d.Name, err)
	}
	return nil
}

// Resolved is a reference image loaded in memory for one block execution.
type Resolved struct {
	Name      string
	Source    Source
	Order     int
	Buffer    []byte
	SizeBytes int
	MIME      string
}

// RunInfo is the part of a generation run the resolver reads.
type RunInfo struct {
	ID        core.ID
	SelfieURL *string
	// Selfie, when set, is the selfie as already loaded or preprocessed by the
	// run. Selfie descriptors resolve to it instead of fetching SelfieURL.
	Selfie []byte
}

// BlockOutputs gives read access to images produced by earlier blocks of the run.
type BlockOutputs interface {
	Output(blockID string) ([]byte, bool)
}

// MapOutputs is a BlockOutputs backed by a plain map.
type MapOutputs map[string][]byte

func (m MapOutputs) Output(blockID string) ([]byte, bool) {
	buf, ok := m[blockID]
	return buf, ok
}

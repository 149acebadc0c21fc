package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/imaging"
	"github.com/compozy/animagen/engine/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cropBlock(id string, order int) Block {
	return Block{
		ID: id, Type: TypePreprocessing, BlockName: BlockCropResize, Order: order,
		Config: map[string]any{"format": "square", "dimension": 1024},
	}
}

func aiBlock(id string, order int, cfg map[string]any) Block {
	base := map[string]any{"model": "gpt-image-1", "prompt": "Portrait of {prenom} {nom}"}
	for k, v := range cfg {
		base[k] = v
	}
	return Block{ID: id, Type: TypeAIGeneration, BlockName: BlockAIGeneration, Order: order, Config: base}
}

func filtersBlock(id string, order int) Block {
	return Block{
		ID: id, Type: TypePostprocessing, BlockName: BlockFilters, Order: order,
		Config: map[string]any{"filters": []any{"grayscale", map[string]any{"name": "contrast", "amount": 0.2}}},
	}
}

func TestDecode(t *testing.T) {
	t.Run("Should decode every variant", func(t *testing.T) {
		crop, err := Decode(cropBlock("c", 1))
		require.NoError(t, err)
		assert.Equal(t, CropResizeSpec{Format: imaging.CropSquare, Dimension: 1024}, crop)

		f, err := Decode(filtersBlock("f", 3))
		require.NoError(t, err)
		assert.Equal(t, []imaging.Filter{{Name: "grayscale"}, {Name: "contrast", Amount: 0.2}}, f.(FiltersSpec).Filters)

		q, err := Decode(Block{ID: "q", BlockName: BlockQuizScoring})
		require.NoError(t, err)
		assert.Nil(t, q.(QuizScoringSpec).Scoring)
	})

	t.Run("Should apply AI defaults without overriding explicit values", func(t *testing.T) {
		spec, err := Decode(aiBlock("ai", 2, map[string]any{"quality": "high", "timeout": "90s"}))

		require.NoError(t, err)
		ai := spec.(AIGenerationSpec)
		assert.Equal(t, DefaultSize, ai.Size)
		assert.Equal(t, "high", ai.Quality)
		assert.Equal(t, 90*time.Second, ai.Timeout)
		assert.Equal(t, ModeNone, ai.Mode())
	})

	t.Run("Should decode reference images", func(t *testing.T) {
		spec, err := Decode(aiBlock("ai", 2, map[string]any{
			"referenceImages": []any{
				map[string]any{"name": "logo", "source": "url", "url": "https://cdn/logo.png", "order": 2.0},
			},
		}))

		require.NoError(t, err)
		refs := spec.(AIGenerationSpec).ReferenceImages
		require.Len(t, refs, 1)
		assert.Equal(t, reference.SourceURL, refs[0].Source)
		assert.Equal(t, 2, refs[0].Order)
	})

	t.Run("Should reject unknown block names", func(t *testing.T) {
		_, err := Decode(Block{ID: "x", BlockName: "watermark"})
		assert.Equal(t, core.ErrCodeInvalidConfig, core.CodeOf(err))
	})

	t.Run("Should reject malformed config", func(t *testing.T) {
		_, err := Decode(Block{ID: "c", BlockName: BlockCropResize, Config: map[string]any{"dimension": "big"}})
		assert.Equal(t, core.ErrCodeInvalidConfig, core.CodeOf(err))
	})
}

func TestCompile(t *testing.T) {
	t.Run("Should sort by order keeping list position for ties", func(t *testing.T) {
		p := Pipeline{Blocks: []Block{filtersBlock("f", 3), aiBlock("a1", 2, nil), aiBlock("a2", 2, nil), cropBlock("c", 1)}}

		plan, err := Compile(p)

		require.NoError(t, err)
		ids := make([]string, 0, plan.Len())
		for _, s := range plan.Steps {
			ids = append(ids, s.Block.ID)
		}
		assert.Equal(t, []string{"c", "a1", "a2", "f"}, ids)
		idx, ok := plan.IndexOf("a2")
		require.True(t, ok)
		assert.Equal(t, 2, idx)
	})

	t.Run("Should resolve source blocks to indexes", func(t *testing.T) {
		p := Pipeline{Blocks: []Block{
			aiBlock("a1", 1, nil),
			aiBlock("a2", 2, map[string]any{"imageUsageMode": "edit", "imageSource": "ai-block-output", "sourceBlockId": "a1"}),
		}}

		plan, err := Compile(p)

		require.NoError(t, err)
		assert.Equal(t, -1, plan.Steps[0].SourceIndex)
		assert.Equal(t, 0, plan.Steps[1].SourceIndex)
	})

	t.Run("Should reject same-order source references", func(t *testing.T) {
		p := Pipeline{Blocks: []Block{
			aiBlock("a1", 1, nil),
			aiBlock("a2", 1, map[string]any{"imageUsageMode": "edit", "imageSource": "ai-block-output", "sourceBlockId": "a1"}),
		}}

		_, err := Compile(p)
		assert.Equal(t, core.ErrCodeInvalidConfig, core.CodeOf(err))
	})

	t.Run("Should reject duplicate ids", func(t *testing.T) {
		_, err := Compile(Pipeline{Blocks: []Block{cropBlock("x", 1), cropBlock("x", 2)}})
		assert.Equal(t, core.ErrCodeInvalidConfig, core.CodeOf(err))
	})
}

func TestOutputs(t *testing.T) {
	t.Run("Should expose only produced outputs", func(t *testing.T) {
		plan, err := Compile(Pipeline{Blocks: []Block{cropBlock("c", 1), aiBlock("ai", 2, nil)}})
		require.NoError(t, err)
		out := plan.NewOutputs()

		out.Set(1, []byte("img"))

		buf, ok := out.Output("ai")
		require.True(t, ok)
		assert.Equal(t, []byte("img"), buf)
		_, ok = out.Output("c")
		assert.False(t, ok)
		_, ok = out.Output("missing")
		assert.False(t, ok)
		assert.Equal(t, map[string][]byte{"ai": []byte("img")}, out.Map())
	})
}

func TestValidate(t *testing.T) {
	selfieInputs := []InputElement{{ID: "photo", Type: InputSelfie}}

	t.Run("Should accept a well formed pipeline", func(t *testing.T) {
		p := Pipeline{Blocks: []Block{cropBlock("c", 1), aiBlock("ai", 2, nil), filtersBlock("f", 3)}}

		v := Validate(p)

		assert.Equal(t, LevelValid, v.Level)
		assert.NoError(t, v.Err())
	})

	t.Run("Should warn when no AI block is configured", func(t *testing.T) {
		v := Validate(Pipeline{Blocks: []Block{cropBlock("c", 1)}})

		assert.Equal(t, LevelWarning, v.Level)
		assert.False(t, v.Blocking())
		assert.Contains(t, v.Issues[0].Message, "no AI block")
	})

	t.Run("Should require an image source for edit modes", func(t *testing.T) {
		v := Validate(Pipeline{Blocks: []Block{aiBlock("ai", 1, map[string]any{"imageUsageMode": "edit"})}})

		assert.Equal(t, LevelError, v.Level)
		assert.Equal(t, core.ErrCodeInvalidConfig, core.CodeOf(v.Err()))
	})

	t.Run("Should treat an explicit none mode like an unset one", func(t *testing.T) {
		v := Validate(Pipeline{Blocks: []Block{aiBlock("ai", 1, map[string]any{"imageUsageMode": "none"})}})

		assert.Equal(t, LevelValid, v.Level)
		assert.NoError(t, v.Err())
	})

	t.Run("Should require a selfie input for selfie sources", func(t *testing.T) {
		block := aiBlock("ai", 1, map[string]any{"imageUsageMode": "edit", "imageSource": "selfie"})

		assert.Equal(t, LevelError, Validate(Pipeline{Blocks: []Block{block}}).Level)
		assert.Equal(t, LevelValid, Validate(Pipeline{Blocks: []Block{block}, Inputs: selfieInputs}).Level)
	})

	t.Run("Should require an imageUrl for url sources", func(t *testing.T) {
		block := aiBlock("ai", 1, map[string]any{"imageUsageMode": "edit", "imageSource": "url"})
		assert.Equal(t, LevelError, Validate(Pipeline{Blocks: []Block{block}}).Level)
	})

	t.Run("Should reject block output references that do not run earlier", func(t *testing.T) {
		edit := func(src string, order int) Block {
			return aiBlock("a2", order, map[string]any{
				"imageUsageMode": "edit", "imageSource": "ai-block-output", "sourceBlockId": src,
			})
		}
		cases := map[string]Pipeline{
			"missing":    {Blocks: []Block{aiBlock("a1", 1, nil), edit("", 2)}},
			"unknown":    {Blocks: []Block{aiBlock("a1", 1, nil), edit("nope", 2)}},
			"same order": {Blocks: []Block{aiBlock("a1", 2, nil), edit("a1", 2)}},
			"later":      {Blocks: []Block{aiBlock("a1", 3, nil), edit("a1", 2)}},
			"self":       {Blocks: []Block{edit("a2", 2)}},
		}
		for name, p := range cases {
			assert.Equal(t, LevelError, Validate(p).Level, name)
		}
		assert.Equal(t, LevelValid, Validate(Pipeline{Blocks: []Block{aiBlock("a1", 1, nil), edit("a1", 2)}}).Level)
	})

	t.Run("Should reject modes the model does not support", func(t *testing.T) {
		block := aiBlock("ai", 1, map[string]any{"model": "dall-e-3", "imageUsageMode": "edit", "imageSource": "url", "imageUrl": "https://cdn/x.png"})

		v := Validate(Pipeline{Blocks: []Block{block}})

		assert.Equal(t, LevelError, v.Level)
		assert.Contains(t, v.Err().Error(), "dall-e-3")
	})

	t.Run("Should warn for models outside the catalog", func(t *testing.T) {
		v := Validate(Pipeline{Blocks: []Block{aiBlock("ai", 1, map[string]any{"model": "imagen-4"})}})
		assert.Equal(t, LevelWarning, v.Level)

		custom := DefaultCatalog().With(ModelInfo{ID: "imagen-4", Provider: "google", Modes: []ImageUsageMode{ModeNone}})
		v = Validate(Pipeline{Blocks: []Block{aiBlock("ai", 1, map[string]any{"model": "imagen-4"})}}, WithCatalog(custom))
		assert.Equal(t, LevelValid, v.Level)
	})

	t.Run("Should note a collected selfie that no block uses", func(t *testing.T) {
		v := Validate(Pipeline{Blocks: []Block{aiBlock("ai", 1, nil)}, Inputs: selfieInputs})
		assert.Equal(t, LevelInfo, v.Level)
	})

	t.Run("Should bound the crop dimension", func(t *testing.T) {
		crop := func(dimension int) Block {
			b := cropBlock("c", 1)
			b.Config["dimension"] = dimension
			return b
		}

		v := Validate(Pipeline{Blocks: []Block{crop(200000), aiBlock("ai", 2, nil)}})

		assert.Equal(t, LevelError, v.Level)
		assert.Equal(t, core.ErrCodeInvalidConfig, core.CodeOf(v.Err()))
		assert.Contains(t, v.Err().Error(), "exceeds the maximum")
		assert.Equal(t, LevelValid, Validate(Pipeline{Blocks: []Block{crop(4096), aiBlock("ai", 2, nil)}}).Level)
	})

	t.Run("Should report unknown block names and bad filters", func(t *testing.T) {
		v := Validate(Pipeline{Blocks: []Block{
			aiBlock("ai", 1, nil),
			{ID: "x", BlockName: "watermark", Order: 2},
			{ID: "f", BlockName: BlockFilters, Order: 3, Config: map[string]any{"filters": []any{"blur"}}},
		}})

		assert.Equal(t, LevelError, v.Level)
		assert.Len(t, v.Issues, 2)
	})
}

func TestLoad(t *testing.T) {
	t.Run("Should load a yaml pipeline", func(t *testing.T) {
		doc := `
name: portrait
inputs:
  - id: photo
    type: selfie
  - id: q1
    type: choice
    options: [Montagne, Ville]
blocks:
  - id: ai
    type: ai-generation
    blockName: ai-generation
    order: 2
    config:
      model: gpt-image-1
      prompt: "Portrait of {prenom}"
      imageUsageMode: edit
      imageSource: selfie
  - id: crop
    type: preprocessing
    blockName: crop-resize
    order: 1
    config:
      format: square
      dimension: 512
`
		p, err := Load(strings.NewReader(doc))

		require.NoError(t, err)
		assert.Equal(t, "portrait", p.Name)
		assert.True(t, p.CollectsSelfie())
		require.Len(t, p.ChoiceQuestions(), 1)
		assert.Equal(t, []string{"Montagne", "Ville"}, p.ChoiceQuestions()[0].Options)
		assert.Equal(t, "crop", p.Sorted()[0].ID)
		assert.Equal(t, LevelValid, Validate(p).Level)
	})

	t.Run("Should reject unknown fields", func(t *testing.T) {
		_, err := Load(strings.NewReader("blocks: []\nsteps: []\n"))
		require.Error(t, err)
	})
}

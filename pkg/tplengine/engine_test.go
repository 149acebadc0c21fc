package tplengine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasTemplate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", false},
		{"no_markers", "plain text", false},
		{"with_delims", "Hello {{ .name }}", true},
		{"with_trim_marker", "Hello {{- .name -}}", true},
		{"single_brace_variable", "Hello {prenom}", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasTemplate(tt.in); got != tt.want {
				t.Fatalf("HasTemplate(%q)=%v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReplaceVariables(t *testing.T) {
	vars := map[string]string{"prenom": "Jean", "nom": "Dupont"}

	t.Run("Should replace every occurrence", func(t *testing.T) {
		out := ReplaceVariables("{prenom} {nom}, {prenom}!", vars)
		assert.Equal(t, "Jean Dupont, Jean!", out)
	})

	t.Run("Should replace unknown identifiers with empty string", func(t *testing.T) {
		out := ReplaceVariables("Hi {unknown}.", vars)
		assert.Equal(t, "Hi .", out)
	})

	t.Run("Should be idempotent on substituted text", func(t *testing.T) {
		once := ReplaceVariables("Portrait of {prenom} {nom}", vars)
		twice := ReplaceVariables(once, vars)
		assert.Equal(t, "Portrait of Jean Dupont", once)
		assert.Equal(t, once, twice)
	})

	t.Run("Should not rescan substituted values", func(t *testing.T) {
		out := ReplaceVariables("{a}", map[string]string{"a": "{b}", "b": "x"})
		assert.Equal(t, "{b}", out)
	})

	t.Run("Should ignore tokens that are not bare identifiers", func(t *testing.T) {
		out := ReplaceVariables("{not a token} {{ .prenom }}", vars)
		assert.Equal(t, "{not a token} {{ .prenom }}", out)
	})
}

func TestReplaceImageVariables(t *testing.T) {
	t.Run("Should label images by ascending order regardless of input order", func(t *testing.T) {
		images := []ImageRef{
			{Name: "fond", Order: 3},
			{Name: "selfie", Order: 1},
			{Name: "logo", Order: 2},
		}
		out := ReplaceImageVariables("{selfie}+{logo}+{fond}", images)
		assert.Equal(t, "Image 1+Image 2+Image 3", out)
	})

	t.Run("Should match names case-insensitively", func(t *testing.T) {
		out := ReplaceImageVariables("use {SELFIE}", []ImageRef{{Name: "Selfie", Order: 1}})
		assert.Equal(t, "use Image 1", out)
	})

	t.Run("Should leave non-image tokens for the variable pass", func(t *testing.T) {
		images := []ImageRef{{Name: "logo", Order: 1}}
		out := ReplaceImageVariables("{prenom} with {logo}", images)
		assert.Equal(t, "{prenom} with Image 1", out)
		assert.Equal(t, "Jean with Image 1", ReplaceVariables(out, map[string]string{"prenom": "Jean"}))
	})

	t.Run("Should return text unchanged without images", func(t *testing.T) {
		assert.Equal(t, "{logo}", ReplaceImageVariables("{logo}", nil))
	})

	t.Run("Should support names with spaces", func(t *testing.T) {
		out := ReplaceImageVariables("{mon logo}", []ImageRef{{Name: "mon logo", Order: 5}})
		assert.Equal(t, "Image 1", out)
	})
}

func TestTemplateEngine(t *testing.T) {
	t.Run("Should evaluate sprig expressions", func(t *testing.T) {
		e := NewEngine(8)
		out, err := e.RenderString("{{ upper .prenom }}", map[string]string{"prenom": "jean"})
		require.NoError(t, err)
		assert.Equal(t, "JEAN", out)
	})

	t.Run("Should render missing keys as empty", func(t *testing.T) {
		e := NewEngine(8)
		out, err := e.RenderString("[{{ .missing }}]", map[string]string{})
		require.NoError(t, err)
		assert.Equal(t, "[]", out)
	})

	t.Run("Should report parse errors", func(t *testing.T) {
		e := NewEngine(8)
		_, err := e.RenderString("{{ .broken", nil)
		require.Error(t, err)
	})

	t.Run("Should cache parsed templates", func(t *testing.T) {
		e := NewEngine(8)
		for range 3 {
			_, err := e.RenderString("{{ .a }}", map[string]string{"a": "1"})
			require.NoError(t, err)
		}
		assert.Equal(t, 1, e.Len())
	})

	t.Run("Should be safe for concurrent use", func(t *testing.T) {
		e := NewEngine(2)
		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				vars := map[string]string{"n": "x"}
				text := []string{"{{ .n }}", "{{ upper .n }}", "{{ lower .n }}"}[i%3]
				_, err := e.RenderString(text, vars)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	})
}

func TestRenderPrompt(t *testing.T) {
	t.Run("Should apply image, variable and expression passes in order", func(t *testing.T) {
		e := NewEngine(0)
		images := []ImageRef{{Name: "selfie", Order: 1}}
		vars := map[string]string{"prenom": "jean", "nom": "Dupont"}

		out, err := e.RenderPrompt("Portrait of {{ title .prenom }} {nom} based on {selfie}", images, vars)

		require.NoError(t, err)
		assert.Equal(t, "Portrait of Jean Dupont based on Image 1", out)
	})
	t.Run("Should not evaluate expressions found in substituted values", func(t *testing.T) {
		e := NewEngine(0)
		t.Setenv("ANIMAGEN_TEST_SECRET", "sk-123")
		vars := map[string]string{"question1": `{{ env "ANIMAGEN_TEST_SECRET" }}`, "nom": "Dupont"}

		plain, err := e.RenderPrompt("Hello {question1}", nil, vars)
		require.NoError(t, err)
		assert.Equal(t, `Hello {{ env "ANIMAGEN_TEST_SECRET" }}`, plain)

		mixed, err := e.RenderPrompt("{{ upper .nom }} says {question1}", nil, vars)
		require.NoError(t, err)
		assert.Equal(t, `DUPONT says {{ env "ANIMAGEN_TEST_SECRET" }}`, mixed)
	})

	t.Run("Should not rescan values inserted by expressions", func(t *testing.T) {
		e := NewEngine(0)
		vars := map[string]string{"question1": "{nom}", "nom": "Dupont"}

		out, err := e.RenderPrompt("{{ .question1 }} and {nom}", nil, vars)

		require.NoError(t, err)
		assert.Equal(t, "{nom} and Dupont", out)
	})

	t.Run("Should keep literal braces next to tokens", func(t *testing.T) {
		e := NewEngine(0)
		vars := map[string]string{"nom": "Dupont"}

		out, err := e.RenderPrompt("{{ lower \"X\" }} {x{nom}} {", nil, vars)

		require.NoError(t, err)
		assert.Equal(t, "x {xDupont} {", out)
	})

	t.Run("Should resolve tokens inside with blocks against the whole context", func(t *testing.T) {
		e := NewEngine(0)
		vars := map[string]string{"prenom": "jean", "nom": "Dupont"}

		out, err := e.RenderPrompt("{{ with .prenom }}{{ title . }} {nom}{{ end }}", nil, vars)

		require.NoError(t, err)
		assert.Equal(t, "Jean Dupont", out)
	})
}

func TestFuncMap(t *testing.T) {
	t.Run("Should not expose environment functions", func(t *testing.T) {
		e := NewEngine(0)
		_, err := e.RenderString(`{{ env "HOME" }}`, nil)
		require.Error(t, err)
		_, err = e.RenderString(`{{ expandenv "$HOME" }}`, nil)
		require.Error(t, err)
	})
}

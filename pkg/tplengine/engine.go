package tplengine

import (
	"bytes"
	"fmt"
	"iter"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 256

// funcMap is sprig without the functions reading the process environment.
var funcMap = func() template.FuncMap {
	fm := sprig.TxtFuncMap()
	delete(fm, "env")
	delete(fm, "expandenv")
	return fm
}()

// literalPattern matches {identifier} tokens and stray opening braces in
// text outside {{ }} actions.
var literalPattern = regexp.MustCompile(`\{(\w+)\}|\{`)

// TemplateEngine evaluates {{ ... }} expressions with sprig functions.
// Parsed templates are cached by source text. Safe for concurrent use.
type TemplateEngine struct {
	cache *lru.Cache[string, *template.Template]
}

// NewEngine creates an engine caching up to cacheSize parsed templates.
func NewEngine(cacheSize int) *TemplateEngine {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *template.Template](cacheSize)
	if err != nil {
		panic(fmt.Sprintf("tplengine: invalid cache size %d: %v", cacheSize, err))
	}
	return &TemplateEngine{cache: cache}
}

// HasTemplate returns true if the text contains template markers
func HasTemplate(text string) bool {
	return strings.Contains(text, "{{")
}

// RenderString evaluates text against vars. Text without markers is returned as is.
// Unknown variables render as the empty string.
func (e *TemplateEngine) RenderString(text string, vars map[string]string) (string, error) {
	if !HasTemplate(text) {
		return text, nil
	}
	tmpl, err := e.parse(text)
	if err != nil {
		return "", err
	}
	if vars == nil {
		vars = map[string]string{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return buf.String(), nil
}

func (e *TemplateEngine) parse(text string) (*template.Template, error) {
	if tmpl, ok := e.cache.Get(text); ok {
		return tmpl, nil
	}
	tmpl, err := template.New("prompt").Option("missingkey=zero").Funcs(funcMap).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	e.cache.Add(text, tmpl)
	return tmpl, nil
}

// Len returns the number of cached templates.
func (e *TemplateEngine) Len() int {
	return e.cache.Len()
}

// RenderPrompt renders an operator prompt. Image labels and {var} tokens in
// the literal text and {{ }} expressions are resolved in one template
// execution, so substituted values are data and never parsed or rescanned.
func (e *TemplateEngine) RenderPrompt(text string, images []ImageRef, vars map[string]string) (string, error) {
	if !HasTemplate(text) {
		return ReplaceVariables(ReplaceImageVariables(text, images), vars), nil
	}
	var src strings.Builder
	for literal, action := range splitActions(text) {
		literal = ReplaceImageVariables(literal, images)
		src.WriteString(literalPattern.ReplaceAllStringFunc(literal, func(token string) string {
			if token == "{" {
				return `{{ "{" }}`
			}
			return `{{ index $ ` + strconv.Quote(token[1:len(token)-1]) + ` }}`
		}))
		src.WriteString(action)
	}
	return e.RenderString(src.String(), vars)
}

// splitActions yields (literal, action) pairs in order. An action keeps its
// delimiters; an unterminated {{ is yielded as an action so parsing reports it.
func splitActions(text string) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for text != "" {
			start := strings.Index(text, "{{")
			if start < 0 {
				yield(text, "")
				return
			}
			end := strings.Index(text[start+2:], "}}")
			if end < 0 {
				yield(text[:start], text[start:])
				return
			}
			end += start + 4
			if !yield(text[:start], text[start:end]) {
				return
			}
			text = text[end:]
		}
	}
}

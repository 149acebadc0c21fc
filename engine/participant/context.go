package participant

import (
	"maps"
	"strconv"
)

const (
	KeyNom    = "nom"
	KeyPrenom = "prenom"
	KeyEmail  = "email"
)

// ExecutionContext maps variable names to their substitution values. Values
// are treated as immutable: With and Merge return a new context.
type ExecutionContext map[string]string

// BuildExecutionContext flattens a submission into substitution variables.
// question<N> follows the order of the submitted answers and only counts
// non-selfie answers.
func BuildExecutionContext(sub Submission) ExecutionContext {
	ctx := ExecutionContext{
		KeyNom:    sub.Nom,
		KeyPrenom: sub.Prenom,
		KeyEmail:  sub.Email,
	}
	n := 0
	for _, a := range sub.Answers {
		if a.IsSelfie() {
			continue
		}
		n++
		value := AnswerText(a)
		ctx["question"+strconv.Itoa(n)] = value
		if a.ElementID != "" {
			ctx["answer_"+a.ElementID] = value
		}
	}
	return ctx
}

func (c ExecutionContext) Clone() ExecutionContext {
	if c == nil {
		return ExecutionContext{}
	}
	return maps.Clone(c)
}

// With returns a copy of c with key set to value.
func (c ExecutionContext) With(key, value string) ExecutionContext {
	out := c.Clone()
	out[key] = value
	return out
}

// Merge returns a copy of c overlaid with entries.
func (c ExecutionContext) Merge(entries map[string]string) ExecutionContext {
	out := c.Clone()
	maps.Copy(out, entries)
	return out
}

// Get returns the value for key, or "" when absent.
func (c ExecutionContext) Get(key string) string {
	return c[key]
}

// Vars exposes c as a plain map for template evaluation.
func (c ExecutionContext) Vars() map[string]string {
	return c
}

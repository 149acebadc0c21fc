package participant

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AnswerTypeSelfie marks the answer carrying the participant photo.
const AnswerTypeSelfie = "selfie"

// Submission is the read-only participant payload for one generation run.
type Submission struct {
	Nom       string   `json:"nom"                 yaml:"nom"`
	Prenom    string   `json:"prenom"              yaml:"prenom"`
	Email     string   `json:"email"               yaml:"email"`
	Answers   []Answer `json:"answers"             yaml:"answers"`
	SelfieURL *string  `json:"selfieUrl,omitempty" yaml:"selfieUrl,omitempty"`
}

// Answer is one submitted form value.
type Answer struct {
	ElementID string `json:"elementId" yaml:"elementId"`
	Type      string `json:"type"      yaml:"type"`
	Value     any    `json:"value"     yaml:"value"`
}

func (a Answer) IsSelfie() bool {
	return strings.EqualFold(a.Type, AnswerTypeSelfie)
}

// HasSelfie reports whether the submission carries a usable selfie URL.
func (s Submission) HasSelfie() bool {
	return s.SelfieURL != nil && strings.TrimSpace(*s.SelfieURL) != ""
}

// FindAnswer returns the first answer for elementID.
func (s Submission) FindAnswer(elementID string) (Answer, bool) {
	for _, a := range s.Answers {
		if a.ElementID == elementID {
			return a, true
		}
	}
	return Answer{}, false
}

// AnswerText renders an answer value as the string used in prompts and scoring.
func AnswerText(a Answer) string {
	return stringify(a.Value)
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return formatFloat(float64(val))
	case float64:
		return formatFloat(val)
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ", ")
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// formatFloat prints whole numbers without a fractional part (7, not 7.0).
func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

package quiz

import (
	"encoding/json"
	"slices"
	"strconv"

	"github.com/compozy/animagen/engine/participant"
	"golang.org/x/text/unicode/norm"
)

// Profile is one possible scoring outcome.
type Profile struct {
	Key         string `json:"key"         yaml:"key"         mapstructure:"key"`
	Name        string `json:"name"        yaml:"name"        mapstructure:"name"`
	Description string `json:"description" yaml:"description" mapstructure:"description"`
	ImageStyle  string `json:"imageStyle"  yaml:"imageStyle"  mapstructure:"imageStyle"`
}

// OptionMapping assigns an answer option to a profile.
type OptionMapping struct {
	OptionText string `json:"optionText" yaml:"optionText" mapstructure:"optionText"`
	ProfileKey string `json:"profileKey" yaml:"profileKey" mapstructure:"profileKey"`
}

type QuestionMapping struct {
	ElementID      string          `json:"elementId"      yaml:"elementId"      mapstructure:"elementId"`
	OptionMappings []OptionMapping `json:"optionMappings" yaml:"optionMappings" mapstructure:"optionMappings"`
}

// Config is the scoring section of a quiz-scoring block.
type Config struct {
	SelectedQuestionIDs []string          `json:"selectedQuestionIds" yaml:"selectedQuestionIds" mapstructure:"selectedQuestionIds"`
	Profiles            []Profile         `json:"profiles"            yaml:"profiles"            mapstructure:"profiles"`
	Questions           []QuestionMapping `json:"questions"           yaml:"questions"           mapstructure:"questions"`
}

// ChoiceQuestion is a participant-facing multiple-choice input.
type ChoiceQuestion struct {
	ElementID string   `json:"elementId" yaml:"elementId"`
	Label     string   `json:"label"     yaml:"label"`
	Options   []string `json:"options"   yaml:"options"`
}

// Result is the outcome of one quiz-scoring block.
type Result struct {
	BlockName string         `json:"blockName"`
	Winner    Profile        `json:"winnerProfile"`
	Scores    map[string]int `json:"scores"`
}

func (c *Config) mapping(elementID string) []OptionMapping {
	for i := range c.Questions {
		if c.Questions[i].ElementID == elementID {
			return c.Questions[i].OptionMappings
		}
	}
	return nil
}

// Execute tallies the selected answers and picks a winning profile. It returns
// nil for an unconfigured block: no config, no selected question or fewer
// than two profiles. Unanswered questions and unmapped answers are skipped.
// Ties go to the alphabetically smallest profile key.
func Execute(blockName string, cfg *Config, sub participant.Submission, questions []ChoiceQuestion) *Result {
	if cfg == nil || len(cfg.SelectedQuestionIDs) == 0 || len(cfg.Profiles) < 2 {
		return nil
	}
	scores := make(map[string]int, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		scores[p.Key] = 0
	}
	for _, id := range cfg.SelectedQuestionIDs {
		answer, ok := sub.FindAnswer(id)
		if !ok {
			continue
		}
		text := answerOption(answer, findQuestion(questions, id))
		for _, m := range cfg.mapping(id) {
			if !sameOption(m.OptionText, text) {
				continue
			}
			if _, known := scores[m.ProfileKey]; known {
				scores[m.ProfileKey]++
			}
			break
		}
	}
	return &Result{
		BlockName: blockName,
		Winner:    winner(cfg.Profiles, scores),
		Scores:    scores,
	}
}

func winner(profiles []Profile, scores map[string]int) Profile {
	ranked := slices.Clone(profiles)
	slices.SortStableFunc(ranked, func(a, b Profile) int {
		if d := scores[b.Key] - scores[a.Key]; d != 0 {
			return d
		}
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return ranked[0]
}

func findQuestion(questions []ChoiceQuestion, elementID string) *ChoiceQuestion {
	for i := range questions {
		if questions[i].ElementID == elementID {
			return &questions[i]
		}
	}
	return nil
}

// sameOption compares option texts after NFC normalization so composed and
// decomposed accents match.
func sameOption(a, b string) bool {
	return a == b || norm.NFC.String(a) == norm.NFC.String(b)
}

// answerOption returns the option text an answer selects. Answers submitted as
// a zero-based option index are translated through the question definition.
func answerOption(a participant.Answer, q *ChoiceQuestion) string {
	text := participant.AnswerText(a)
	if q == nil || slices.ContainsFunc(q.Options, func(o string) bool { return sameOption(o, text) }) {
		return text
	}
	if idx, err := strconv.Atoi(text); err == nil && idx >= 0 && idx < len(q.Options) {
		return q.Options[idx]
	}
	return text
}

// Enrich returns a copy of ctx carrying the scoring result under the
// <blockName>_profile_ prefix. A nil result returns ctx unchanged.
func Enrich(ctx participant.ExecutionContext, r *Result) participant.ExecutionContext {
	if r == nil {
		return ctx
	}
	prefix := r.BlockName + "_profile_"
	return ctx.Merge(map[string]string{
		prefix + "key":         r.Winner.Key,
		prefix + "name":        r.Winner.Name,
		prefix + "description": r.Winner.Description,
		prefix + "image_style": r.Winner.ImageStyle,
		prefix + "scores":      r.ScoresJSON(),
	})
}

// ScoresJSON renders the tally as compact JSON with sorted keys.
func (r *Result) ScoresJSON() string {
	buf, err := json.Marshal(r.Scores)
	if err != nil {
		return "{}"
	}
	return string(buf)
}

package tplengine

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// variablePattern matches single-brace identifiers such as {prenom}.
var variablePattern = regexp.MustCompile(`\{(\w+)\}`)

// ImageRef names a reference image and its position.
type ImageRef struct {
	Name  string
	Order int
}

// ReplaceVariables replaces every {identifier} with vars[identifier].
// Unknown identifiers become the empty string. Substituted values are not rescanned.
func ReplaceVariables(text string, vars map[string]string) string {
	if !strings.Contains(text, "{") {
		return text
	}
	return variablePattern.ReplaceAllStringFunc(text, func(token string) string {
		return vars[token[1:len(token)-1]]
	})
}

// ReplaceImageVariables replaces tokens naming a reference image
// (case-insensitive) with "Image <k>", k being the 1-based rank of the image
// by ascending Order. Other tokens are left for ReplaceVariables.
func ReplaceImageVariables(text string, images []ImageRef) string {
	if len(images) == 0 || !strings.Contains(text, "{") {
		return text
	}
	sorted := slices.Clone(images)
	slices.SortStableFunc(sorted, func(a, b ImageRef) int {
		return a.Order - b.Order
	})
	seen := make(map[string]bool, len(sorted))
	for i, img := range sorted {
		key := strings.ToLower(img.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		pattern := regexp.MustCompile(`(?i)\{` + regexp.QuoteMeta(img.Name) + `\}`)
		text = pattern.ReplaceAllLiteralString(text, "Image "+strconv.Itoa(i+1))
	}
	return text
}

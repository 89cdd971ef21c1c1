package session

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/duckmesh/askdb/internal/ambiguity"
)

// Clarification is a question the session is waiting on. OriginalQuery is the
// user's question as asked, before any context enrichment.
type Clarification struct {
	Term          string             `json:"term"`
	Options       []string           `json:"options"`
	Question      string             `json:"question"`
	Category      ambiguity.Category `json:"category"`
	OriginalQuery string             `json:"original_query"`
}

func NewClarification(c ambiguity.Clarification, originalQuery string) Clarification {
	return Clarification{
		Term:          c.Term,
		Options:       append([]string(nil), c.Options...),
		Question:      c.Question,
		Category:      c.Category,
		OriginalQuery: originalQuery,
	}
}

var (
	wordPattern = regexp.MustCompile(`[a-z0-9%]+`)
	fillerWords = map[string]bool{
		"a": true, "an": true, "the": true, "by": true, "of": true, "i": true,
		"mean": true, "meant": true, "than": true, "in": true, "is": true,
	}
)

// SelectOption picks the option the reply refers to: a 1-based option number,
// or the option sharing the most significant words with the reply, earliest
// first on ties. It falls back to the trimmed reply itself.
func (c Clarification) SelectOption(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= len(c.Options) {
		return c.Options[n-1]
	}
	replyWords := make(map[string]bool)
	for _, word := range wordPattern.FindAllString(strings.ToLower(trimmed), -1) {
		if !fillerWords[word] {
			replyWords[word] = true
		}
	}
	best, bestScore := "", 0
	for _, option := range c.Options {
		score := 0
		for _, word := range wordPattern.FindAllString(strings.ToLower(option), -1) {
			if !fillerWords[word] && replyWords[word] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = option, score
		}
	}
	if bestScore > 0 {
		return best
	}
	return trimmed
}

// Merge folds reply into the original question by qualifying every
// whole-word occurrence of the ambiguous term with the chosen option.
func (c Clarification) Merge(reply string) string {
	option := c.SelectOption(reply)
	if c.Term == "" || option == "" {
		return c.OriginalQuery
	}
	pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(c.Term) + `\b`)
	if !pattern.MatchString(c.OriginalQuery) {
		return strings.TrimSpace(c.OriginalQuery + " (" + c.Term + " by " + option + ")")
	}
	return pattern.ReplaceAllStringFunc(c.OriginalQuery, func(term string) string {
		return term + " by " + option
	})
}

// Package intent separates questions that need the database from general
// conversation about it.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/askdb/internal/nl2sql"
)

type Intent string

const (
	SQLQuery    Intent = "SQL_QUERY"
	GeneralChat Intent = "GENERAL_CHAT"
)

const classifyTemperature = 0.1

var (
	greetings = map[string]bool{
		"hi": true, "hello": true, "hey": true, "greetings": true, "good morning": true, "good evening": true,
	}
	helpPhrases    = []string{"what can you do", "help me", "how to use", "capabilities"}
	summaryPhrases = []string{"what is this dataset", "explain this database", "summary of data", "tell me about the data"}
)

const classifyPrompt = `You are an intent classifier for a SQL Assistant.
Determine if the user's input requires executing a SQL query on the database or if it is a general chat/greeting/summary request.

USER INPUT: %q

RULES:
- "Show me users", "How many...", "List..." -> SQL_QUERY
- "What is this dataset?", "Hi", "Help", "Explain the schema" -> GENERAL_CHAT
- "Who are the customers?" -> SQL_QUERY
- "Analyze the sales" -> SQL_QUERY

RESPONSE FORMAT:
One word: SQL_QUERY or GENERAL_CHAT
`

type Classifier struct {
	model  nl2sql.Model
	logger *slog.Logger
}

func NewClassifier(model nl2sql.Model, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{model: model, logger: logger}
}

// Classify returns the intent and a short reason. Obvious phrases are
// decided locally; everything else asks the model, and any model failure
// falls back to SQL_QUERY.
func (c *Classifier) Classify(ctx context.Context, question string) (Intent, string) {
	q := strings.ToLower(strings.TrimSpace(question))
	if greetings[q] {
		return GeneralChat, "Detected greeting"
	}
	if containsAny(q, helpPhrases) {
		return GeneralChat, "Detected help request"
	}
	if containsAny(q, summaryPhrases) {
		return GeneralChat, "Detected dataset summary request"
	}
	if c.model == nil {
		return SQLQuery, "No classifier model configured, defaulting to SQL"
	}

	response, err := c.model.Generate(ctx, fmt.Sprintf(classifyPrompt, question), classifyTemperature)
	if err != nil {
		c.logger.WarnContext(ctx, "intent classification failed", "error", err)
		return SQLQuery, "Classification failed, defaulting to SQL"
	}
	if strings.Contains(strings.ToUpper(response), "SQL") {
		return SQLQuery, "Model classified as requiring database access"
	}
	return GeneralChat, "Model classified as general conversation"
}

func containsAny(s string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}

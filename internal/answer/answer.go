// Package answer turns query results into prose and proposes questions.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/query"
	"github.com/duckmesh/askdb/internal/schema"
)

const (
	answerTemperature      = 0.3
	chatTemperature        = 0.7
	initialTemperature     = 0.7
	relatedTemperature     = 0.6
	previewRows            = 10
	initialQuestionCount   = 4
	relatedQuestionCount   = 3
	summaryTables          = 5
	summaryColumnsPerTable = 5
)

type Answerer struct {
	model  nl2sql.Model
	logger *slog.Logger
}

func New(model nl2sql.Model, logger *slog.Logger) *Answerer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Answerer{model: model, logger: logger}
}

// Final asks the model to phrase the result and falls back to Interpret.
func (a *Answerer) Final(ctx context.Context, question, sqlText string, result query.Result) string {
	if a.model == nil {
		return Interpret(question, result)
	}
	prompt := fmt.Sprintf(`You are a helpful data analyst. Based on the user's question and the query results, provide a clear, natural language answer.

USER QUESTION:
%s

SQL QUERY EXECUTED:
%s

QUERY RESULTS:
%s

TOTAL ROWS RETURNED: %d

INSTRUCTIONS:
1. Provide a direct, conversational answer to the user's question
2. If there are results, summarize the key findings
3. If no results, explain what this means in context
4. Use specific numbers and data from the results
5. Keep the answer concise but informative
6. Use markdown formatting for emphasis (bold for key numbers)
7. If it's a count/total, state it clearly
8. If listing items, mention the top few and total count

YOUR ANSWER:`, question, sqlText, ResultTable(result, previewRows), result.RowCount)

	text, err := a.model.Generate(ctx, prompt, answerTemperature)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			a.logger.WarnContext(ctx, "answer generation failed, using interpretation", "error", err)
		}
		return Interpret(question, result)
	}
	return strings.TrimSpace(text)
}

// ResultTable renders up to limit rows as a markdown table.
func ResultTable(result query.Result, limit int) string {
	if len(result.Rows) == 0 {
		return "No rows returned (empty result set)"
	}
	var lines []string
	if len(result.Columns) > 0 {
		lines = append(lines,
			"| "+strings.Join(result.Columns, " | ")+" |",
			"|"+strings.TrimSuffix(strings.Repeat("---|", len(result.Columns)), "|")+"|",
		)
	}
	for _, row := range result.Rows[:min(limit, len(result.Rows))] {
		cells := make([]string, 0, len(row))
		for _, value := range row {
			switch v := value.(type) {
			case nil:
				cells = append(cells, "NULL")
			case float64:
				cells = append(cells, fmt.Sprintf("%.2f", v))
			default:
				cells = append(cells, fmt.Sprint(v))
			}
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}
	if result.RowCount > limit {
		lines = append(lines, fmt.Sprintf("\n... and %d more rows", result.RowCount-limit))
	}
	return strings.Join(lines, "\n")
}

func schemaSummary(s schema.Schema, tables int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database contains %d tables: %s\n", s.Len(), strings.Join(s.TableNames(), ", "))
	for _, table := range s.Tables[:min(tables, s.Len())] {
		columns := table.ColumnNames()
		fmt.Fprintf(&b, "- %s: %s...\n", table.Name, strings.Join(columns[:min(summaryColumnsPerTable, len(columns))], ", "))
	}
	return b.String()
}

// Chat answers a general question using the schema as context.
func (a *Answerer) Chat(ctx context.Context, question string, s schema.Schema) (string, error) {
	if a.model == nil {
		return fmt.Sprintf("I can answer questions about this database. It has %d tables: %s.", s.Len(), strings.Join(s.TableNames(), ", ")), nil
	}
	prompt := fmt.Sprintf(`You are a helpful SQL Assistant powered by a database.
The user asked a general question (not a specific SQL query).
Answer them helpfully using the database context if relevant.

DATABASE CONTEXT:
%s
USER QUESTION:
%s

INSTRUCTIONS:
1. If asked about the dataset, summarize what kind of data is in the tables.
2. If it's a greeting, welcome them and mention what you can query.
3. If asking for help, suggest 3 sample queries relevant to this specific schema.
4. Keep it conversational and helpful.
5. Do NOT generate SQL code blocks.

YOUR ANSWER:
`, schemaSummary(s, summaryTables), question)

	text, err := a.model.Generate(ctx, prompt, chatTemperature)
	if err != nil {
		return "", fmt.Errorf("general chat: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// InitialQuestions proposes four starter questions for a fresh upload.
func (a *Answerer) InitialQuestions(ctx context.Context, s schema.Schema) []string {
	if s.Len() == 0 {
		return []string{}
	}
	if a.model != nil {
		prompt := fmt.Sprintf(`You are a SQL expert. Analyze this database schema and generate 4 diverse, interesting questions a user might want to ask.

SCHEMA:
%s
RULES:
1. Generate natural language questions (no SQL).
2. Covering different complexity levels:
   - 1 Simple (Count/List)
   - 1 Moderate (Group By/Top N)
   - 1 Complex (Join/Filter)
   - 1 Business Insight (Trends/Performance)
3. Keep them concise (under 15 words).
4. Return ONLY the 4 questions, one per line.

QUESTIONS:
`, schemaSummary(s, initialQuestionCount))
		text, err := a.model.Generate(ctx, prompt, initialTemperature)
		if err == nil {
			if questions := splitQuestions(text, initialQuestionCount); len(questions) > 0 {
				return questions
			}
		} else {
			a.logger.WarnContext(ctx, "initial question generation failed", "error", err)
		}
	}

	first := s.Tables[0].Name
	second := first
	if s.Len() > 1 {
		second = s.Tables[1].Name
	}
	return []string{
		fmt.Sprintf("Show me the first 10 %s", first),
		fmt.Sprintf("How many %s are there?", first),
		fmt.Sprintf("List all %s", second),
		"What tables are in this database?",
	}
}

// RelatedQuestions proposes up to three follow-ups; failures yield none.
func (a *Answerer) RelatedQuestions(ctx context.Context, question string) []string {
	if a.model == nil {
		return []string{}
	}
	prompt := fmt.Sprintf(`Based on the user's last question about a database, suggest 3 relevant follow-up questions.

LAST QUESTION: %q

RULES:
1. Suggest questions that dig deeper (e.g., if asked for "total sales", suggest "sales by year").
2. Suggest questions that filter or slice the data differently.
3. Suggest one "Insight" question.
4. Keep them concise.
5. Return ONLY 3 questions, one per line.

SUGGESTIONS:
`, question)
	text, err := a.model.Generate(ctx, prompt, relatedTemperature)
	if err != nil {
		a.logger.WarnContext(ctx, "related question generation failed", "error", err)
		return []string{}
	}
	return splitQuestions(text, relatedQuestionCount)
}

func splitQuestions(text string, limit int) []string {
	out := make([]string, 0, limit)
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "- "))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == limit {
			break
		}
	}
	return out
}

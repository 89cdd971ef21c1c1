// Package nl2sql turns a planned question into a SQL statement by prompting a
// language model and cleaning up its answer.
package nl2sql

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/planner"
	"github.com/duckmesh/askdb/internal/schema"
)

type Request struct {
	Plan         planner.Plan
	Schema       schema.Schema
	Question     string
	RetryContext string
}

type Generation struct {
	SQL        string             `json:"sql"`
	Reasoning  string             `json:"reasoning"`
	Complexity planner.Complexity `json:"complexity"`
}

type Generator struct {
	model       Model
	temperature float64
	logger      *slog.Logger
}

type GeneratorOption func(*Generator)

func WithTemperature(temperature float64) GeneratorOption {
	return func(g *Generator) { g.temperature = temperature }
}

func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewGenerator(model Model, opts ...GeneratorOption) *Generator {
	g := &Generator{model: model, temperature: DefaultTemperature, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DetectComplexity grades the question with the same phrase families the
// planner uses, so prompt guidance and plan never disagree.
func DetectComplexity(question string, plan planner.Plan) planner.Complexity {
	return planner.ClassifyComplexity(question, plan)
}

// Generate builds the prompt, calls the model once and parses the response.
// Every failure is a *GenerationError.
func (g *Generator) Generate(ctx context.Context, req Request) (Generation, error) {
	complexity := DetectComplexity(req.Question, req.Plan)
	prompt := BuildPrompt(PromptInput{
		Schema:       req.Schema,
		Plan:         req.Plan,
		Question:     req.Question,
		Complexity:   complexity,
		RetryContext: req.RetryContext,
	})

	start := time.Now()
	raw, err := g.model.Generate(ctx, prompt, g.temperature)
	if err != nil {
		observability.ObserveGeneration("model_error", string(complexity), time.Since(start))
		g.logger.WarnContext(ctx, "sql generation model call failed",
			slog.String("complexity", string(complexity)),
			slog.Bool("retry", req.RetryContext != ""),
			slog.Any("error", err),
		)
		return Generation{}, &GenerationError{Err: err}
	}

	sql, reasoning, err := ParseResponse(raw)
	if err != nil {
		observability.ObserveGeneration("no_sql", string(complexity), time.Since(start))
		g.logger.WarnContext(ctx, "model response contained no sql",
			slog.String("complexity", string(complexity)),
			slog.Int("response_bytes", len(raw)),
		)
		return Generation{}, &GenerationError{Err: err, Raw: raw}
	}

	observability.ObserveGeneration("ok", string(complexity), time.Since(start))
	g.logger.DebugContext(ctx, "sql generated",
		slog.String("complexity", string(complexity)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return Generation{SQL: sql, Reasoning: reasoning, Complexity: complexity}, nil
}

// IsNoSQL reports whether err is a generation failure caused by an unusable
// model response rather than a transport error.
func IsNoSQL(err error) bool {
	return errors.Is(err, ErrNoSQL)
}

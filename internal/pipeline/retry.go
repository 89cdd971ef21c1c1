package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/duckmesh/askdb/internal/correction"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/planner"
	"github.com/duckmesh/askdb/internal/query"
	"github.com/duckmesh/askdb/internal/schema"
	"github.com/duckmesh/askdb/internal/session"
	"github.com/duckmesh/askdb/internal/validation"
)

const stepTextLimit = 50

type runInput struct {
	question string
	enriched string
	plan     planner.Plan
	refined  schema.Schema
	gen      nl2sql.Generation
	steps    *trail
}

type runResult struct {
	sql       string
	reasoning string
	result    query.Result
	attempts  []Attempt

	// Set only when the run ended without a result.
	failure FailureKind
	answer  string
	err     string
}

// execute validates and runs the generated statement. Each failed execution
// is analyzed; a mechanical fix is applied in place, a retryable error
// triggers one regeneration, anything else stops the run. The statement is
// executed at most MaxRetries+1 times.
func (p *Pipeline) execute(ctx context.Context, sess *session.Session, in runInput) runResult {
	steps := in.steps
	corrector := correction.New(sess.Schema)
	run := runResult{sql: in.gen.SQL, reasoning: in.gen.Reasoning}

	for attempt := 0; attempt <= correction.MaxRetries; attempt++ {
		steps.add("validate", "Validating safety...")
		if err := validation.ValidateSQL(run.sql); err != nil {
			steps.addStatus("validate", "Validation failed", StepError)
			run.failure = FailureValidation
			run.answer = "Validation failed."
			run.err = err.Error()
			return run
		}

		steps.add("execute", "Executing query...")
		start := time.Now()
		result, err := p.engine.Execute(ctx, query.Request{Database: sess.DatabasePath, SQL: run.sql, MaxRows: p.maxRows})
		if err == nil {
			observability.ObserveExecution("ok", time.Since(start))
			run.result = result
			return run
		}
		observability.ObserveExecution("error", time.Since(start))

		diagnostic := err.Error()
		var execErr *query.ExecutionError
		if errors.As(err, &execErr) {
			diagnostic = execErr.Diagnostic
		}
		run.attempts = append(run.attempts, Attempt{SQL: run.sql, Error: diagnostic})
		p.logger.DebugContext(ctx, "execution failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", diagnostic),
		)

		if attempt == correction.MaxRetries {
			run.failure = FailureExhausted
			run.answer = "I encountered errors executing the query after multiple attempts."
			run.err = diagnostic
			return run
		}
		if ctx.Err() != nil {
			run.failure = FailureExecution
			run.answer = "The query could not be executed."
			run.err = diagnostic
			return run
		}

		fix := corrector.Analyze(diagnostic, run.sql)
		steps.addStatus("retry", fmt.Sprintf("Retrying (%d/%d): %s", attempt+1, correction.MaxRetries, truncate(fix.Suggestion(), stepTextLimit)), StepRetry)
		if !fix.Retryable() {
			observability.ObserveCorrection(string(fix.Kind()), "none")
			run.failure = FailureExecution
			run.answer = fmt.Sprintf("The query could not be executed. %s", fix.Suggestion())
			run.err = diagnostic
			return run
		}

		if fixed, ok := correction.Apply(run.sql, fix); ok {
			observability.ObserveCorrection(string(fix.Kind()), "mechanical")
			steps.add("fix", fmt.Sprintf("Applied fix: %s", truncate(fix.Hint(), stepTextLimit)))
			run.sql = fixed
			continue
		}

		observability.ObserveCorrection(string(fix.Kind()), "regenerate")
		steps.add("regenerate", "Regenerating SQL with error feedback...")
		// The model must see the table it is told to join.
		if join, ok := fix.(correction.MissingJoin); ok {
			in.refined = in.refined.Widen(sess.Schema, join.JoinTable)
		}
		retryContext := correction.RetryPrompt(in.question, run.sql, diagnostic, fix, sess.Schema)
		regenerated, err := p.generator.Generate(ctx, nl2sql.Request{
			Plan:         in.plan,
			Schema:       in.refined,
			Question:     in.enriched,
			RetryContext: retryContext,
		})
		if err != nil {
			// The previous statement is executed again.
			steps.addStatus("regenerate", fmt.Sprintf("Regeneration failed: %s", truncate(err.Error(), stepTextLimit)), StepError)
			continue
		}
		run.sql = regenerated.SQL
		run.reasoning += fmt.Sprintf("\n\n[Retry %d] %s", attempt+1, regenerated.Reasoning)
	}
	return run
}

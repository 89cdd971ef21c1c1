// Package pipeline answers one question for a session: it resolves
// clarifications, plans and generates SQL, executes it and repairs failed
// statements within a fixed retry budget.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckmesh/askdb/internal/ambiguity"
	"github.com/duckmesh/askdb/internal/catalog"
	"github.com/duckmesh/askdb/internal/intent"
	"github.com/duckmesh/askdb/internal/meta"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/planner"
	"github.com/duckmesh/askdb/internal/query"
	"github.com/duckmesh/askdb/internal/schema"
	"github.com/duckmesh/askdb/internal/schema/refiner"
	"github.com/duckmesh/askdb/internal/session"
)

var ErrEmptyQuestion = errors.New("question cannot be empty")

type SQLGenerator interface {
	Generate(ctx context.Context, req nl2sql.Request) (nl2sql.Generation, error)
}

type IntentClassifier interface {
	Classify(ctx context.Context, question string) (intent.Intent, string)
}

type Answerer interface {
	Final(ctx context.Context, question, sqlText string, result query.Result) string
	Chat(ctx context.Context, question string, s schema.Schema) (string, error)
	RelatedQuestions(ctx context.Context, question string) []string
}

type Exporter interface {
	Export(ctx context.Context, sessionID string, turn int64, result query.Result) (string, error)
}

type Pipeline struct {
	store      *session.Store
	generator  SQLGenerator
	engine     query.Engine
	answerer   Answerer
	classifier IntentClassifier
	exporter   Exporter
	history    catalog.Repository
	refine     refiner.Options
	maxRows    int
	logger     *slog.Logger
}

type Option func(*Pipeline)

func WithClassifier(classifier IntentClassifier) Option {
	return func(p *Pipeline) { p.classifier = classifier }
}

func WithExporter(exporter Exporter) Option {
	return func(p *Pipeline) { p.exporter = exporter }
}

func WithHistory(history catalog.Repository) Option {
	return func(p *Pipeline) { p.history = history }
}

func WithRefinerOptions(opts refiner.Options) Option {
	return func(p *Pipeline) { p.refine = opts }
}

func WithMaxRows(maxRows int) Option {
	return func(p *Pipeline) {
		if maxRows > 0 {
			p.maxRows = maxRows
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(store *session.Store, generator SQLGenerator, engine query.Engine, answerer Answerer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		generator: generator,
		engine:    engine,
		answerer:  answerer,
		maxRows:   query.DefaultMaxRows,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type askConfig struct {
	export bool
}

type AskOption func(*askConfig)

// WithExport stores a successful result as Parquet when an exporter is set.
func WithExport(export bool) AskOption {
	return func(c *askConfig) { c.export = export }
}

// Ask processes one question while holding the session's lock. The returned
// error is reserved for unknown sessions, empty questions and cancellation;
// every pipeline failure is reported through Outcome.
func (p *Pipeline) Ask(ctx context.Context, sessionID, question string, opts ...AskOption) (Outcome, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Outcome{}, ErrEmptyQuestion
	}
	ctx = observability.ContextWithSessionID(ctx, sessionID)
	var cfg askConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	var out Outcome
	err := p.store.With(sessionID, func(sess *session.Session) error {
		var askErr error
		out, askErr = p.ask(ctx, sess, question, cfg)
		return askErr
	})
	if err != nil {
		return Outcome{}, err
	}

	observability.ObserveQuestion(out.MetricLabel(), time.Since(start))
	logAttrs := []any{
		slog.String("kind", string(out.Kind)),
		slog.Int("retries", out.Retries),
		slog.Duration("elapsed", time.Since(start)),
	}
	if out.Kind == KindFailure {
		p.logger.WarnContext(ctx, "question failed", append(logAttrs,
			slog.String("failure_kind", string(out.Failure)),
			slog.String("error", out.Error),
		)...)
	} else {
		p.logger.InfoContext(ctx, "question answered", logAttrs...)
	}
	return out, nil
}

func (p *Pipeline) ask(ctx context.Context, sess *session.Session, input string, cfg askConfig) (Outcome, error) {
	steps := &trail{}

	if q, ok := meta.Detect(input); ok {
		steps.add("meta", fmt.Sprintf("Detected meta-query: %s", q.Kind))
		res := meta.Answer(q, sess.Schema)
		sess.Memory.AddUser(input)
		sess.Memory.AddSystem(res.Answer)
		out := Outcome{
			Kind:        KindMeta,
			Question:    input,
			Answer:      res.Answer,
			Reasoning:   res.Reasoning,
			SQL:         res.SQL,
			Columns:     res.Columns,
			Rows:        res.Rows,
			RowCount:    len(res.Rows),
			Suggestions: []string{},
			Steps:       steps.list(),
		}
		p.record(ctx, sess, input, input, out)
		return out, nil
	}

	if sess.Clarification == nil && p.classifier != nil {
		if kind, reason := p.classifier.Classify(ctx, input); kind == intent.GeneralChat {
			steps.add("chat", "General conversation detected")
			text, err := p.answerer.Chat(ctx, input, sess.Schema)
			if err != nil {
				p.logger.WarnContext(ctx, "general chat failed", slog.Any("error", err))
				text = "I'm having trouble responding right now. Please try asking a question about your data."
			}
			sess.Memory.AddUser(input)
			sess.Memory.AddSystem(text)
			out := Outcome{
				Kind:        KindChat,
				Question:    input,
				Answer:      text,
				Reasoning:   reason,
				Suggestions: []string{},
				Steps:       steps.list(),
			}
			p.record(ctx, sess, input, input, out)
			return out, nil
		}
	}

	resolving := sess.Clarification != nil
	userQuery := input
	if resolving {
		steps.add("clarification", "Processing clarification...")
		userQuery = sess.Clarification.Merge(input)
		sess.Clarification = nil
	}

	enriched := session.Enrich(sess.Memory.Context(session.ContextTurns), userQuery)
	sess.Memory.AddUser(userQuery)

	if !resolving {
		if c, ok := ambiguity.DetectForSchema(userQuery, sess.Schema); ok {
			steps.add("ambiguity", fmt.Sprintf("Ambiguity: '%s'", c.Term))
			pending := session.NewClarification(c, userQuery)
			sess.Clarification = &pending
			sess.Memory.AddSystem(c.Question)
			observability.IncrementClarification(string(c.Category))
			out := Outcome{
				Kind:     KindClarification,
				Question: input,
				Answer:   c.Question,
				Clarification: &Clarification{
					Question: c.Question,
					Term:     c.Term,
					Options:  append([]string(nil), c.Options...),
					Category: string(c.Category),
				},
				Suggestions: []string{},
				Steps:       steps.list(),
			}
			p.record(ctx, sess, input, userQuery, out)
			return out, nil
		}
	}

	steps.add("refine", "Analyzing schema context...")
	refinement := refiner.RefineDetailed(sess.Schema, enriched, p.refine)
	refined := refinement.Schema
	p.logger.DebugContext(ctx, "schema refined",
		slog.Any("seeds", refinement.Seeds),
		slog.Any("tables", refined.TableNames()),
	)

	plan := planner.Create(userQuery, refined)
	if plan.NeedsJoin {
		steps.add("plan", "JOIN required")
	}
	if plan.Aggregation != "" {
		steps.add("plan", fmt.Sprintf("Aggregation: %s", plan.Aggregation))
	}
	steps.add("plan", fmt.Sprintf("Strategy: %s query", strings.ToUpper(string(plan.Complexity))))

	steps.add("generate", "Generating SQL...")
	gen, err := p.generator.Generate(ctx, nl2sql.Request{Plan: plan, Schema: refined, Question: enriched})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		steps.addStatus("generate", "Generation failed", StepError)
		out := failure(input, FailureGeneration, "Generation failed.", err.Error(), "", nil, steps)
		p.record(ctx, sess, input, userQuery, out)
		return out, nil
	}

	run := p.execute(ctx, sess, runInput{
		question: userQuery,
		enriched: enriched,
		plan:     plan,
		refined:  refined,
		gen:      gen,
		steps:    steps,
	})
	if run.failure != "" {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		out := failure(input, run.failure, run.answer, run.err, run.sql, run.attempts, steps)
		out.Reasoning = run.reasoning
		p.record(ctx, sess, input, userQuery, out)
		return out, nil
	}

	steps.add("answer", "Constructing answer...")
	finalAnswer := p.answerer.Final(ctx, userQuery, run.sql, run.result)
	sess.Memory.AddSystem(finalAnswer)
	sess.Questions++

	out := Outcome{
		Kind:        KindSuccess,
		Question:    input,
		Answer:      finalAnswer,
		Reasoning:   run.reasoning,
		SQL:         run.sql,
		Columns:     run.result.Columns,
		Rows:        run.result.Rows,
		RowCount:    run.result.RowCount,
		Truncated:   run.result.Truncated,
		Retries:     len(run.attempts),
		Attempts:    run.attempts,
		Suggestions: p.answerer.RelatedQuestions(ctx, userQuery),
	}
	if cfg.export && p.exporter != nil {
		key, err := p.exporter.Export(ctx, sess.ID, sess.Questions, run.result)
		if err != nil {
			p.logger.WarnContext(ctx, "result export failed", slog.Any("error", err))
			steps.addStatus("export", "Export failed", StepError)
		} else {
			out.ExportKey = key
			steps.add("export", "Result exported")
		}
	}
	steps.add("done", "Done!")
	out.Steps = steps.list()
	p.record(ctx, sess, input, userQuery, out)
	return out, nil
}

func failure(question string, kind FailureKind, answer, errText, sqlText string, attempts []Attempt, steps *trail) Outcome {
	return Outcome{
		Kind:        KindFailure,
		Question:    question,
		Answer:      answer,
		SQL:         sqlText,
		Failure:     kind,
		Error:       errText,
		Attempts:    attempts,
		Retries:     len(attempts),
		Suggestions: []string{},
		Steps:       steps.list(),
	}
}

// record writes the turn to the history repository. History is best effort.
func (p *Pipeline) record(ctx context.Context, sess *session.Session, question, resolved string, out Outcome) {
	if p.history == nil {
		return
	}
	turn, err := p.history.RecordTurn(ctx, catalog.RecordTurnInput{
		SessionID:        sess.ID,
		Question:         question,
		ResolvedQuestion: resolved,
		Outcome:          string(out.Kind),
		FailureKind:      string(out.Failure),
		SQL:              out.SQL,
		Answer:           out.Answer,
		RowCount:         out.RowCount,
		Retries:          out.Retries,
		ExportKey:        out.ExportKey,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "record turn failed", slog.Any("error", err))
		return
	}
	if len(out.Attempts) == 0 {
		return
	}
	attempts := make([]catalog.AttemptInput, 0, len(out.Attempts))
	for _, attempt := range out.Attempts {
		attempts = append(attempts, catalog.AttemptInput{SQL: attempt.SQL, Error: attempt.Error})
	}
	if err := p.history.RecordAttempts(ctx, turn.TurnID, attempts); err != nil {
		p.logger.WarnContext(ctx, "record attempts failed",
			slog.Int64("turn_id", turn.TurnID),
			slog.Any("error", err),
		)
	}
}

package nl2sql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/duckmesh/askdb/internal/planner"
	"github.com/duckmesh/askdb/internal/schema"
)

func musicSchema() schema.Schema {
	return schema.Schema{Tables: []schema.Table{
		{Name: "Customer", Columns: []schema.Column{{Name: "CustomerId", Type: "INTEGER", PrimaryKey: true}, {Name: "Country", Type: "TEXT"}}},
		{Name: "Invoice", Columns: []schema.Column{{Name: "InvoiceId", Type: "INTEGER", PrimaryKey: true}, {Name: "CustomerId", Type: "INTEGER"}, {Name: "Shipped", Type: "INTEGER"}},
			ForeignKeys: []schema.ForeignKey{{Column: "CustomerId", RefTable: "Customer", RefColumn: "CustomerId"}}},
	}}
}

func TestGeneratorGenerate(t *testing.T) {
	var gotPrompt string
	var gotTemperature float64
	model := ModelFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		gotPrompt = prompt
		gotTemperature = temperature
		return "REASONING:\nCount customers.\n\nSQL:\nSELECT COUNT(*) FROM Customer", nil
	})
	s := musicSchema()
	question := "how many customers are there"
	plan := planner.Create(question, s)

	gen, err := NewGenerator(model).Generate(context.Background(), Request{Plan: plan, Schema: s, Question: question})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gen.SQL != "SELECT COUNT(*) FROM Customer" {
		t.Fatalf("SQL = %q", gen.SQL)
	}
	if gen.Reasoning != "Count customers." {
		t.Fatalf("Reasoning = %q", gen.Reasoning)
	}
	if gen.Complexity != planner.ComplexityModerate {
		t.Fatalf("Complexity = %q", gen.Complexity)
	}
	if gotTemperature != DefaultTemperature {
		t.Fatalf("temperature = %v", gotTemperature)
	}
	if !strings.HasSuffix(gotPrompt, "REASONING:\n") {
		t.Fatal("prompt should end with REASONING:")
	}
	if strings.Contains(gotPrompt, "PREVIOUS ATTEMPT (FAILED)") {
		t.Fatal("first attempt prompt must not carry a retry block")
	}
}

func TestGeneratorIncludesRetryContext(t *testing.T) {
	var gotPrompt string
	model := ModelFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		gotPrompt = prompt
		return "SQL: SELECT CustomerId FROM Customer", nil
	})
	_, err := NewGenerator(model, WithTemperature(0.3)).Generate(context.Background(), Request{
		Schema:       musicSchema(),
		Question:     "list customers",
		RetryContext: "no such column: Custmer",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(gotPrompt, "PREVIOUS ATTEMPT (FAILED)\n") || !strings.Contains(gotPrompt, "no such column: Custmer") {
		t.Fatalf("retry context missing from prompt:\n%s", gotPrompt)
	}
}

func TestGeneratorWrapsModelErrors(t *testing.T) {
	boom := errors.New("upstream unavailable")
	model := ModelFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		return "", boom
	})
	_, err := NewGenerator(model).Generate(context.Background(), Request{Schema: musicSchema(), Question: "x"})

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("error = %T, want *GenerationError", err)
	}
	if !errors.Is(err, boom) || IsNoSQL(err) {
		t.Fatalf("error = %v", err)
	}
}

func TestGeneratorReportsNoSQL(t *testing.T) {
	model := ModelFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		return "Sorry, I cannot help with that.", nil
	})
	_, err := NewGenerator(model).Generate(context.Background(), Request{Schema: musicSchema(), Question: "x"})
	if !IsNoSQL(err) {
		t.Fatalf("error = %v, want ErrNoSQL", err)
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Raw == "" {
		t.Fatalf("GenerationError.Raw should keep the response: %#v", genErr)
	}
}

func TestDetectComplexity(t *testing.T) {
	single := schema.Schema{Tables: []schema.Table{{Name: "Track", Columns: []schema.Column{{Name: "Name"}}}}}
	tests := []struct {
		question string
		want     planner.Complexity
	}{
		{question: "customers who bought both Rock and Jazz", want: planner.ComplexityMultiStep},
		{question: "customers who never ordered", want: planner.ComplexityComplex},
		{question: "list tracks", want: planner.ComplexitySimple},
		{question: "average track length", want: planner.ComplexityModerate},
	}
	for _, tt := range tests {
		plan := planner.Create(tt.question, single)
		if got := DetectComplexity(tt.question, plan); got != tt.want {
			t.Fatalf("DetectComplexity(%q) = %q, want %q", tt.question, got, tt.want)
		}
	}
}

func TestBuildPromptSections(t *testing.T) {
	s := musicSchema()
	prompt := BuildPrompt(PromptInput{
		Schema:     s,
		Plan:       planner.Create("top 5 countries", s),
		Question:   "top 5 countries",
		Complexity: planner.ComplexityModerate,
	})
	order := []string{
		"MANDATORY 5-STEP PIPELINE",
		"OPTIMIZATION RULES",
		"SCHEMA-AWARE VALUE INFERENCE",
		"Invoice.Shipped (INTEGER):",
		"CRITICAL SQL RULES",
		"For this moderate query:",
		"DATABASE SCHEMA",
		"Table: Customer",
		"QUERY PLAN",
		"Intent Type: AGGREGATION",
		"USER QUESTION\n" + divider + "\ntop 5 countries",
		"YOUR RESPONSE",
	}
	last := -1
	for _, section := range order {
		idx := strings.Index(prompt, section)
		if idx < 0 {
			t.Fatalf("prompt missing %q", section)
		}
		if idx <= last {
			t.Fatalf("section %q out of order", section)
		}
		last = idx
	}
}

func TestFlagGuidanceByColumnType(t *testing.T) {
	s := schema.Schema{Tables: []schema.Table{{Name: "Product", Columns: []schema.Column{
		{Name: "Discontinued", Type: "INTEGER"},
		{Name: "IsActive", Type: "BOOLEAN"},
		{Name: "Status", Type: "VARCHAR(10)"},
		{Name: "Name", Type: "TEXT"},
	}}}}
	got := FlagGuidance(s)
	for _, want := range []string{
		"INTEGER flag: 0 = not discontinued, 1 = discontinued",
		"BOOLEAN flag: TRUE = active, FALSE = not active",
		"TEXT flag: infer status values",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("FlagGuidance() missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Product.Name") {
		t.Fatal("Name is not a flag column")
	}
	if FlagGuidance(schema.Schema{}) != "" {
		t.Fatal("empty schema should give no guidance")
	}
}

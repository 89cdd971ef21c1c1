package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/query"
	"github.com/duckmesh/askdb/internal/schema"
)

func failingModel() nl2sql.Model {
	return nl2sql.ModelFunc(func(context.Context, string, float64) (string, error) {
		return "", errors.New("model unavailable")
	})
}

func replyModel(reply string, prompts *[]string) nl2sql.Model {
	return nl2sql.ModelFunc(func(_ context.Context, prompt string, _ float64) (string, error) {
		if prompts != nil {
			*prompts = append(*prompts, prompt)
		}
		return reply, nil
	})
}

func TestInterpret(t *testing.T) {
	tests := []struct {
		name     string
		question string
		result   query.Result
		want     string
	}{
		{
			name:     "empty negation",
			question: "Customers who never ordered",
			result:   query.Result{Columns: []string{"Name"}},
			want:     "**No matching records found.** This means all records in the database satisfy the opposite condition of what you asked about.",
		},
		{
			name:     "empty existence",
			question: "Are there any jazz tracks?",
			result:   query.Result{Columns: []string{"Name"}},
			want:     "**No** - there are no records matching your criteria in the database.",
		},
		{
			name:     "count",
			question: "How many tracks are there?",
			result:   query.Result{Columns: []string{"COUNT(*)"}, Rows: [][]any{{int64(3503)}}, RowCount: 1},
			want:     "There are **3,503** matching records.",
		},
		{
			name:     "total before average",
			question: "Average invoice total",
			result:   query.Result{Columns: []string{"avg_total"}, Rows: [][]any{{5.6519}}, RowCount: 1},
			want:     "The total is **5.65**.",
		},
		{
			name:     "single row",
			question: "Show the first customer",
			result:   query.Result{Columns: []string{"FirstName", "support_rep_id"}, Rows: [][]any{{"Luís", int64(3)}}, RowCount: 1},
			want:     "Found **1 result**:\n\n**First Name**: Luís  \n**Support Rep Id**: 3",
		},
		{
			name:     "top rows",
			question: "Top artists by albums",
			result:   query.Result{Columns: []string{"albums", "ArtistName"}, Rows: [][]any{{int64(21), "Iron Maiden"}, {int64(14), "Led Zeppelin"}}, RowCount: 2, Truncated: true},
			want:     "Found **2 results**. The top result is **Iron Maiden**. *(Results were truncated)*",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Interpret(tt.question, tt.result); got != tt.want {
				t.Fatalf("Interpret() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFinalFallsBackToInterpretation(t *testing.T) {
	result := query.Result{Columns: []string{"n"}, Rows: [][]any{{int64(0)}}, RowCount: 1}
	got := New(failingModel(), nil).Final(context.Background(), "how many tracks", "SELECT COUNT(*) AS n FROM Track", result)
	if got != "The count is **0** - no matching records found." {
		t.Fatalf("Final() = %q", got)
	}
}

func TestFinalUsesModel(t *testing.T) {
	var prompts []string
	result := query.Result{Columns: []string{"Name", "Price"}, Rows: [][]any{{"a", 0.99}, {"b", nil}}, RowCount: 2}
	got := New(replyModel("  There are **2** tracks.\n", &prompts), nil).Final(context.Background(), "list tracks", "SELECT Name, Price FROM Track", result)
	if got != "There are **2** tracks." {
		t.Fatalf("Final() = %q", got)
	}
	if !strings.Contains(prompts[0], "| Name | Price |\n|---|---|\n| a | 0.99 |\n| b | NULL |") {
		t.Fatalf("prompt missing result table:\n%s", prompts[0])
	}
}

func musicSchema() schema.Schema {
	return schema.Schema{Tables: []schema.Table{
		{Name: "Track", Columns: []schema.Column{{Name: "TrackId"}, {Name: "Name"}}},
		{Name: "Genre", Columns: []schema.Column{{Name: "GenreId"}, {Name: "Name"}}},
	}}
}

func TestInitialQuestions(t *testing.T) {
	got := New(failingModel(), nil).InitialQuestions(context.Background(), musicSchema())
	want := []string{"Show me the first 10 Track", "How many Track are there?", "List all Genre", "What tables are in this database?"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("InitialQuestions() fallback mismatch (-want +got):\n%s", diff)
	}

	got = New(replyModel("- How many tracks?\n\n- Top genres\n- Longest tracks\n- Tracks per album\n- Extra", nil), nil).InitialQuestions(context.Background(), musicSchema())
	if diff := cmp.Diff([]string{"How many tracks?", "Top genres", "Longest tracks", "Tracks per album"}, got); diff != "" {
		t.Fatalf("InitialQuestions() mismatch (-want +got):\n%s", diff)
	}
}

func TestRelatedQuestions(t *testing.T) {
	if got := New(failingModel(), nil).RelatedQuestions(context.Background(), "total sales"); len(got) != 0 {
		t.Fatalf("RelatedQuestions() on failure = %v", got)
	}
	got := New(replyModel("Sales by year\nSales by country\nBest month\nMore", nil), nil).RelatedQuestions(context.Background(), "total sales")
	if len(got) != 3 || got[0] != "Sales by year" {
		t.Fatalf("RelatedQuestions() = %v", got)
	}
}

func TestChat(t *testing.T) {
	var prompts []string
	got, err := New(replyModel("Welcome!", &prompts), nil).Chat(context.Background(), "hi", musicSchema())
	if err != nil || got != "Welcome!" {
		t.Fatalf("Chat() = %q, %v", got, err)
	}
	if !strings.Contains(prompts[0], "Database contains 2 tables: Track, Genre") {
		t.Fatalf("prompt = %s", prompts[0])
	}
	if _, err := New(failingModel(), nil).Chat(context.Background(), "hi", musicSchema()); err == nil {
		t.Fatal("expected chat error")
	}
}

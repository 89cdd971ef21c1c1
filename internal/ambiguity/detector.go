// Package ambiguity flags vague terms in a question and builds the
// clarification question to send back.
package ambiguity

import (
	"regexp"
	"strings"

	"github.com/duckmesh/askdb/internal/schema"
)

type Category string

const (
	CategoryRanking     Category = "ranking"
	CategoryTime        Category = "time"
	CategoryQuantity    Category = "quantity"
	CategoryComparison  Category = "comparison"
	CategoryAggregation Category = "aggregation"
	CategorySize        Category = "size"
	CategoryStatus      Category = "status"
)

type Clarification struct {
	Term     string   `json:"term"`
	Options  []string `json:"options"`
	Question string   `json:"question"`
	Category Category `json:"category"`
}

// Rule is one lexicon entry. Template receives the comma-joined options via {options}.
type Rule struct {
	Term          string
	Category      Category
	Options       []string
	Template      string
	CommonlyClear bool

	match      *regexp.Regexp
	qualifying *regexp.Regexp
}

// Lexicon is evaluated in declaration order; the first hit wins.
var Lexicon = compile([]Rule{
	{Term: "top", Category: CategoryRanking, Options: []string{"highest value", "most frequent", "most recent", "highest rated"}, Template: "When you say 'top', do you mean by {options}?"},
	{Term: "best", Category: CategoryRanking, Options: []string{"highest rating", "highest revenue", "most popular", "highest quantity"}, Template: "What defines 'best' in this context? ({options})"},
	{Term: "highest", Category: CategoryRanking, Options: []string{"maximum value", "maximum count", "highest total"}, Template: "When you say 'highest', do you mean {options}?"},
	{Term: "lowest", Category: CategoryRanking, Options: []string{"minimum value", "minimum count", "lowest total"}, Template: "When you say 'lowest', do you mean {options}?"},
	{Term: "most", Category: CategoryRanking, Options: []string{"highest count", "highest value", "most frequent"}, Template: "'Most' could mean different things. Do you mean {options}?"},
	{Term: "least", Category: CategoryRanking, Options: []string{"lowest count", "lowest value", "least frequent"}, Template: "When you say 'least', what measure are you referring to? ({options})"},

	{Term: "latest", Category: CategoryTime, Options: []string{"most recent date", "last inserted record", "newest entry"}, Template: "When you say 'latest', do you mean {options}?"},
	{Term: "recent", Category: CategoryTime, Options: []string{"last 7 days", "last 30 days", "last quarter", "last year"}, Template: "How recent? ({options})"},
	{Term: "old", Category: CategoryTime, Options: []string{"oldest by date", "created longest ago", "first entries"}, Template: "When you say 'old', do you mean {options}?"},

	{Term: "few", Category: CategoryQuantity, Options: []string{"less than 5", "less than 10", "bottom 10%"}, Template: "How many would you consider 'few'? ({options})"},
	{Term: "many", Category: CategoryQuantity, Options: []string{"more than 10", "more than 50", "top 10%"}, Template: "How many would you consider 'many'? ({options})"},
	{Term: "some", Category: CategoryQuantity, Options: []string{"approximately 5", "approximately 10", "a sample"}, Template: "Could you specify a rough number for 'some'? ({options})"},

	{Term: "better", Category: CategoryComparison, Options: []string{"higher rating", "higher sales", "better performance"}, Template: "Better in what way? ({options})"},
	{Term: "worse", Category: CategoryComparison, Options: []string{"lower rating", "lower sales", "worse performance"}, Template: "Worse in what way? ({options})"},
	{Term: "similar", Category: CategoryComparison, Options: []string{"same category", "similar value range", "related items"}, Template: "Similar based on what criteria? ({options})"},

	{Term: "average", Category: CategoryAggregation, Options: []string{"mean", "median", "mode"}, Template: "Which type of average? ({options})", CommonlyClear: true},
	{Term: "total", Category: CategoryAggregation, Options: []string{"sum of values", "count of records", "running total"}, Template: "When you say 'total', do you mean {options}?", CommonlyClear: true},

	{Term: "large", Category: CategorySize, Options: []string{"above average size", "top 25%", "larger than threshold"}, Template: "How would you define 'large'? ({options})"},
	{Term: "small", Category: CategorySize, Options: []string{"below average size", "bottom 25%", "smaller than threshold"}, Template: "How would you define 'small'? ({options})"},
	{Term: "significant", Category: CategorySize, Options: []string{"statistically significant", "above average", "notable difference"}, Template: "What would be considered 'significant'? ({options})"},

	{Term: "active", Category: CategoryStatus, Options: []string{"currently active status", "has recent activity", "not archived"}, Template: "What defines 'active' in this context? ({options})"},
	{Term: "popular", Category: CategoryStatus, Options: []string{"most viewed", "most purchased", "highest rated", "trending"}, Template: "Popular by what measure? ({options})"},
})

// A numeric qualifier or an explicit grouping makes the whole question clear.
var clearContextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\btop \d+`),
	regexp.MustCompile(`\bfirst \d+`),
	regexp.MustCompile(`\blast \d+`),
	regexp.MustCompile(`\bhighest \w+ by\b`),
	regexp.MustCompile(`\bmost \w+ per\b`),
	regexp.MustCompile(`\baverage of \w+`),
}

func compile(rules []Rule) []Rule {
	for i := range rules {
		term := regexp.QuoteMeta(rules[i].Term)
		rules[i].match = regexp.MustCompile(`\b` + term + `\b`)
		rules[i].qualifying = regexp.MustCompile(`\b` + term + `\s+(?:of|by|for)\b`)
	}
	return rules
}

// Detect reports the first ambiguous lexicon term in query. It is a pure
// function of its input.
func Detect(query string) (Clarification, bool) {
	if strings.TrimSpace(query) == "" {
		return Clarification{}, false
	}
	lower := strings.ToLower(query)

	for _, pattern := range clearContextPatterns {
		if pattern.MatchString(lower) {
			return Clarification{}, false
		}
	}

	for _, rule := range Lexicon {
		if !rule.match.MatchString(lower) {
			continue
		}
		if rule.CommonlyClear && rule.qualifying.MatchString(lower) {
			continue
		}
		return rule.clarification(), true
	}
	return Clarification{}, false
}

// DetectForSchema is Detect, except that a term which is literally a column
// name of s is treated as intentional.
func DetectForSchema(query string, s schema.Schema) (Clarification, bool) {
	clarification, ok := Detect(query)
	if !ok {
		return clarification, false
	}
	for _, name := range s.AllColumnNames() {
		if strings.EqualFold(name, clarification.Term) {
			return Clarification{}, false
		}
	}
	return clarification, true
}

func (r Rule) clarification() Clarification {
	options := append([]string(nil), r.Options...)
	return Clarification{
		Term:     r.Term,
		Options:  options,
		Question: strings.ReplaceAll(r.Template, "{options}", strings.Join(options, ", ")),
		Category: r.Category,
	}
}

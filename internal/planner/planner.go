// Package planner turns a question and its refined schema into a structured
// query plan that steers SQL generation.
package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/duckmesh/askdb/internal/schema"
)

type Intent string

const (
	IntentSelect      Intent = "select"
	IntentCount       Intent = "count"
	IntentExists      Intent = "exists"
	IntentCompare     Intent = "compare"
	IntentAggregation Intent = "aggregation"
)

// IntentType is the logical shape of the question. It picks the SQL strategy.
type IntentType string

const (
	TypeExistential     IntentType = "EXISTENTIAL"
	TypeUniversal       IntentType = "UNIVERSAL"
	TypeSetIntersection IntentType = "SET_INTERSECTION"
	TypeAbsence         IntentType = "ABSENCE"
	TypeAggregation     IntentType = "AGGREGATION"
)

type Complexity string

const (
	ComplexitySimple    Complexity = "simple"
	ComplexityModerate  Complexity = "moderate"
	ComplexityComplex   Complexity = "complex"
	ComplexityMultiStep Complexity = "multi_step"
)

type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// DefaultRankingLimit applies when a ranking word asks for sorted output
// without an explicit count.
const DefaultRankingLimit = 10

type Sort struct {
	Direction SortDirection `json:"direction"`
	Column    string        `json:"column,omitempty"`
}

type Plan struct {
	Intent               Intent     `json:"intent"`
	IntentType           IntentType `json:"intent_type"`
	OptimizationStrategy string     `json:"optimization_strategy"`
	Tables               []string   `json:"tables"`
	NeedsJoin            bool       `json:"needs_join"`
	Aggregation          string     `json:"aggregation,omitempty"`
	GroupBy              string     `json:"group_by,omitempty"`
	Sort                 *Sort      `json:"sort,omitempty"`
	Limit                int        `json:"limit,omitempty"`
	Distinct             bool       `json:"distinct"`
	Negation             bool       `json:"negation"`
	Intersection         bool       `json:"intersection"`
	SubqueryNeeded       bool       `json:"subquery_needed"`
	Filters              []string   `json:"filters,omitempty"`
	Complexity           Complexity `json:"complexity"`
	Reasoning            []string   `json:"reasoning"`
}

// Create builds a plan for question against the already refined schema. Plan
// tables are always a subset of refined.
func Create(question string, refined schema.Schema) Plan {
	lower := strings.ToLower(strings.TrimSpace(question))

	plan := Plan{
		Tables:    refined.TableNames(),
		Reasoning: make([]string, 0, 8),
	}
	plan.NeedsJoin = len(plan.Tables) > 1
	plan.Reasoning = append(plan.Reasoning, fmt.Sprintf("Identified %d relevant table(s): %s", len(plan.Tables), strings.Join(plan.Tables, ", ")))

	plan.IntentType = classifyIntentType(lower)
	plan.OptimizationStrategy = optimizationStrategies[plan.IntentType]
	plan.Reasoning = append(plan.Reasoning, fmt.Sprintf("Intent type %s: %s", plan.IntentType, plan.OptimizationStrategy))

	plan.Intent = IntentSelect
	if hit, ok := firstMatch(baseIntentRules, lower); ok {
		plan.Intent = hit.tag
		plan.Reasoning = append(plan.Reasoning, hit.note)
	}
	if hit, ok := firstMatch(aggregationRules, lower); ok {
		plan.Aggregation = hit.tag
		plan.Intent = IntentAggregation
		plan.Reasoning = append(plan.Reasoning, fmt.Sprintf("Detected %s aggregation.", hit.tag))
	}

	plan.Filters = detectFilters(lower, question)
	plan.GroupBy = detectGrouping(lower, refined)
	if plan.GroupBy != "" {
		plan.Reasoning = append(plan.Reasoning, fmt.Sprintf("Results grouped by %s.", plan.GroupBy))
	}
	plan.Sort = detectSort(lower, refined)
	plan.Limit = detectLimit(lower, plan.Sort)
	plan.Distinct = distinctPattern.MatchString(lower)
	plan.Negation = negationWords.MatchString(lower)
	plan.Intersection = intersectionWords.MatchString(lower)

	plan.Complexity = ClassifyComplexity(lower, plan)
	plan.SubqueryNeeded = plan.Negation || plan.Intersection ||
		plan.Complexity == ComplexityComplex || plan.Complexity == ComplexityMultiStep

	if plan.NeedsJoin {
		plan.Reasoning = append(plan.Reasoning, "Multiple tables are involved; JOINs on foreign keys are required.")
	}
	switch plan.Complexity {
	case ComplexityMultiStep:
		plan.Reasoning = append(plan.Reasoning, "Multi-step query: every condition must hold for the same entity.")
	case ComplexityComplex:
		plan.Reasoning = append(plan.Reasoning, "Complex query: needs a subquery or anti-join for exclusion.")
	}
	return plan
}

func classifyIntentType(lower string) IntentType {
	if hit, ok := firstMatch(intentTypeRules, lower); ok {
		return hit.tag
	}
	return TypeExistential
}

// ClassifyComplexity grades a question: multi-step phrase families first,
// then negation families, then structural signals from the plan.
func ClassifyComplexity(question string, plan Plan) Complexity {
	lower := strings.ToLower(question)
	if _, ok := firstMatch(multiStepRules, lower); ok {
		return ComplexityMultiStep
	}
	if _, ok := firstMatch(negationRules, lower); ok {
		return ComplexityComplex
	}
	if plan.NeedsJoin || plan.Aggregation != "" || plan.GroupBy != "" {
		return ComplexityModerate
	}
	return ComplexitySimple
}

func detectFilters(lower, original string) []string {
	seen := make(map[string]bool)
	filters := make([]string, 0)
	add := func(filter string) {
		if !seen[filter] {
			seen[filter] = true
			filters = append(filters, filter)
		}
	}
	for _, rule := range filterRules {
		if rule.pattern.MatchString(lower) {
			add(rule.tag)
		}
	}
	for _, rule := range valueRules {
		for _, match := range rule.pattern.FindAllStringSubmatch(original, -1) {
			add(fmt.Sprintf("%s: %s", rule.tag, match[1]))
		}
	}
	return filters
}

// detectGrouping only accepts a grouping word that names a table or column of
// the schema, and returns the schema's spelling of it.
func detectGrouping(lower string, s schema.Schema) string {
	for _, pattern := range groupingPatterns {
		for _, match := range pattern.FindAllStringSubmatch(lower, -1) {
			if name, ok := resolveIdentifier(match[1], s); ok {
				return name
			}
		}
	}
	return ""
}

func detectSort(lower string, s schema.Schema) *Sort {
	var direction SortDirection
	if hit, ok := firstMatch(sortRules, lower); ok {
		direction = hit.tag
	}
	column := ""
	if match := sortColumnPattern.FindStringSubmatch(lower); match != nil {
		if name, ok := resolveIdentifier(match[1], s); ok {
			column = name
			if direction == "" {
				direction = SortAsc
			}
		}
	}
	if direction == "" {
		return nil
	}
	return &Sort{Direction: direction, Column: column}
}

func detectLimit(lower string, sort *Sort) int {
	for _, pattern := range limitPatterns {
		match := pattern.FindStringSubmatch(lower)
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err == nil && n > 0 {
			return n
		}
	}
	if sort != nil && rankingWords.MatchString(lower) {
		return DefaultRankingLimit
	}
	return 0
}

// resolveIdentifier matches word against table names first, then column
// names, tolerating a trailing plural "s".
func resolveIdentifier(word string, s schema.Schema) (string, bool) {
	candidates := []string{word}
	if singular := strings.TrimSuffix(word, "s"); singular != word && singular != "" {
		candidates = append(candidates, singular)
	}
	for _, candidate := range candidates {
		if table, ok := s.TableFold(candidate); ok {
			return table.Name, true
		}
	}
	for _, candidate := range candidates {
		for _, name := range s.AllColumnNames() {
			if strings.EqualFold(name, candidate) {
				return name, true
			}
		}
	}
	return "", false
}

// Format renders the plan block embedded in generation prompts.
func (p Plan) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\n", strings.ToUpper(string(p.Intent)))
	fmt.Fprintf(&b, "Intent Type: %s\n", p.IntentType)
	fmt.Fprintf(&b, "Optimization Strategy: %s\n", p.OptimizationStrategy)
	fmt.Fprintf(&b, "Tables: %s\n", strings.Join(p.Tables, ", "))
	if p.NeedsJoin {
		b.WriteString("Join Required: Yes\n")
	}
	if p.Aggregation != "" {
		fmt.Fprintf(&b, "Aggregation: %s\n", p.Aggregation)
	}
	if p.GroupBy != "" {
		fmt.Fprintf(&b, "Group By: %s\n", p.GroupBy)
	}
	if p.Sort != nil {
		if p.Sort.Column != "" {
			fmt.Fprintf(&b, "Sorting: %s %s\n", p.Sort.Column, p.Sort.Direction)
		} else {
			fmt.Fprintf(&b, "Sorting: %s\n", p.Sort.Direction)
		}
	}
	if p.Limit > 0 {
		fmt.Fprintf(&b, "Limit: %d\n", p.Limit)
	}
	if p.Distinct {
		b.WriteString("Distinct: Yes\n")
	}
	if len(p.Filters) > 0 {
		filters := p.Filters
		if len(filters) > 3 {
			filters = filters[:3]
		}
		fmt.Fprintf(&b, "Filters: %s\n", strings.Join(filters, ", "))
	}
	if len(p.Reasoning) > 0 {
		b.WriteString("\nReasoning:\n")
		for i, step := range p.Reasoning {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}
	return b.String()
}

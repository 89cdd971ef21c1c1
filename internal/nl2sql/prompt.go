package nl2sql

import (
	"fmt"
	"strings"

	"github.com/duckmesh/askdb/internal/planner"
	"github.com/duckmesh/askdb/internal/schema"
)

const divider = "==================================================================="

func banner(title string) string {
	return divider + "\n" + title + "\n" + divider + "\n"
}

const pipelineSection = `You are a reasoning-first natural language to SQL expert.

Do not write SQL immediately. First understand the user's intent and
constraints, then write a safe, correct, optimized, read-only SQLite query.

` + divider + `
MANDATORY 5-STEP PIPELINE
` + divider + `
STEP 1: INTENT CLASSIFICATION
Already done, see the plan below.

STEP 2: REASONING PLAN
Before any SQL, explain briefly:
- which entity is queried
- which constraints must hold
- whether the condition is existential, universal or absence based
- which SQL pattern is required
- the optimization strategy

STEP 3: SQL GENERATION
Write the best query that satisfies the rules below.

STEP 4: SELF-CHECK
Confirm every table and column exists in the schema listing and that
joins follow the listed foreign keys.

STEP 5: OUTPUT
Answer in the exact output format given in the rules below.
`

const optimizationSection = `
INTENT-BASED PATTERN SELECTION:
EXISTENTIAL ("has", "with", "containing"):
  - use EXISTS instead of JOIN when only existence matters
  - example: SELECT c.CustomerId FROM Customer c WHERE EXISTS (SELECT 1 FROM Invoice i WHERE i.CustomerId = c.CustomerId)
UNIVERSAL ("only", "every", "all"):
  - use NOT EXISTS to exclude rows that violate the condition
  - example: customers who only bought Rock, exclude anyone with a non-Rock purchase
SET_INTERSECTION ("both X and Y"):
  - use GROUP BY with HAVING COUNT(DISTINCT ...) = N in a single pass
  - example: GROUP BY customer HAVING COUNT(DISTINCT genre) = 2
ABSENCE ("never", "without", "no"):
  - use NOT EXISTS or LEFT JOIN with IS NULL
  - example: SELECT c.CustomerId FROM Customer c WHERE NOT EXISTS (SELECT 1 FROM Invoice i WHERE i.CustomerId = c.CustomerId)
AGGREGATION ("top", "most", "average"):
  - use ORDER BY with LIMIT
  - example: ORDER BY total DESC LIMIT 5

PERFORMANCE:
1. never use SELECT *
2. select only the needed columns by name
3. prefer EXISTS over IN for subqueries
4. avoid DISTINCT when GROUP BY already de-duplicates
5. filter on key columns where possible
6. apply WHERE filters before joins when possible
7. use LIMIT for ranking questions
8. use CTEs (WITH) for multi-step logic
`

const valueInferenceSection = `
Semantic flags (discontinued, active, status, shipped ...) must be read
from the schema, never assumed:
  1. check the column type (INTEGER, BOOLEAN, TEXT)
  2. INTEGER means 0 = off and 1 = on
     BOOLEAN means TRUE/FALSE (1/0 in SQLite)
     TEXT means status strings, infer them from context
  3. explain the inference in REASONING
`

const rulesSection = `
1. OUTPUT FORMAT (MANDATORY)
   Respond with exactly these two sections:

   REASONING:
   - Entity: the table or entity being queried
   - Constraints: conditions that must be satisfied
   - Value Inference: how semantic flags are represented, if any
   - Intent Type: EXISTENTIAL | UNIVERSAL | SET_INTERSECTION | ABSENCE | AGGREGATION
   - SQL Pattern: EXISTS | NOT EXISTS | GROUP BY + HAVING | JOIN | LEFT JOIN + NULL
   - Optimization: why this pattern is efficient

   SQL:
   <one SQLite query, no markdown, no comments>

   Both sections are required.

2. SAFETY
   - valid SQLite only
   - SELECT or WITH ... SELECT only
   - never INSERT, UPDATE, DELETE, DROP or ALTER
   - no comments (--) and no code fences
   - handle NULL with IS NULL / IS NOT NULL

3. READABILITY
   - short table aliases (c for Customer, i for Invoice)
   - qualify every column in joins (c.CustomerId)
   - use CTEs for complex queries
`

var complexityGuides = map[planner.Complexity]string{
	planner.ComplexitySimple: `
For this simple query:
- use a single SELECT
- apply basic WHERE conditions
- keep it straightforward
`,
	planner.ComplexityModerate: `
For this moderate query:
- JOIN related tables on their foreign keys
- aggregate (COUNT, SUM, AVG) with GROUP BY
- alias tables clearly
- consider ORDER BY and LIMIT
`,
	planner.ComplexityComplex: `
For this complex query:
- use subqueries or CTEs for multi-step logic
- for "both X and Y" use INTERSECT or GROUP BY HAVING COUNT
- for "never" or "without" use LEFT JOIN with a NULL check or NOT EXISTS
- reason through the problem step by step
- handle NULLs explicitly
`,
	planner.ComplexityMultiStep: `
For this multi-step query:
- break the logic into CTEs
- first CTE: rows meeting the first condition
- second CTE: rows meeting the second condition
- final SELECT: combine both
- pattern for "customers who purchased both X and Y":
  WITH purchased_x AS (...), purchased_y AS (...)
  SELECT customer_id FROM purchased_x
  INTERSECT
  SELECT customer_id FROM purchased_y
`,
}

// PromptInput is everything a generation prompt is assembled from.
type PromptInput struct {
	Schema       schema.Schema
	Plan         planner.Plan
	Question     string
	Complexity   planner.Complexity
	RetryContext string
}

// BuildPrompt assembles the generation prompt. It ends with "REASONING:" so
// the model continues in the expected format.
func BuildPrompt(in PromptInput) string {
	planText := in.Plan.Format()
	guide, ok := complexityGuides[in.Complexity]
	if !ok {
		guide = complexityGuides[planner.ComplexityModerate]
	}

	var b strings.Builder
	b.WriteString(pipelineSection)
	b.WriteString("\n")
	b.WriteString(banner("OPTIMIZATION RULES"))
	b.WriteString(optimizationSection)
	b.WriteString("\n")
	b.WriteString(banner("SCHEMA-AWARE VALUE INFERENCE"))
	b.WriteString(valueInferenceSection)
	if flags := FlagGuidance(in.Schema); flags != "" {
		b.WriteString("\n")
		b.WriteString(flags)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(banner("CRITICAL SQL RULES"))
	b.WriteString(rulesSection)
	b.WriteString(guide)
	if strings.TrimSpace(in.RetryContext) != "" {
		b.WriteString("\n")
		b.WriteString(banner("PREVIOUS ATTEMPT (FAILED)"))
		b.WriteString(strings.TrimSpace(in.RetryContext))
		b.WriteString("\n\nIMPORTANT: do not repeat the same mistake. Use a different approach.\n")
	}
	b.WriteString("\n")
	b.WriteString(banner("DATABASE SCHEMA"))
	b.WriteString(in.Schema.Format())
	b.WriteString("\n")
	b.WriteString(banner("QUERY PLAN"))
	b.WriteString(planText)
	b.WriteString("\n")
	b.WriteString(banner("USER QUESTION"))
	b.WriteString(strings.TrimSpace(in.Question))
	b.WriteString("\n\n")
	b.WriteString(banner("YOUR RESPONSE"))
	b.WriteString("REASONING:\n")
	return b.String()
}

type flagConcept struct {
	concept  string
	patterns []string
}

var flagConcepts = []flagConcept{
	{concept: "discontinued", patterns: []string{"discontinued", "discontinue", "disc"}},
	{concept: "active", patterns: []string{"active", "is_active", "isactive"}},
	{concept: "status", patterns: []string{"status", "state"}},
	{concept: "shipped", patterns: []string{"shipped", "is_shipped"}},
	{concept: "completed", patterns: []string{"completed", "complete", "is_complete"}},
	{concept: "enabled", patterns: []string{"enabled", "is_enabled"}},
	{concept: "verified", patterns: []string{"verified", "is_verified"}},
	{concept: "deleted", patterns: []string{"deleted", "is_deleted"}},
	{concept: "archived", patterns: []string{"archived", "is_archived"}},
	{concept: "published", patterns: []string{"published", "is_published"}},
}

// FlagGuidance lists flag-like columns of s with the value convention their
// declared type implies. It returns "" when s has none.
func FlagGuidance(s schema.Schema) string {
	lines := make([]string, 0)
	for _, table := range s.Tables {
		for _, column := range table.Columns {
			lowerName := strings.ToLower(column.Name)
			colType := strings.ToUpper(column.Type)
			for _, fc := range flagConcepts {
				if !containsAny(lowerName, fc.patterns) {
					continue
				}
				lines = append(lines, fmt.Sprintf("  * %s.%s (%s):", table.Name, column.Name, colType))
				switch {
				case strings.Contains(colType, "INT"):
					lines = append(lines, fmt.Sprintf("    INTEGER flag: 0 = not %s, 1 = %s", fc.concept, fc.concept))
				case strings.Contains(colType, "BOOL"):
					lines = append(lines, fmt.Sprintf("    BOOLEAN flag: TRUE = %s, FALSE = not %s", fc.concept, fc.concept))
				case strings.Contains(colType, "TEXT"), strings.Contains(colType, "CHAR"):
					lines = append(lines, "    TEXT flag: infer status values from context (e.g. 'active'/'inactive')")
				default:
					lines = append(lines, "    inspect the schema for its representation")
				}
				lines = append(lines, "")
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	out := []string{
		"SCHEMA-AWARE VALUE INFERENCE GUIDANCE:",
		"Flag columns detected in the schema:",
		"",
	}
	out = append(out, lines...)
	out = append(out,
		"IMPORTANT:",
		"  - do not hardcode '0', '1', 'Y' or 'N' without inference",
		"  - explain the inference in REASONING",
		"  - example: \"discontinued is INTEGER, so discontinued = 1 means discontinued\"",
	)
	return strings.Join(out, "\n")
}

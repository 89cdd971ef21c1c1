package planner

import "regexp"

// rule is one entry of an ordered detector table. Tables are evaluated top to
// bottom and, where a detector is first-match, the first hit wins.
type rule[T any] struct {
	pattern *regexp.Regexp
	tag     T
	note    string
}

func r[T any](expr string, tag T, note string) rule[T] {
	return rule[T]{pattern: regexp.MustCompile(expr), tag: tag, note: note}
}

func firstMatch[T any](rules []rule[T], text string) (rule[T], bool) {
	for _, candidate := range rules {
		if candidate.pattern.MatchString(text) {
			return candidate, true
		}
	}
	var zero rule[T]
	return zero, false
}

var intentTypeRules = []rule[IntentType]{
	r(`\b(?:top|best|worst|highest|lowest|most|least|sum|total|count|how many|number of|average|avg|mean|maximum|minimum|max|min)\b`, TypeAggregation, "ranking or aggregate wording"),
	r(`\bboth\b.+\band\b`, TypeSetIntersection, "'both ... and' condition"),
	r(`\band\b.+\band\b`, TypeSetIntersection, "repeated 'and' conditions"),
	r(`\bfrom \w+ and \w+`, TypeSetIntersection, "'from X and Y' condition"),
	r(`\b(?:and also|as well as)\b`, TypeSetIntersection, "combined conditions"),
	r(`\b(?:only|every|exclusively|nothing else)\b`, TypeUniversal, "universal qualifier"),
	r(`\b(?:never|without|has not|have not|hasn't|haven't|did not|didn't|no longer)\b`, TypeAbsence, "absence wording"),
	r(`\b(?:has|have|had|with|ordered|purchased|bought|placed|contains|containing)\b`, TypeExistential, "existence wording"),
}

var optimizationStrategies = map[IntentType]string{
	TypeExistential:     "Check existence with EXISTS (SELECT 1 ...) instead of joining and de-duplicating.",
	TypeUniversal:       "Anti-join with a double negation: require a related row and NOT EXISTS any row violating the condition.",
	TypeSetIntersection: "Single pass GROUP BY with HAVING COUNT(DISTINCT ...) = number of required values.",
	TypeAbsence:         "Anti-join with NOT EXISTS or LEFT JOIN ... WHERE related key IS NULL.",
	TypeAggregation:     "Aggregate, ORDER BY the measure and cap the result with LIMIT.",
}

var baseIntentRules = []rule[Intent]{
	r(`\bhow many\b`, IntentCount, "Query asks for a count of records."),
	r(`\bcount\b`, IntentCount, "Query asks for a count of records."),
	r(`\bnumber of\b`, IntentCount, "Query asks for a count of records."),
	r(`\btotal number\b`, IntentCount, "Query asks for a count of records."),
	r(`\bhow much\b`, IntentCount, "Query asks for a count of records."),
	r(`\bis there\b`, IntentExists, "Query checks for existence of records."),
	r(`\bare there\b`, IntentExists, "Query checks for existence of records."),
	r(`\bdoes\b`, IntentExists, "Query checks for existence of records."),
	r(`\bdo any\b`, IntentExists, "Query checks for existence of records."),
	r(`\bexists?\b`, IntentExists, "Query checks for existence of records."),
	r(`\bcompare\b`, IntentCompare, "Query involves comparison between entities."),
	r(`\bdifference between\b`, IntentCompare, "Query involves comparison between entities."),
	r(`\bversus\b`, IntentCompare, "Query involves comparison between entities."),
	r(`\bvs\b`, IntentCompare, "Query involves comparison between entities."),
	r(`\b(?:list|show|display|get|find|what are|which)\b`, IntentSelect, "Query requests a list of records."),
}

// Phrase families that force multi-stage handling.
var multiStepRules = []rule[Complexity]{
	r(`both .+ and .+`, ComplexityMultiStep, "records must match multiple conditions (INTERSECT pattern)"),
	r(`purchased .+ and .+`, ComplexityMultiStep, "purchases across multiple categories"),
	r(`bought .+ and .+`, ComplexityMultiStep, "multiple purchase conditions"),
	r(`in .+ and .+ playlists?`, ComplexityMultiStep, "membership in multiple collections"),
	r(`who .+ and also .+`, ComplexityMultiStep, "multiple action conditions"),
	r(`that have .+ and .+`, ComplexityMultiStep, "multiple ownership conditions"),
	r(`.+ as well as .+`, ComplexityMultiStep, "dual condition"),
}

// Phrase families that force complex (subquery or anti-join) handling.
var negationRules = []rule[Complexity]{
	r(`\bnever\b`, ComplexityComplex, "exclusion via 'never'"),
	r(`\bwithout\b`, ComplexityComplex, "exclusion via 'without'"),
	r(`\bnot (?:have|purchased|ordered|bought)\b`, ComplexityComplex, "has not"),
	r(`\bno (?:purchase|order|sale)s?\b`, ComplexityComplex, "no related records"),
	r(`\b(?:haven't|hasn't|doesn't have|don't have)\b`, ComplexityComplex, "exclusion"),
	r(`\bdoes not exist\b`, ComplexityComplex, "non-existence"),
	r(`\b(?:except|exclude|excluding)\b`, ComplexityComplex, "explicit exclusion"),
}

var filterRules = []rule[string]{
	r(`\bwhere\b`, "explicit WHERE condition", ""),
	r(`\bfrom\b .+`, "source/location filter", ""),
	r(`\bafter\b`, "date filter (after)", ""),
	r(`\bbefore\b`, "date filter (before)", ""),
	r(`\bbetween\b`, "range filter", ""),
	r(`\bin \d{4}\b`, "year filter", ""),
	r(`\b(?:greater than|more than|above|over)\b`, "greater than (>)", ""),
	r(`\b(?:less than|fewer than|below|under)\b`, "less than (<)", ""),
	r(`\b(?:equal to|exactly)\b`, "equality (=)", ""),
	r(`\b(?:like|contains|includes)\b`, "text search (LIKE)", ""),
	r(`\b(?:starts with|begins with)\b`, "prefix match", ""),
	r(`\bends with\b`, "suffix match", ""),
	r(`\bby \w+\b`, "attribute specification", ""),
	r(`\bfor \w+\b`, "entity filter", ""),
}

// Value patterns run on the original casing so proper nouns survive.
var valueRules = []rule[string]{
	r(`\bfrom ([A-Z][a-z]+)`, "location value", ""),
	r(`"([^"]+)"`, "quoted value", ""),
	r(`'([^']+)'`, "quoted value", ""),
}

var aggregationRules = []rule[string]{
	r(`\bsum\b|\btotal (?:value|amount|cost|price|revenue|sales)\b`, "SUM", ""),
	r(`\btotal\b.*\bby\b`, "SUM", ""),
	r(`\bcount\b|\bnumber of\b|\bhow many\b`, "COUNT", ""),
	r(`\baverage\b|\bavg\b|\bmean\b`, "AVG", ""),
	r(`\bmax\b|\bmaximum\b|\bhighest\b|\blargest\b|\bbiggest\b|\bmost\b`, "MAX", ""),
	r(`\bmin\b|\bminimum\b|\blowest\b|\bsmallest\b|\bleast\b`, "MIN", ""),
}

var groupingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bgrouped by (\w+)\b`),
	regexp.MustCompile(`\bfor each (\w+)\b`),
	regexp.MustCompile(`\bby (\w+)\b`),
	regexp.MustCompile(`\bper (\w+)\b`),
	regexp.MustCompile(`\beach (\w+)\b`),
}

var sortColumnPattern = regexp.MustCompile(`\b(?:sorted|ordered|order|sort) by (\w+)\b`)

// Explicit direction words win over implied ones; implied descending words
// are checked before implied ascending ones.
var sortRules = []rule[SortDirection]{
	r(`\b(?:descending|desc)\b`, SortDesc, ""),
	r(`\b(?:ascending|asc)\b`, SortAsc, ""),
	r(`\b(?:top|highest|most|largest|biggest|maximum|best|greatest|newest|latest|recent|first)\b`, SortDesc, ""),
	r(`\b(?:bottom|lowest|least|smallest|minimum|worst|oldest|earliest)\b`, SortAsc, ""),
}

var limitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\btop\s+(\d+)\b`),
	regexp.MustCompile(`\bfirst\s+(\d+)\b`),
	regexp.MustCompile(`\blast\s+(\d+)\b`),
	regexp.MustCompile(`\b(\d+)\s+(?:top|best|worst|highest|lowest)\b`),
	regexp.MustCompile(`\blimit\s+(\d+)\b`),
	regexp.MustCompile(`\b(\d+)\s+results?\b`),
}

var rankingWords = regexp.MustCompile(`\b(?:top|best|worst|highest|lowest)\b`)

var distinctPattern = regexp.MustCompile(`\b(?:unique|distinct|different|no duplicates|without duplicates)\b`)

var negationWords = regexp.MustCompile(`\b(?:not|never|no|without|except|exclude|missing)\b`)

var intersectionWords = regexp.MustCompile(`\bboth\b|\band also\b|\bas well as\b|multiple|\ball of\b`)

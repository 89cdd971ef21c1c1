package answer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/duckmesh/askdb/internal/query"
)

// Interpret describes result without a model call. It is used when the
// model is unavailable or fails.
func Interpret(question string, result query.Result) string {
	q := strings.ToLower(question)
	switch {
	case len(result.Rows) == 0:
		return emptyAnswer(q)
	case len(result.Rows) == 1 && len(result.Columns) == 1:
		return scalarAnswer(result.Rows[0][0], result.Columns[0], q)
	case len(result.Rows) == 1:
		details := make([]string, 0, len(result.Columns))
		for i, column := range result.Columns {
			details = append(details, fmt.Sprintf("**%s**: %s", columnTitle(column), formatValue(result.Rows[0][i])))
		}
		return "Found **1 result**:\n\n" + strings.Join(details, "  \n")
	}
	return multiRowAnswer(q, result)
}

func emptyAnswer(q string) string {
	switch {
	case containsAny(q, "never", "without", "haven't", "hasn't", "no "):
		return "**No matching records found.** This means all records in the database satisfy the opposite condition of what you asked about."
	case containsAny(q, "are there", "is there", "does", "do any", "exist"):
		return "**No** - there are no records matching your criteria in the database."
	case containsAny(q, "who", "which", "what"):
		return "**No records found** matching your criteria. The data you're looking for may not exist in the database."
	}
	return "The query executed successfully but **returned no results**."
}

func scalarAnswer(value any, column, q string) string {
	if value == nil {
		return "The result is **NULL** (no value found)."
	}
	col := strings.ToLower(column)
	formatted := formatValue(value)
	number, isNumber := asFloat(value)

	switch {
	case strings.Contains(col, "count") || containsAny(q, "count", "how many"):
		switch {
		case isNumber && number == 0:
			return "The count is **0** - no matching records found."
		case isNumber && number == 1:
			return fmt.Sprintf("There is **%s** matching record.", formatted)
		}
		return fmt.Sprintf("There are **%s** matching records.", formatted)
	case containsAny(col, "sum", "total") || strings.Contains(q, "total"):
		return fmt.Sprintf("The total is **%s**.", formatted)
	case containsAny(col, "avg", "average") || strings.Contains(q, "average"):
		return fmt.Sprintf("The average is **%s**.", formatted)
	case strings.Contains(col, "min") || containsAny(q, "minimum", "lowest"):
		return fmt.Sprintf("The minimum value is **%s**.", formatted)
	case strings.Contains(col, "max") || containsAny(q, "maximum", "highest"):
		return fmt.Sprintf("The maximum value is **%s**.", formatted)
	case containsAny(col, "revenue", "sales", "amount", "price") || containsAny(q, "revenue", "sales", "amount", "price"):
		return fmt.Sprintf("The result is **$%s**.", formatted)
	}
	return fmt.Sprintf("The result is **%s**.", formatted)
}

var nameColumnTerms = []string{"name", "title", "artist", "customer"}

func multiRowAnswer(q string, result query.Result) string {
	answer := fmt.Sprintf("Found **%s results**.", formatInt(int64(result.RowCount)))
	if result.RowCount == 1 {
		answer = "Found **1 result**."
	}

	if len(result.Columns) >= 2 && len(result.Rows) > 0 {
		first := result.Rows[0]
		nameIdx := 0
		for i, column := range result.Columns {
			if containsAny(strings.ToLower(column), nameColumnTerms...) {
				nameIdx = i
				break
			}
		}
		if nameIdx < len(first) {
			switch {
			case containsAny(q, "top", "best", "highest"):
				answer += fmt.Sprintf(" The top result is **%v**.", first[nameIdx])
			case containsAny(q, "least", "lowest", "worst"):
				answer += fmt.Sprintf(" The lowest is **%v**.", first[nameIdx])
			}
		}
	}
	if result.Truncated {
		answer += " *(Results were truncated)*"
	}
	return answer
}

var camelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)

// columnTitle turns snake_case and CamelCase names into "Title Case".
func columnTitle(column string) string {
	spaced := camelBoundary.ReplaceAllString(strings.ReplaceAll(column, "_", " "), "$1 $2")
	words := strings.Fields(spaced)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " ")
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "*N/A*"
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	case int64:
		return formatInt(v)
	case int:
		return formatInt(int64(v))
	case float64:
		return formatFloat(v)
	}
	return fmt.Sprint(value)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func formatInt(n int64) string {
	digits := fmt.Sprintf("%d", n)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprint(f)
	}
	text := fmt.Sprintf("%.2f", f)
	whole, frac, _ := strings.Cut(text, ".")
	n, _ := strconv.ParseInt(whole, 10, 64)
	out := formatInt(n)
	if strings.HasPrefix(whole, "-") && n == 0 {
		out = "-" + out
	}
	return out + "." + frac
}

func containsAny(s string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

// Package refiner selects the part of a schema that is relevant to a question.
package refiner

import (
	"regexp"
	"sort"
	"strings"

	"github.com/duckmesh/askdb/internal/schema"
	"github.com/duckmesh/askdb/internal/schema/fkgraph"
)

const (
	DefaultTopK   = 3
	DefaultFKHops = 1
	// NoExpansion as Options.FKHops keeps the seed tables only.
	NoExpansion = -1

	tableNameWeight  = 3
	columnNameWeight = 1
)

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

// Options tunes refinement. Zero values select the defaults, so a zero
// FKHops means DefaultFKHops; use NoExpansion to turn expansion off.
type Options struct {
	TopK   int
	FKHops int
}

type Result struct {
	Schema schema.Schema
	Seeds  []string
	Scores map[string]int
}

// Refine returns the subset of full relevant to query. It never returns a
// table without columns.
func Refine(full schema.Schema, query string, opts Options) schema.Schema {
	return RefineDetailed(full, query, opts).Schema
}

func RefineDetailed(full schema.Schema, query string, opts Options) Result {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	hops := opts.FKHops
	switch {
	case hops == 0:
		hops = DefaultFKHops
	case hops < 0:
		hops = 0
	}

	tokens := Tokenize(query)

	type scored struct {
		name  string
		score int
	}
	scores := make(map[string]int)
	ranked := make([]scored, 0, len(full.Tables))
	for _, table := range full.Tables {
		score := 0
		if tokens[strings.ToLower(table.Name)] {
			score += tableNameWeight
		}
		for _, column := range table.Columns {
			if tokens[strings.ToLower(column.Name)] {
				score += columnNameWeight
			}
		}
		if score > 0 {
			scores[table.Name] = score
			ranked = append(ranked, scored{name: table.Name, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	seeds := make([]string, 0, topK)
	if len(ranked) == 0 {
		for _, table := range full.Tables {
			if len(seeds) == topK {
				break
			}
			seeds = append(seeds, table.Name)
		}
	} else {
		for _, entry := range ranked {
			if len(seeds) == topK {
				break
			}
			seeds = append(seeds, entry.name)
		}
	}

	graph := fkgraph.Build(full)
	graph.FallbackSize = topK
	expanded := graph.Expand(seeds, hops)

	isSeed := make(map[string]bool, len(seeds))
	for _, seed := range seeds {
		isSeed[seed] = true
	}
	keep := make(map[string]bool, len(expanded))
	columns := make(map[string][]schema.Column, len(expanded))
	for _, name := range expanded {
		table, ok := full.Table(name)
		if !ok {
			continue
		}
		keep[name] = true
		if isSeed[name] {
			continue
		}
		relevant := make([]schema.Column, 0)
		for _, column := range table.Columns {
			if tokens[strings.ToLower(column.Name)] {
				relevant = append(relevant, column)
			}
		}
		if len(relevant) > 0 {
			columns[name] = relevant
		}
	}

	return Result{
		Schema: full.Restrict(keep, columns),
		Seeds:  seeds,
		Scores: scores,
	}
}

// Tokenize lower-cases text and splits it into word tokens.
func Tokenize(text string) map[string]bool {
	words := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make(map[string]bool, len(words))
	for _, word := range words {
		tokens[word] = true
	}
	return tokens
}

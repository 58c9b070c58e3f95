package router

import (
	"sort"
	"strings"
)

// Intent classes. General is the fallback when no keyword class scores.
const (
	IntentSecurity    = "security"
	IntentDevelopment = "development"
	IntentPlanning    = "planning"
	IntentDatabase    = "database"
	IntentGeneral     = "general"
)

// intentPriority breaks count ties between the built-in classes.
var intentPriority = []string{IntentSecurity, IntentDevelopment, IntentPlanning, IntentDatabase}

// ClassifyIntent labels a query with the keyword class that scores the most
// hits. Ties go to the higher-priority class; no hits at all means general.
func (r *Router) ClassifyIntent(query string) string {
	tokens := tokenize(strings.ToLower(query))

	counts := make(map[string]int, len(r.cfg.IntentKeywords))
	for class, keywords := range r.cfg.IntentKeywords {
		if n := countWords(tokens, keywords); n > 0 {
			counts[class] = n
		}
	}
	if len(counts) == 0 {
		return IntentGeneral
	}

	best, bestCount := "", 0
	for _, class := range classOrder(counts) {
		if counts[class] > bestCount {
			best, bestCount = class, counts[class]
		}
	}
	return best
}

// classOrder lists the classes with hits, built-in priority first and any
// operator-defined classes after, alphabetically.
func classOrder(counts map[string]int) []string {
	order := make([]string, 0, len(counts))
	seen := make(map[string]bool, len(counts))
	for _, class := range intentPriority {
		if _, ok := counts[class]; ok {
			order = append(order, class)
			seen[class] = true
		}
	}
	var extra []string
	for class := range counts {
		if !seen[class] {
			extra = append(extra, class)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

package router

import (
	"strings"
	"unicode"

	"github.com/switchyard-ai/switchyard/pkg/config"
)

// Complexity buckets on the clamped [0,100] score.
const (
	BucketLow    = "low"
	BucketMedium = "medium"
	BucketHigh   = "high"
)

// Complexity is the classified difficulty of one query.
type Complexity struct {
	Score  int    `json:"score"`
	Bucket string `json:"bucket"`
}

// ScoreComplexity computes the weighted-signal complexity of a query. The
// result depends only on the query text, the configured tables, and the
// prior conversation length, so identical inputs always classify identically.
func (r *Router) ScoreComplexity(query string, historyTurns int) Complexity {
	cfg := r.cfg
	lower := strings.ToLower(query)
	tokens := tokenize(lower)

	score := lengthWeight(cfg.LengthBuckets, len(query))

	highHits := countWords(tokens, cfg.HighKeywords)
	if highHits > 0 {
		score += cfg.HighBase + cfg.HighPerKeyword*highHits
	}

	mediumHits := countWords(tokens, cfg.MediumKeywords)
	if mediumHits > 0 {
		base := cfg.MediumBase
		if highHits > 0 {
			base = cfg.MediumBaseAfterHigh
		}
		score += base + cfg.MediumPerKeyword*mediumHits
	}

	for keyword, weight := range cfg.LowKeywords {
		score += weight * wordCount(tokens, keyword)
	}

	// Triple-backtick pairs are fences; leftover single backticks pair up
	// into inline snippets.
	fenceMarkers := strings.Count(query, "```")
	fences := fenceMarkers / 2
	score += cfg.FenceWeight * fences
	inlinePairs := (strings.Count(query, "`") - 3*fenceMarkers) / 2
	if inlinePairs > 0 {
		score += cfg.InlineCodeWeight * inlinePairs
	}

	for _, ext := range cfg.FileExtensions {
		score += cfg.FileExtWeight * strings.Count(lower, ext)
	}

	score += cfg.MultiPartWeight * countPhrases(lower, cfg.MultiPartMarkers)
	score += cfg.ContextualWeight * countPhrases(lower, cfg.ContextualMarkers)
	score += cfg.ComparativeWeight * countPhrases(lower, cfg.ComparativeMarkers)

	questions := cfg.QuestionWeight * strings.Count(query, "?")
	if questions > cfg.QuestionCap {
		questions = cfg.QuestionCap
	}
	score += questions

	score += cfg.WhyWeight * wordCount(tokens, "why")
	score += cfg.HowWeight * wordCount(tokens, "how")
	score += cfg.WhatIfWeight * strings.Count(lower, "what if")

	if historyTurns >= cfg.HistoryMinTurns {
		boost := cfg.HistoryPerTurn * historyTurns
		if boost > cfg.HistoryCap {
			boost = cfg.HistoryCap
		}
		score += boost
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Complexity{Score: score, Bucket: r.bucketFor(score)}
}

func (r *Router) bucketFor(score int) string {
	switch {
	case score >= r.cfg.HighThreshold:
		return BucketHigh
	case score >= r.cfg.MediumThreshold:
		return BucketMedium
	default:
		return BucketLow
	}
}

// lengthWeight returns the weight of the first bucket the length fits in.
// A MaxChars of zero is the catch-all for anything longer.
func lengthWeight(buckets []config.LengthBucket, length int) int {
	for _, b := range buckets {
		if b.MaxChars == 0 || length <= b.MaxChars {
			return b.Weight
		}
	}
	return 0
}

// tokenize splits lowercased text into words, keeping intra-word hyphens so
// keywords like "fault-tolerance" survive as one token.
func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

func wordCount(tokens []string, keyword string) int {
	count := 0
	for _, t := range tokens {
		if t == keyword {
			count++
		}
	}
	return count
}

func countWords(tokens []string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		count += wordCount(tokens, kw)
	}
	return count
}

func countPhrases(lower string, phrases []string) int {
	count := 0
	for _, p := range phrases {
		count += strings.Count(lower, p)
	}
	return count
}

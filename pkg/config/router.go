package config

import "time"

// LengthBucket maps a query length ceiling to a complexity contribution.
// MaxChars of zero means no upper bound.
type LengthBucket struct {
	MaxChars int `yaml:"max_chars"`
	Weight   int `yaml:"weight"`
}

// RouterConfig carries every tunable the router uses to classify queries
// and score agents. All lists and weights can be overridden from YAML so
// routing behavior is adjustable without a rebuild.
type RouterConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Complexity signals.
	LengthBuckets       []LengthBucket `yaml:"length_buckets,omitempty"`
	HighKeywords        []string       `yaml:"high_keywords,omitempty"`
	MediumKeywords      []string       `yaml:"medium_keywords,omitempty"`
	LowKeywords         map[string]int `yaml:"low_keywords,omitempty"`
	HighBase            int            `yaml:"high_base"`
	HighPerKeyword      int            `yaml:"high_per_keyword"`
	MediumBase          int            `yaml:"medium_base"`
	MediumBaseAfterHigh int            `yaml:"medium_base_after_high"`
	MediumPerKeyword    int            `yaml:"medium_per_keyword"`
	FenceWeight         int            `yaml:"fence_weight"`
	InlineCodeWeight    int            `yaml:"inline_code_weight"`
	FileExtensions      []string       `yaml:"file_extensions,omitempty"`
	FileExtWeight       int            `yaml:"file_ext_weight"`
	MultiPartMarkers    []string       `yaml:"multi_part_markers,omitempty"`
	MultiPartWeight     int            `yaml:"multi_part_weight"`
	ContextualMarkers   []string       `yaml:"contextual_markers,omitempty"`
	ContextualWeight    int            `yaml:"contextual_weight"`
	ComparativeMarkers  []string       `yaml:"comparative_markers,omitempty"`
	ComparativeWeight   int            `yaml:"comparative_weight"`
	QuestionWeight      int            `yaml:"question_weight"`
	QuestionCap         int            `yaml:"question_cap"`
	WhyWeight           int            `yaml:"why_weight"`
	HowWeight           int            `yaml:"how_weight"`
	WhatIfWeight        int            `yaml:"what_if_weight"`
	HistoryMinTurns     int            `yaml:"history_min_turns"`
	HistoryPerTurn      int            `yaml:"history_per_turn"`
	HistoryCap          int            `yaml:"history_cap"`

	// Bucket boundaries on the clamped [0,100] score.
	MediumThreshold int `yaml:"medium_threshold"`
	HighThreshold   int `yaml:"high_threshold"`

	// Intent classification. Keys are intent class names; general needs no
	// list because it is the fallback.
	IntentKeywords map[string][]string `yaml:"intent_keywords,omitempty"`

	// Agent scoring.
	IntentWeight       float64       `yaml:"intent_weight"`
	SkillWeight        float64       `yaml:"skill_weight"`
	AvailabilityWeight float64       `yaml:"availability_weight"`
	RecencyPenalty     float64       `yaml:"recency_penalty"`
	RecencyWindow      time.Duration `yaml:"recency_window"`
	FloorHigh          float64       `yaml:"floor_high"`
	FloorMedium        float64       `yaml:"floor_medium"`
	FloorLow           float64       `yaml:"floor_low"`
}

// DefaultRouterConfig returns the stock classification tables and weights.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		CacheTTL: 300 * time.Second,

		LengthBuckets: []LengthBucket{
			{MaxChars: 30, Weight: -5},
			{MaxChars: 100, Weight: 0},
			{MaxChars: 400, Weight: 8},
			{MaxChars: 1200, Weight: 15},
			{MaxChars: 3000, Weight: 20},
			{MaxChars: 0, Weight: 25},
		},
		HighKeywords: []string{
			"architecture", "security", "distributed", "consensus",
			"scalability", "refactor", "optimization", "concurrency",
			"microservices", "fault-tolerance",
		},
		MediumKeywords: []string{
			"review", "fix", "bug", "implement", "test", "integration",
			"debug", "endpoint", "upgrade", "document",
		},
		LowKeywords: map[string]int{
			"hello":  -8,
			"hi":     -8,
			"hey":    -8,
			"thanks": -8,
			"thank":  -6,
			"simple": -5,
			"typo":   -4,
			"format": -3,
			"rename": -3,
		},
		HighBase:            30,
		HighPerKeyword:      18,
		MediumBase:          22,
		MediumBaseAfterHigh: 8,
		MediumPerKeyword:    10,
		FenceWeight:         25,
		InlineCodeWeight:    3,
		FileExtensions: []string{
			".go", ".py", ".js", ".ts", ".java", ".rs", ".c", ".cpp",
			".rb", ".php", ".sql", ".sh", ".yaml", ".yml", ".json", ".proto",
		},
		FileExtWeight:      3,
		MultiPartMarkers:   []string{"also,", "additionally,", "furthermore,", "and then"},
		MultiPartWeight:    5,
		ContextualMarkers:  []string{"based on", "given the", "considering the", "building on"},
		ContextualWeight:   8,
		ComparativeMarkers: []string{" vs ", "versus", "compare", "trade-off", "tradeoff", "pros and cons"},
		ComparativeWeight:  6,
		QuestionWeight:     3,
		QuestionCap:        15,
		WhyWeight:          5,
		HowWeight:          4,
		WhatIfWeight:       8,
		HistoryMinTurns:    5,
		HistoryPerTurn:     2,
		HistoryCap:         15,

		MediumThreshold: 30,
		HighThreshold:   70,

		IntentKeywords: map[string][]string{
			"security": {
				"security", "vulnerability", "exploit", "auth",
				"authentication", "encryption", "cve", "audit", "penetration",
			},
			"development": {
				"code", "implement", "refactor", "bug", "fix", "test",
				"debug", "function", "api", "deploy", "build",
			},
			"planning": {
				"plan", "roadmap", "design", "strategy", "milestone",
				"schedule", "scope", "estimate",
			},
			"database": {
				"database", "sql", "query", "schema", "migration",
				"index", "postgres", "table",
			},
		},

		IntentWeight:       0.6,
		SkillWeight:        0.3,
		AvailabilityWeight: 0.1,
		RecencyPenalty:     0.7,
		RecencyWindow:      60 * time.Second,
		FloorHigh:          0.5,
		FloorMedium:        0.3,
		FloorLow:           0,
	}
}

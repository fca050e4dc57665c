// Package classify decides whether an email announces supplier price changes.
// Stage A is a cheap keyword heuristic used for previews and debugging;
// Stage B is the authoritative semantic classifier. Only Stage B's verdict
// gates the pipeline.
package classify

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// HeuristicResult is the outcome of the keyword pre-scan
type HeuristicResult struct {
	Hit     bool
	Score   float64
	Matched []string
}

// Keyword groups for the pre-scan. Price vocabulary is weighted highest;
// effective-date and money patterns corroborate.
var (
	priceKeywords = []string{
		"price increase", "price change", "price adjustment", "price revision",
		"new pricing", "updated pricing", "pricing update", "cost increase",
		"rate change", "surcharge", "price decrease", "new prices",
		"revised prices", "price update", "tariff",
	}

	effectiveKeywords = []string{
		"effective", "as of", "starting", "beginning", "takes effect",
		"will apply", "valid from",
	}

	currencyPattern = regexp.MustCompile(`[$€£]\s?\d|(?i)\b(usd|eur|gbp|cad|jpy)\b\s?\d?`)
	percentPattern  = regexp.MustCompile(`\d+(\.\d+)?\s?%`)
)

// Heuristic is the Stage A keyword scorer
type Heuristic struct{}

// NewHeuristic creates a new keyword pre-scanner
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Scan scores subject and body for price-change vocabulary. The score is a
// weighted keyword count; a score above 1.0 is a hit. This is advisory only.
func (h *Heuristic) Scan(subject, body string) HeuristicResult {
	text := strings.ToLower(subject + " " + body)

	var matched []string
	priceCount := 0
	for _, kw := range priceKeywords {
		if strings.Contains(text, kw) {
			priceCount++
			matched = append(matched, kw)
		}
	}

	effectiveCount := 0
	for _, kw := range effectiveKeywords {
		if strings.Contains(text, kw) {
			effectiveCount++
			matched = append(matched, kw)
		}
	}

	currencyHits := len(currencyPattern.FindAllString(text, 4))
	percentHits := len(percentPattern.FindAllString(text, 4))
	if currencyHits > 0 {
		matched = append(matched, fmt.Sprintf("%d currency amounts", currencyHits))
	}
	if percentHits > 0 {
		matched = append(matched, fmt.Sprintf("%d percent figures", percentHits))
	}

	score := float64(priceCount)*0.8 +
		float64(effectiveCount)*0.25 +
		math.Min(float64(currencyHits), 3)*0.2 +
		math.Min(float64(percentHits), 3)*0.2

	return HeuristicResult{
		Hit:     score > 1.0,
		Score:   score,
		Matched: matched,
	}
}

// Package analyzer scores article text with a weighted keyword list. The
// score feeds result ranking and the matched keywords are surfaced in API
// responses, no external calls involved.
package analyzer

import (
	"regexp"
	"sort"
)

// keyword weights, higher means stronger signal of market-moving news
var keywordWeights = map[int][]string{
	4: {"Endpoints", "Endpoint", "Designation", "Breakthrough", "Pivotal", "Revolutionary"},
	3: {"Phase III", "Positive", "Top-Line", "Significant", "Demonstrates", "Treatment",
		"Drug Trials", "Agreement", "Cancer", "Partnership", "Collaboration", "Improvements",
		"Successful", "Billionaire", "Carl Icahn", "Increase", "Awarded", "Primary",
		"Milestone", "Surge", "Record", "Approval Process", "Regulatory", "Clearance"},
	2: {"Phase II", "Receives", "FDA", "Approval", "Benefits", "Benefit", "Beneficial",
		"Fast Track", "Breakout", "Acquires", "Acquire", "Acquisition", "Expand",
		"Expansion", "Contract", "Completes", "Promising", "Achieves", "Achieve",
		"Achievements", "Achievement", "Launches", "Enhancement", "Innovation",
		"Clinical Trial", "Pipeline", "Success", "Funding", "Grant"},
	1: {"Phase I", "Grants", "Investors", "Accepted", "New", "Signs", "Merger", "Gain",
		"Initiates", "Starts", "Begins", "Preliminary", "Early Stage", "Development",
		"Prospects", "Proposal", "Investor Meeting"},
}

// Result holds the score and the keywords that contributed to it
type Result struct {
	Score    int      `json:"score"`
	Keywords []string `json:"keywords"`
}

type weightedPattern struct {
	keyword string
	weight  int
	re      *regexp.Regexp
}

// Analyzer scans title and summary text for weighted keywords
type Analyzer struct {
	patterns []weightedPattern
}

// New compiles the keyword patterns once, case insensitive with word
// boundaries so "New" does not fire inside "News".
func New() *Analyzer {
	var patterns []weightedPattern
	for weight, words := range keywordWeights {
		for _, w := range words {
			patterns = append(patterns, weightedPattern{
				keyword: w,
				weight:  weight,
				re:      regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`),
			})
		}
	}
	return &Analyzer{patterns: patterns}
}

// Analyze scores the combined title and summary. Each keyword counts once
// no matter how often it appears.
func (a *Analyzer) Analyze(title, summary string) Result {
	text := title + " " + summary

	res := Result{Keywords: []string{}}
	for _, p := range a.patterns {
		if p.re.MatchString(text) {
			res.Score += p.weight
			res.Keywords = append(res.Keywords, p.keyword)
		}
	}
	sort.Strings(res.Keywords)
	return res
}

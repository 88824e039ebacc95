package risk

import (
	"context"
	"fmt"
	"strings"
)

type keywordWeight struct {
	keyword string
	weight  float64
}

type keywordTier struct {
	name     string
	keywords []keywordWeight
}

var heuristicTiers = []keywordTier{
	{name: "critical", keywords: []keywordWeight{
		{"payment", 35}, {"billing", 35}, {"delete user", 40}, {"delete data", 35},
		{"drop table", 45}, {"production data", 40}, {"user password", 35}, {"credit card", 40},
	}},
	{name: "high", keywords: []keywordWeight{
		{"authentication", 25}, {"security", 25}, {"database schema", 25}, {"migration", 25},
		{"alter table", 28}, {"oauth", 20}, {"redis", 12}, {"cache", 10},
	}},
	{name: "medium", keywords: []keywordWeight{
		{"database", 15}, {"sql", 15}, {"backend api", 12}, {"third-party service", 12},
		{"external api", 12}, {"webhook", 10}, {"ml model", 15}, {"tensorflow", 12}, {"algorithm", 12},
	}},
	{name: "routine", keywords: []keywordWeight{
		{"api", 5}, {"backend", 4}, {"integration", 8}, {"email", 6}, {"notification", 5},
		{"template", 3}, {"user", 3}, {"data", 3}, {"retry", 4}, {"queue", 6}, {"async", 5},
	}},
}

const heuristicBaseScore = 10

// HeuristicAssessor scores a submission by weighted keywords found in its
// text plus a bonus for wide scopes. It needs no external service.
type HeuristicAssessor struct{}

func NewHeuristicAssessor() *HeuristicAssessor { return &HeuristicAssessor{} }

func (HeuristicAssessor) Assess(_ context.Context, in Input) (Assessment, error) {
	text := strings.ToLower(strings.Join([]string{in.Name, in.Scope, in.CodeChanges, in.Description}, " "))
	score := float64(heuristicBaseScore)
	issues := []string{}
	counts := make([]int, len(heuristicTiers))

	for i, tier := range heuristicTiers {
		for _, kw := range tier.keywords {
			if strings.Contains(text, kw.keyword) {
				issues = append(issues, tier.name+"_"+strings.ReplaceAll(kw.keyword, " ", "_"))
				score += kw.weight
				counts[i]++
			}
		}
	}

	switch strings.ToLower(strings.TrimSpace(in.Scope)) {
	case "all", "all systems":
		score += 15
		issues = append(issues, "affects_all_systems")
	case "database":
		score += 20
		issues = append(issues, "database_scope")
	}
	if score > 100 {
		score = 100
	}
	if len(issues) == 0 {
		issues = append(issues, "routine_change")
	}

	return Assessment{
		Score:          score,
		Reasoning:      fmt.Sprintf("Keyword analysis: %d critical, %d high, %d medium, %d routine keywords detected.", counts[0], counts[1], counts[2], counts[3]),
		DetectedIssues: issues,
		Recommendation: Recommendation(LevelForScore(score)),
		Source:         SourceHeuristic,
	}, nil
}

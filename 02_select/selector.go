package selector

import (
	"sort"
	"time"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/types"
)

// Constraints bound which clips are eligible in one run.
type Constraints struct {
	MinDurationSeconds    float64
	MaxDurationSeconds    float64
	RequiredLanguage      string
	Lookback              time.Duration
	MaxCandidatesPerFetch int
}

// ConstraintsFrom builds the run constraints from the loaded configuration.
func ConstraintsFrom(cfg *config.Config) Constraints {
	return Constraints{
		MinDurationSeconds:    cfg.Selection.MinDurationSeconds,
		MaxDurationSeconds:    cfg.Selection.MaxDurationSeconds,
		RequiredLanguage:      cfg.Twitch.Language,
		Lookback:              cfg.Twitch.Lookback,
		MaxCandidatesPerFetch: cfg.Selection.MaxCandidatesPerFetch,
	}
}

// Report counts why candidates were rejected.
type Report struct {
	Candidates int
	Accepted   int
	Duplicate  int
	Language   int
	Duration   int
}

// Select returns the eligible clips ranked by viewer count, most viewed first.
// Clips already published, repeated ids, clips in another language and clips
// outside the closed duration interval are dropped. Ties keep catalog order.
func Select(candidates []types.ClipRecord, published map[string]bool, c Constraints) []types.ClipRecord {
	out, _ := SelectWithReport(candidates, published, c)
	return out
}

// SelectWithReport is Select plus the rejection counts.
func SelectWithReport(candidates []types.ClipRecord, published map[string]bool, c Constraints) ([]types.ClipRecord, Report) {
	report := Report{Candidates: len(candidates)}

	seen := make(map[string]bool, len(published)+len(candidates))
	for id := range published {
		seen[id] = true
	}

	accepted := make([]types.ClipRecord, 0, len(candidates))
	for _, clip := range candidates {
		switch {
		case seen[clip.ID]:
			report.Duplicate++
		case clip.Language == "" || clip.Language != c.RequiredLanguage:
			report.Language++
		case clip.DurationSeconds < c.MinDurationSeconds || clip.DurationSeconds > c.MaxDurationSeconds:
			report.Duration++
		default:
			accepted = append(accepted, clip)
			seen[clip.ID] = true
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].ViewerCount > accepted[j].ViewerCount
	})
	report.Accepted = len(accepted)
	return accepted, report
}

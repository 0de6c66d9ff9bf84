package judging

import "github.com/viberacer/api/internal/contest"

// RoundStats summarises how far reviewers got through one round.
type RoundStats struct {
	Round          int     `json:"round"`
	Total          int     `json:"totalAssignments"`
	Completed      int     `json:"completedAssignments"`
	CompletionRate float64 `json:"completionRate"`
	UniqueJudges   int     `json:"uniqueJudges"`
}

// Stats reports per-round completion for rounds 1 through 3.
func Stats(assignments []contest.Assignment) []RoundStats {
	out := make([]RoundStats, 3)
	judges := make([]map[string]bool, 3)
	for i := range out {
		out[i].Round = i + 1
		judges[i] = map[string]bool{}
	}
	for _, a := range assignments {
		i := a.Round - 1
		if i < 0 || i >= len(out) {
			continue
		}
		out[i].Total++
		if a.Completed {
			out[i].Completed++
		}
		judges[i][a.ReviewerID] = true
	}
	for i := range out {
		out[i].UniqueJudges = len(judges[i])
		if out[i].Total > 0 {
			out[i].CompletionRate = float64(out[i].Completed) / float64(out[i].Total) * 100
		}
	}
	return out
}

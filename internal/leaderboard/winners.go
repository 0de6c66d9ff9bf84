package leaderboard

import (
	"sort"

	"github.com/viberacer/api/internal/contest"
)

// Standing aggregates persisted contest winners for one submitter.
type Standing struct {
	SubmitterID string  `json:"submitterId"`
	Wins        int     `json:"wins"`
	BestScore   float64 `json:"bestScore"`
}

// TopWinners ranks submitters by wins and then best winning score, and
// returns at most n of them. Contests without a winner are ignored.
func TopWinners(contests []contest.Contest, n int) []Standing {
	byID := make(map[string]*Standing)
	for _, c := range contests {
		if c.Winner == nil {
			continue
		}
		s, ok := byID[c.Winner.SubmitterID]
		if !ok {
			s = &Standing{SubmitterID: c.Winner.SubmitterID}
			byID[c.Winner.SubmitterID] = s
		}
		s.Wins++
		s.BestScore = max(s.BestScore, c.Winner.Score)
	}

	out := make([]Standing, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.BestScore != b.BestScore {
			return a.BestScore > b.BestScore
		}
		return a.SubmitterID < b.SubmitterID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Package leaderboard turns a contest's peer reviews into a ranked board.
package leaderboard

import (
	"math"
	"sort"
	"time"

	"github.com/viberacer/api/internal/contest"
)

// DefaultThreshold is the minimum number of reviews a submitter must give
// across a contest before they can be ranked.
const DefaultThreshold = 5

// tieEpsilon is the score difference under which two entries share a rank.
const tieEpsilon = 1e-9

// Entry is one submitter's line on the board. Rank and Score are zero for
// unranked entries.
type Entry struct {
	Rank            int       `json:"rank"`
	SubmitterID     string    `json:"submitterId"`
	SubmissionID    string    `json:"submissionId"`
	ArtifactRef     string    `json:"artifactRef"`
	Score           float64   `json:"score"`
	ReviewsGiven    int       `json:"reviewsGiven"`
	ReviewsReceived int       `json:"reviewsReceived"`
	Qualified       bool      `json:"qualified"`
	SubmittedAt     time.Time `json:"submittedAt"`

	raw float64
}

// Board is the computed leaderboard: ranked entries first, then the rest
// ordered by submitter ID.
type Board struct {
	ContestID string  `json:"contestId"`
	Entries   []Entry `json:"entries"`
}

// Calculate builds the board for one contest. A submitter is ranked only
// when they gave at least threshold reviews and received at least one.
// Ties share a rank and the next rank is skipped; inside a tie entries are
// ordered by earliest submission, then submitter ID.
func Calculate(contestID string, subs []contest.Submission, reviews []contest.Review, threshold int) Board {
	given := make(map[string]int)
	received := make(map[string]int)
	sum := make(map[string]float64)
	for _, r := range reviews {
		given[r.ReviewerID]++
		received[r.SubmissionID]++
		sum[r.SubmissionID] += r.Ratings.Mean()
	}

	var ranked, rest []Entry
	for _, s := range subs {
		e := Entry{
			SubmitterID:     s.SubmitterID,
			SubmissionID:    s.ID,
			ArtifactRef:     s.ArtifactRef,
			ReviewsGiven:    given[s.SubmitterID],
			ReviewsReceived: received[s.ID],
			Qualified:       given[s.SubmitterID] >= threshold,
			SubmittedAt:     s.UpdatedAt,
		}
		if e.Qualified && e.ReviewsReceived > 0 {
			e.raw = sum[s.ID] / float64(e.ReviewsReceived)
			ranked = append(ranked, e)
		} else {
			rest = append(rest, e)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if math.Abs(a.raw-b.raw) > tieEpsilon {
			return a.raw > b.raw
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.SubmitterID < b.SubmitterID
	})
	for i := range ranked {
		switch {
		case i > 0 && math.Abs(ranked[i].raw-ranked[i-1].raw) <= tieEpsilon:
			ranked[i].Rank = ranked[i-1].Rank
		default:
			ranked[i].Rank = i + 1
		}
		ranked[i].Score = round2(ranked[i].raw)
	}

	sort.Slice(rest, func(i, j int) bool { return rest[i].SubmitterID < rest[j].SubmitterID })
	return Board{ContestID: contestID, Entries: append(ranked, rest...)}
}

// Ranked returns only the ranked entries.
func (b Board) Ranked() []Entry {
	var out []Entry
	for _, e := range b.Entries {
		if e.Rank > 0 {
			out = append(out, e)
		}
	}
	return out
}

// Winner returns the first rank-1 entry after tie-breaking.
func (b Board) Winner() (Entry, bool) {
	if len(b.Entries) == 0 || b.Entries[0].Rank != 1 {
		return Entry{}, false
	}
	return b.Entries[0], true
}

// Entry looks up a submitter's line.
func (b Board) Entry(submitterID string) (Entry, bool) {
	for _, e := range b.Entries {
		if e.SubmitterID == submitterID {
			return e, true
		}
	}
	return Entry{}, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

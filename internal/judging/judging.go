// Package judging distributes peer submissions to reviewers for each
// judging round.
//
// Round 1 draws uniformly at random. Rounds 2 and 3 group submissions by
// their score in the previous round so reviewers compare entries of similar
// quality, then top up from the whole field when a group runs short. In
// every mode a reviewer never receives their own submission and never the
// same submission twice.
package judging

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/viberacer/api/internal/contest"
)

// DefaultPerJudge is how many submissions each reviewer gets per round.
const DefaultPerJudge = 4

// Plan maps a reviewer ID to the submission IDs assigned to them.
type Plan map[string][]string

// Assignments expands the plan into rows for one round. Reviewers are
// emitted in sorted order so batches are reproducible.
func (p Plan) Assignments(contestID string, round int, now time.Time) []contest.Assignment {
	reviewers := make([]string, 0, len(p))
	for r := range p {
		reviewers = append(reviewers, r)
	}
	sort.Strings(reviewers)

	var out []contest.Assignment
	for _, r := range reviewers {
		for _, subID := range p[r] {
			out = append(out, contest.Assignment{
				ContestID:    contestID,
				ReviewerID:   r,
				SubmissionID: subID,
				Round:        round,
				AssignedAt:   now,
			})
		}
	}
	return out
}

// Engine builds assignment plans. It is safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine returns an engine drawing from rng, or from a freshly seeded
// source when rng is nil.
func NewEngine(rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(seed(), seed()))
	}
	return &Engine{rng: rng}
}

func seed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (e *Engine) shuffle(ids []string) {
	e.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

// Random assigns each submitter up to k submissions drawn uniformly
// without replacement from everyone else's.
func (e *Engine) Random(subs []contest.Submission, k int) Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.random(sortedByID(subs), k)
}

func (e *Engine) random(subs []contest.Submission, k int) Plan {
	plan := make(Plan, len(subs))
	for _, own := range subs {
		others := othersOf(subs, own.SubmitterID, nil)
		if len(others) == 0 {
			continue
		}
		e.shuffle(others)
		plan[own.SubmitterID] = others[:min(k, len(others))]
	}
	return plan
}

// ScoreGrouped assigns each submitter up to k submissions from the bucket
// holding their own submission, where buckets are contiguous runs of k
// submissions ordered by their score in prevRound. Short buckets are topped
// up at random from every other submission. With no usable score buckets
// it falls back to Random.
func (e *Engine) ScoreGrouped(subs []contest.Submission, reviews []contest.Review, prevRound, k int) Plan {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs = sortedByID(subs)
	groups := Buckets(subs, Scores(reviews, prevRound), k)
	if len(groups) == 0 {
		return e.random(subs, k)
	}

	bucketOf := make(map[string]int, len(subs))
	for i, g := range groups {
		for _, id := range g {
			bucketOf[id] = i
		}
	}
	owner := make(map[string]string, len(subs))
	for _, s := range subs {
		owner[s.ID] = s.SubmitterID
	}

	plan := make(Plan, len(subs))
	for _, own := range subs {
		var picks []string
		for _, id := range groups[bucketOf[own.ID]] {
			if owner[id] != own.SubmitterID {
				picks = append(picks, id)
			}
		}
		e.shuffle(picks)
		if len(picks) > k {
			picks = picks[:k]
		}

		if len(picks) < k {
			taken := make(map[string]bool, len(picks))
			for _, id := range picks {
				taken[id] = true
			}
			pool := othersOf(subs, own.SubmitterID, taken)
			e.shuffle(pool)
			picks = append(picks, pool[:min(k-len(picks), len(pool))]...)
		}
		if len(picks) > 0 {
			plan[own.SubmitterID] = picks
		}
	}
	return plan
}

// Scores returns the mean review score of every submission reviewed in
// round. Submissions without reviews in that round are absent.
func Scores(reviews []contest.Review, round int) map[string]float64 {
	sum := make(map[string]float64)
	n := make(map[string]int)
	for _, r := range reviews {
		if r.Round != round {
			continue
		}
		sum[r.SubmissionID] += r.Ratings.Mean()
		n[r.SubmissionID]++
	}
	scores := make(map[string]float64, len(sum))
	for id, total := range sum {
		scores[id] = total / float64(n[id])
	}
	return scores
}

// Buckets partitions scored submissions, ascending by score, into runs of
// size k. A trailing run of one joins the run before it, and unscored
// submissions are dealt round-robin across the runs. It returns nil when
// no run of at least two scored submissions exists.
func Buckets(subs []contest.Submission, scores map[string]float64, k int) [][]string {
	if k < 1 {
		k = 1
	}
	var scored, unscored []string
	for _, s := range subs {
		if _, ok := scores[s.ID]; ok {
			scored = append(scored, s.ID)
		} else {
			unscored = append(unscored, s.ID)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scores[scored[i]], scores[scored[j]]
		if a != b {
			return a < b
		}
		return scored[i] < scored[j]
	})

	var groups [][]string
	for i := 0; i < len(scored); i += k {
		g := make([]string, len(scored[i:min(i+k, len(scored))]))
		copy(g, scored[i:min(i+k, len(scored))])
		groups = append(groups, g)
	}
	if n := len(groups); n > 1 && len(groups[n-1]) == 1 && k > 1 {
		groups[n-2] = append(groups[n-2], groups[n-1]...)
		groups = groups[:n-1]
	}
	if len(groups) == 0 || (len(groups) == 1 && len(groups[0]) < 2) {
		return nil
	}

	sort.Strings(unscored)
	for i, id := range unscored {
		groups[i%len(groups)] = append(groups[i%len(groups)], id)
	}
	return groups
}

// othersOf lists submission IDs not owned by submitterID and not in skip.
func othersOf(subs []contest.Submission, submitterID string, skip map[string]bool) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		if s.SubmitterID == submitterID || skip[s.ID] {
			continue
		}
		out = append(out, s.ID)
	}
	return out
}

func sortedByID(subs []contest.Submission) []contest.Submission {
	out := make([]contest.Submission, len(subs))
	copy(out, subs)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

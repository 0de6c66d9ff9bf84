package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/viberacer/api/internal/contest"
)

// Submit records submitterID's artifact for the active contest. Later
// submissions replace earlier ones; submitting is open only while Building.
func (s *Service) Submit(ctx context.Context, submitterID, artifactRef string) (contest.Submission, error) {
	artifactRef = strings.TrimSpace(artifactRef)
	if err := validateArtifact(artifactRef); err != nil {
		return contest.Submission{}, err
	}

	stage, err := s.currentStage(ctx)
	if err != nil {
		return contest.Submission{}, err
	}
	if stage != contest.StageBuilding {
		return contest.Submission{}, contest.Reject(contest.ErrStageClosed, "submissions are only accepted during the building stage")
	}

	c, err := s.store.ActiveContest(ctx)
	if err != nil {
		return contest.Submission{}, err
	}
	sub, err := s.store.UpsertSubmission(ctx, contest.Submission{
		ContestID:   c.ID,
		SubmitterID: submitterID,
		ArtifactRef: artifactRef,
		UpdatedAt:   s.sched.Now(),
	})
	if errors.Is(err, contest.ErrStageClosed) {
		return contest.Submission{}, contest.Reject(contest.ErrStageClosed, "submissions are only accepted during the building stage")
	}
	if err != nil {
		return contest.Submission{}, fmt.Errorf("saving submission: %w", err)
	}
	return sub, nil
}

func validateArtifact(ref string) error {
	if ref == "" {
		return contest.Reject(contest.ErrInvalidArtifact, "artifact URL is required")
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return contest.Reject(contest.ErrInvalidArtifact, "artifact must be an http or https URL")
	}
	return nil
}

// MySubmission returns submitterID's entry in the active contest.
func (s *Service) MySubmission(ctx context.Context, submitterID string) (contest.Submission, error) {
	c, err := s.store.ActiveContest(ctx)
	if err != nil {
		return contest.Submission{}, err
	}
	return s.store.SubmissionBySubmitter(ctx, c.ID, submitterID)
}

// AssignmentView is one entry of a reviewer's set.
type AssignmentView struct {
	SubmissionID string `json:"submissionId"`
	ArtifactRef  string `json:"artifactRef"`
	Completed    bool   `json:"completed"`
}

// AssignmentsView is a reviewer's set for the current judging round.
// StageNumber is zero outside judging.
type AssignmentsView struct {
	StageNumber   int              `json:"stageNumber"`
	HasSubmission bool             `json:"hasSubmission"`
	AllCompleted  bool             `json:"allCompleted"`
	Assignments   []AssignmentView `json:"assignments"`
}

// JudgingAssignments lists what reviewerID has to review this round.
func (s *Service) JudgingAssignments(ctx context.Context, reviewerID string) (AssignmentsView, error) {
	view := AssignmentsView{Assignments: []AssignmentView{}}

	stage, err := s.currentStage(ctx)
	if errors.Is(err, contest.ErrNotInitialized) {
		return view, nil
	}
	if err != nil {
		return view, err
	}
	round, ok := stage.JudgingRound()
	if !ok {
		return view, nil
	}
	view.StageNumber = round

	c, err := s.store.ActiveContest(ctx)
	if errors.Is(err, contest.ErrNoActiveContest) {
		return view, nil
	}
	if err != nil {
		return view, err
	}

	if _, err := s.store.SubmissionBySubmitter(ctx, c.ID, reviewerID); err == nil {
		view.HasSubmission = true
	} else if !errors.Is(err, contest.ErrNotFound) {
		return view, err
	}

	as, err := s.store.ReviewerAssignments(ctx, c.ID, reviewerID, round)
	if err != nil {
		return view, fmt.Errorf("loading assignments: %w", err)
	}
	subs, err := s.store.Submissions(ctx, c.ID)
	if err != nil {
		return view, fmt.Errorf("loading submissions: %w", err)
	}
	refs := make(map[string]string, len(subs))
	for _, sub := range subs {
		refs[sub.ID] = sub.ArtifactRef
	}

	view.AllCompleted = len(as) > 0
	for _, a := range as {
		view.Assignments = append(view.Assignments, AssignmentView{
			SubmissionID: a.SubmissionID,
			ArtifactRef:  refs[a.SubmissionID],
			Completed:    a.Completed,
		})
		if !a.Completed {
			view.AllCompleted = false
		}
	}
	return view, nil
}

const (
	minRating = 1
	maxRating = 10
)

// SubmitReview records reviewerID's ratings for one of their open
// assignments in the current round.
func (s *Service) SubmitReview(ctx context.Context, reviewerID, submissionID string, ratings contest.Ratings) (contest.Review, error) {
	if !ratings.Within(minRating, maxRating) {
		return contest.Review{}, contest.Reject(contest.ErrInvalidRatings, fmt.Sprintf("ratings must be between %d and %d", minRating, maxRating))
	}

	stage, err := s.currentStage(ctx)
	if err != nil {
		return contest.Review{}, err
	}
	round, ok := stage.JudgingRound()
	if !ok {
		return contest.Review{}, contest.Reject(contest.ErrStageClosed, "reviews are only accepted during judging")
	}

	c, err := s.store.ActiveContest(ctx)
	if err != nil {
		return contest.Review{}, err
	}

	r, err := s.store.RecordReview(ctx, contest.Review{
		ContestID:    c.ID,
		ReviewerID:   reviewerID,
		SubmissionID: submissionID,
		Ratings:      ratings,
		Round:        round,
		CreatedAt:    s.sched.Now(),
	})
	switch {
	case errors.Is(err, contest.ErrStageClosed):
		return contest.Review{}, contest.Reject(contest.ErrStageClosed, fmt.Sprintf("judging round %d has closed", round))
	case errors.Is(err, contest.ErrNotAssigned):
		return contest.Review{}, contest.Reject(contest.ErrNotAssigned, "you are not assigned to review this submission")
	case errors.Is(err, contest.ErrAlreadyReviewed):
		return contest.Review{}, contest.Reject(contest.ErrAlreadyReviewed, "you have already reviewed this submission")
	case err != nil:
		return contest.Review{}, fmt.Errorf("recording review: %w", err)
	}
	return r, nil
}

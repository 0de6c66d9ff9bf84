package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/viberacer/api/internal/contest"
)

// CreateAssignments inserts one round's batch. A round is written once:
// if any assignment already exists for it, nothing is inserted and
// contest.ErrAssignmentsExist is returned.
func (s *Store) CreateAssignments(ctx context.Context, contestID string, round int, batch []contest.Assignment) ([]contest.Assignment, error) {
	out := make([]contest.Assignment, 0, len(batch))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM assignments WHERE contest_id = ? AND round = ?`,
			contestID, round,
		).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return contest.ErrAssignmentsExist
		}

		for _, a := range batch {
			a.ID = newID()
			a.ContestID = contestID
			a.Round = round
			a.Completed = false
			a.CompletedAt = nil
			data, err := encode(a)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO assignments (id, contest_id, reviewer_id, submission_id, round, completed, data)
				 VALUES (?, ?, ?, ?, ?, 0, jsonb(?))`,
				a.ID, a.ContestID, a.ReviewerID, a.SubmissionID, a.Round, data,
			); err != nil {
				return fmt.Errorf("inserting assignment: %w", err)
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Assignments lists a contest's assignments. A round of zero means every
// round.
func (s *Store) Assignments(ctx context.Context, contestID string, round int) ([]contest.Assignment, error) {
	if round == 0 {
		return listDocs[contest.Assignment](ctx, s.db,
			`SELECT json(data) FROM assignments WHERE contest_id = ? ORDER BY round, reviewer_id, id`,
			contestID,
		)
	}
	return listDocs[contest.Assignment](ctx, s.db,
		`SELECT json(data) FROM assignments WHERE contest_id = ? AND round = ? ORDER BY reviewer_id, id`,
		contestID, round,
	)
}

// ReviewerAssignments lists one reviewer's assignments for a round.
func (s *Store) ReviewerAssignments(ctx context.Context, contestID, reviewerID string, round int) ([]contest.Assignment, error) {
	return listDocs[contest.Assignment](ctx, s.db,
		`SELECT json(data) FROM assignments
		 WHERE contest_id = ? AND reviewer_id = ? AND round = ?
		 ORDER BY id`,
		contestID, reviewerID, round,
	)
}

// RecordReview stores r and marks the matching assignment completed in one
// transaction. It fails with contest.ErrNotAssigned when no assignment
// matches and contest.ErrAlreadyReviewed when it is already completed. It
// fails with contest.ErrStageClosed unless the live stage is r.Round's
// judging stage.
func (s *Store) RecordReview(ctx context.Context, r contest.Review) (contest.Review, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		st, err := readStage(ctx, tx)
		if errors.Is(err, contest.ErrNotInitialized) {
			return contest.ErrStageClosed
		}
		if err != nil {
			return err
		}
		if round, ok := st.CurrentStage.JudgingRound(); !ok || round != r.Round {
			return contest.ErrStageClosed
		}

		a, err := getDoc[contest.Assignment](ctx, tx,
			`SELECT json(data) FROM assignments
			 WHERE contest_id = ? AND reviewer_id = ? AND submission_id = ? AND round = ?`,
			r.ContestID, r.ReviewerID, r.SubmissionID, r.Round,
		)
		if errors.Is(err, contest.ErrNotFound) {
			return contest.ErrNotAssigned
		}
		if err != nil {
			return err
		}
		if a.Completed {
			return contest.ErrAlreadyReviewed
		}

		r.ID = newID()
		data, err := encode(r)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO reviews (id, contest_id, reviewer_id, submission_id, round, data)
			 VALUES (?, ?, ?, ?, ?, jsonb(?))`,
			r.ID, r.ContestID, r.ReviewerID, r.SubmissionID, r.Round, data,
		)
		if isUniqueViolation(err) {
			return contest.ErrAlreadyReviewed
		}
		if err != nil {
			return fmt.Errorf("inserting review: %w", err)
		}

		done := r.CreatedAt
		a.Completed = true
		a.CompletedAt = &done
		adata, err := encode(a)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE assignments SET completed = 1, data = jsonb(?) WHERE id = ?`,
			adata, a.ID,
		)
		return err
	})
	if err != nil {
		return contest.Review{}, err
	}
	return r, nil
}

// Reviews lists every review given in a contest.
func (s *Store) Reviews(ctx context.Context, contestID string) ([]contest.Review, error) {
	return listDocs[contest.Review](ctx, s.db,
		`SELECT json(data) FROM reviews WHERE contest_id = ? ORDER BY round, id`, contestID,
	)
}

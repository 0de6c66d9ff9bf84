package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/viberacer/api/internal/contest"
)

// UpsertSubmission stores sub as the submitter's entry for its contest,
// replacing any earlier entry but keeping its ID. The live stage is read in
// the same transaction, so a write racing the end of building yields
// contest.ErrStageClosed.
func (s *Store) UpsertSubmission(ctx context.Context, sub contest.Submission) (contest.Submission, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		st, err := readStage(ctx, tx)
		if errors.Is(err, contest.ErrNotInitialized) {
			return contest.ErrStageClosed
		}
		if err != nil {
			return err
		}
		if st.CurrentStage != contest.StageBuilding {
			return contest.ErrStageClosed
		}

		var id string
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM submissions WHERE contest_id = ? AND submitter_id = ?`,
			sub.ContestID, sub.SubmitterID,
		).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id = newID()
		case err != nil:
			return err
		}
		sub.ID = id

		data, err := encode(sub)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO submissions (id, contest_id, submitter_id, data) VALUES (?, ?, ?, jsonb(?))
			 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
			sub.ID, sub.ContestID, sub.SubmitterID, data,
		)
		return err
	})
	if err != nil {
		return contest.Submission{}, fmt.Errorf("upserting submission: %w", err)
	}
	return sub, nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (contest.Submission, error) {
	return getDoc[contest.Submission](ctx, s.db, `SELECT json(data) FROM submissions WHERE id = ?`, id)
}

// SubmissionBySubmitter returns a submitter's entry for a contest.
func (s *Store) SubmissionBySubmitter(ctx context.Context, contestID, submitterID string) (contest.Submission, error) {
	return getDoc[contest.Submission](ctx, s.db,
		`SELECT json(data) FROM submissions WHERE contest_id = ? AND submitter_id = ?`,
		contestID, submitterID,
	)
}

// Submissions lists a contest's entries ordered by ID.
func (s *Store) Submissions(ctx context.Context, contestID string) ([]contest.Submission, error) {
	return listDocs[contest.Submission](ctx, s.db,
		`SELECT json(data) FROM submissions WHERE contest_id = ? ORDER BY id`, contestID,
	)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/viberacer/api/internal/contest"
)

// StageState returns the live stage record, or contest.ErrNotInitialized
// if the scheduler has not ticked yet.
func (s *Store) StageState(ctx context.Context) (contest.StageState, error) {
	return readStage(ctx, s.db)
}

func readStage(ctx context.Context, q querier) (contest.StageState, error) {
	var version int64
	var data string
	err := q.QueryRowContext(ctx,
		`SELECT version, json(data) FROM stage_state WHERE id = 1`,
	).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return contest.StageState{}, contest.ErrNotInitialized
	}
	if err != nil {
		return contest.StageState{}, err
	}
	var st contest.StageState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return contest.StageState{}, fmt.Errorf("decoding stage state: %w", err)
	}
	st.Version = version
	return st, nil
}

// UpdateStageState reads the stage record, hands it to fn and writes back
// what fn returns, all in one transaction. ok is false when no record
// exists yet. The write is conditioned on the version read, so a writer in
// another process that got there first yields contest.ErrConflict.
func (s *Store) UpdateStageState(ctx context.Context, fn func(cur contest.StageState, ok bool) (contest.StageState, error)) (contest.StageState, error) {
	var next contest.StageState
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := readStage(ctx, tx)
		ok := err == nil
		if err != nil && !errors.Is(err, contest.ErrNotInitialized) {
			return err
		}

		next, err = fn(cur, ok)
		if err != nil {
			return err
		}
		data, err := encode(next)
		if err != nil {
			return err
		}

		if !ok {
			next.Version = 1
			_, err := tx.ExecContext(ctx,
				`INSERT INTO stage_state (id, version, data) VALUES (1, ?, jsonb(?))`,
				next.Version, data,
			)
			if isUniqueViolation(err) {
				return contest.ErrConflict
			}
			return err
		}

		next.Version = cur.Version + 1
		res, err := tx.ExecContext(ctx,
			`UPDATE stage_state SET version = ?, data = jsonb(?) WHERE id = 1 AND version = ?`,
			next.Version, data, cur.Version,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return contest.ErrConflict
		}
		return nil
	})
	if err != nil {
		return contest.StageState{}, err
	}
	return next, nil
}

// DeleteStageState removes the stage record. Deleting a missing record is
// not an error.
func (s *Store) DeleteStageState(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stage_state WHERE id = 1`); err != nil {
		return fmt.Errorf("deleting stage state: %w", err)
	}
	return nil
}

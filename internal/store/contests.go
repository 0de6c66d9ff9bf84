package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/viberacer/api/internal/contest"
)

// CreateContest inserts c with a fresh ID. Only one contest may be active
// at a time; a second active insert fails with contest.ErrConflict.
func (s *Store) CreateContest(ctx context.Context, c contest.Contest) (contest.Contest, error) {
	c.ID = newID()
	data, err := encode(c)
	if err != nil {
		return contest.Contest{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contests (id, status, started_at, data) VALUES (?, ?, ?, jsonb(?))`,
		c.ID, c.Status, c.StartedAt.UnixNano(), data,
	)
	if isUniqueViolation(err) {
		return contest.Contest{}, contest.ErrConflict
	}
	if err != nil {
		return contest.Contest{}, fmt.Errorf("inserting contest: %w", err)
	}
	return c, nil
}

func (s *Store) GetContest(ctx context.Context, id string) (contest.Contest, error) {
	return getDoc[contest.Contest](ctx, s.db, `SELECT json(data) FROM contests WHERE id = ?`, id)
}

// ActiveContest returns the single active contest or
// contest.ErrNoActiveContest.
func (s *Store) ActiveContest(ctx context.Context) (contest.Contest, error) {
	c, err := getDoc[contest.Contest](ctx, s.db,
		`SELECT json(data) FROM contests WHERE status = ?`, contest.ContestActive,
	)
	if errors.Is(err, contest.ErrNotFound) {
		return contest.Contest{}, contest.ErrNoActiveContest
	}
	return c, err
}

// ModifyContest loads a contest, applies fn, and saves it in a transaction.
func (s *Store) ModifyContest(ctx context.Context, id string, fn func(*contest.Contest) error) (contest.Contest, error) {
	var c contest.Contest
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		c, err = getDoc[contest.Contest](ctx, tx, `SELECT json(data) FROM contests WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		data, err := encode(c)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE contests SET status = ?, started_at = ?, data = jsonb(?) WHERE id = ?`,
			c.Status, c.StartedAt.UnixNano(), data, c.ID,
		)
		if isUniqueViolation(err) {
			return contest.ErrConflict
		}
		return err
	})
	if err != nil {
		return contest.Contest{}, err
	}
	return c, nil
}

// CompletedContests lists completed contests started at or after since,
// newest first, at most limit of them. A zero since means no lower bound.
func (s *Store) CompletedContests(ctx context.Context, since time.Time, limit int) ([]contest.Contest, error) {
	var from int64 = math.MinInt64
	if !since.IsZero() {
		from = since.UnixNano()
	}
	return listDocs[contest.Contest](ctx, s.db,
		`SELECT json(data) FROM contests
		 WHERE status = ? AND started_at >= ?
		 ORDER BY started_at DESC LIMIT ?`,
		contest.ContestCompleted, from, limit,
	)
}

// Package store persists contest state in SQLite. Each model lives in its
// own table as a JSONB document next to the columns it is queried by.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/viberacer/api/internal/contest"
)

// Store is the SQLite-backed repository for every contest model.
type Store struct {
	db *sql.DB
}

// New wraps a migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getDoc loads a single document. A missing row maps to contest.ErrNotFound.
func getDoc[T any](ctx context.Context, q querier, query string, args ...any) (T, error) {
	var doc T
	var data string
	err := q.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return doc, contest.ErrNotFound
	}
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return doc, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

// listDocs loads every document a query returns. Rows are drained before
// returning since the pool holds a single connection.
func listDocs[T any](ctx context.Context, q querier, query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var doc T
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func encode(doc any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return string(data), nil
}

func newID() string {
	return uuid.NewString()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

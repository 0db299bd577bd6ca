package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Store groups the repositories and runs units of work against them.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Content() ContentRepository {
	return &ContentRepo{q: s.db.DB}
}

func (s *Store) Queue() QueueRepository {
	return &QueueRepo{q: s.db.DB}
}

type txRepos struct {
	tx *sql.Tx
}

func (t txRepos) Content() ContentRepository { return &ContentRepo{q: t.tx} }
func (t txRepos) Queue() QueueRepository     { return &QueueRepo{q: t.tx} }

// WithTx runs fn in a single transaction, committing when fn returns nil.
// The pool holds one connection, so fn must only use the repositories of tx.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(txRepos{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"recall-backend/internal/apperr"
)

// storeError classifies a pgx failure into the engine's error taxonomy.
// Anything not recognised is returned wrapped but unclassified.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}

	var classified *apperr.Error
	if errors.As(err, &classified) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.ErrNotFound, fmt.Errorf("%s: %w", op, err))
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return apperr.Wrap(apperr.ErrStoreUnavailable, fmt.Errorf("%s: %w", op, err))
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apperr.Wrap(apperr.ErrStoreUnavailable, fmt.Errorf("%s: %w", op, err))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23514" || pgErr.Code == "22P02" || pgErr.Code == "22003":
			return apperr.Wrap(apperr.ErrCorruptState, fmt.Errorf("%s: %w", op, err))
		case pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "23505":
			return apperr.Wrap(apperr.ErrVersionConflict, fmt.Errorf("%s: %w", op, err))
		case len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57"):
			return apperr.Wrap(apperr.ErrStoreUnavailable, fmt.Errorf("%s: %w", op, err))
		}
	}

	if pgconn.SafeToRetry(err) {
		return apperr.Wrap(apperr.ErrStoreUnavailable, fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// runInTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func runInTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) (err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"recall-backend/internal/apperr"
)

func TestStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *apperr.Error
	}{
		{"no rows", pgx.ErrNoRows, apperr.ErrNotFound},
		{"deadline", context.DeadlineExceeded, apperr.ErrStoreUnavailable},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), apperr.ErrStoreUnavailable},
		{"check violation", &pgconn.PgError{Code: "23514"}, apperr.ErrCorruptState},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, apperr.ErrVersionConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, apperr.ErrVersionConflict},
		{"unique violation", &pgconn.PgError{Code: "23505"}, apperr.ErrVersionConflict},
		{"connection failure", &pgconn.PgError{Code: "08006"}, apperr.ErrStoreUnavailable},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, apperr.ErrStoreUnavailable},
		{"already classified", apperr.ErrItemMismatch, apperr.ErrItemMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := storeError("op", tt.err)
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestStoreError_Unclassified(t *testing.T) {
	cause := errors.New("syntax error")
	got := storeError("list items", cause)

	assert.ErrorIs(t, got, cause)
	assert.Equal(t, "list items: syntax error", got.Error())
	assert.Equal(t, "INTERNAL_ERROR", apperr.As(got).Code)
}

func TestStoreError_Nil(t *testing.T) {
	assert.NoError(t, storeError("op", nil))
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"recall-backend/internal/config"
	"recall-backend/internal/database"
)

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database.NewPostgresPool() > %w", err)
	}
	return pool, nil
}

func parseLearner(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, errors.New("--learner is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --learner %q: %w", raw, err)
	}
	return id, nil
}

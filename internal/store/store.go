// Package store persists build records in Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"slugforge/internal/domain"
)

// Build statuses. They mirror the pipeline's state machine at whole-run
// granularity.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// BuildRecord is one requested pipeline run for a service.
type BuildRecord struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Revision  string    `json:"revision,omitempty"`
	ImageTag  string    `json:"image_tag,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store wraps a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateBuild inserts a pending build record and returns its id.
func (s *Store) CreateBuild(ctx context.Context, service string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO builds (service, status) VALUES ($1, $2) RETURNING id`,
		service, StatusPending,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to insert build record: %w", err)
	}

	s.logger.Info("Build record created",
		zap.String("build_id", id),
		zap.String("service", service),
	)
	return id, nil
}

// MarkRunning transitions a build to running.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	return s.setStatus(ctx, id,
		`UPDATE builds SET status = $2, updated_at = now() WHERE id = $1`,
		StatusRunning)
}

// MarkSucceeded records the build outcome.
func (s *Store) MarkSucceeded(ctx context.Context, id, revision, imageTag string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE builds SET status = $2, revision = $3, image_tag = $4, error = '', updated_at = now() WHERE id = $1`,
		id, StatusSucceeded, revision, imageTag)
	if err != nil {
		return fmt.Errorf("failed to update build %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.ErrCodeNotFound, "build "+id+" not found")
	}
	return nil
}

// MarkFailed records the failure message.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE builds SET status = $2, error = $3, updated_at = now() WHERE id = $1`,
		id, StatusFailed, message)
	if err != nil {
		return fmt.Errorf("failed to update build %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.ErrCodeNotFound, "build "+id+" not found")
	}
	return nil
}

// GetBuild fetches one build record.
func (s *Store) GetBuild(ctx context.Context, id string) (*BuildRecord, error) {
	var rec BuildRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, service, COALESCE(revision, ''), COALESCE(image_tag, ''), status, COALESCE(error, ''), created_at, updated_at
		 FROM builds WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Service, &rec.Revision, &rec.ImageTag, &rec.Status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewError(domain.ErrCodeNotFound, "build "+id+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch build %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) setStatus(ctx context.Context, id, query, status string) error {
	tag, err := s.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update build %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.ErrCodeNotFound, "build "+id+" not found")
	}
	return nil
}

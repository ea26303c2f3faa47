package resume

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	upsertMarkerQuery = `
        INSERT INTO resume_markers (project_id, step_index, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (project_id) DO UPDATE SET
            step_index = EXCLUDED.step_index,
            updated_at = NOW()
    `
	getMarkerQuery    = `SELECT project_id, step_index, updated_at FROM resume_markers WHERE project_id = $1`
	deleteMarkerQuery = `DELETE FROM resume_markers WHERE project_id = $1`
)

// Compile-time check to ensure pgStore implements Store.
var _ Store = (*pgStore)(nil)

type pgStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore создает PostgreSQL-хранилище маркеров resume.
// Используется консолью, где история прогонов переживает рестарты процесса.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &pgStore{
		pool:   pool,
		logger: logger.Named("PgResumeStore"),
	}
}

// Save выполняет upsert одним стейтментом — атомарность дает сама БД.
func (s *pgStore) Save(ctx context.Context, marker Marker) error {
	_, err := s.pool.Exec(ctx, upsertMarkerQuery, marker.ProjectID, marker.StepIndex)
	if err != nil {
		s.logger.Error("Failed to upsert resume marker",
			zap.Error(err),
			zap.String("projectID", marker.ProjectID),
			zap.Int("stepIndex", marker.StepIndex),
		)
		return fmt.Errorf("failed to save resume marker: %w", err)
	}
	s.logger.Debug("Resume marker saved",
		zap.String("projectID", marker.ProjectID),
		zap.Int("stepIndex", marker.StepIndex),
	)
	return nil
}

func (s *pgStore) Load(ctx context.Context, projectID string) (*Marker, error) {
	var marker Marker
	err := pgxscan.Get(ctx, s.pool, &marker, getMarkerQuery, projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Debug("Resume marker not found", zap.String("projectID", projectID))
			return nil, ErrMarkerNotFound
		}
		s.logger.Error("Failed to load resume marker", zap.Error(err), zap.String("projectID", projectID))
		return nil, fmt.Errorf("failed to load resume marker: %w", err)
	}
	return &marker, nil
}

func (s *pgStore) Clear(ctx context.Context, projectID string) error {
	tag, err := s.pool.Exec(ctx, deleteMarkerQuery, projectID)
	if err != nil {
		s.logger.Error("Failed to clear resume marker", zap.Error(err), zap.String("projectID", projectID))
		return fmt.Errorf("failed to clear resume marker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("Resume marker already absent", zap.String("projectID", projectID))
	}
	return nil
}

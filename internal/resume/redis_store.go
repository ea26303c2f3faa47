package resume

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// markerTTL ограничивает жизнь брошенного маркера: прогон, к которому
// не возвращались неделю, восстанавливать бессмысленно.
const markerTTL = 7 * 24 * time.Hour

// Compile-time check to ensure redisStore implements Store.
var _ Store = (*redisStore)(nil)

type redisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore создает Redis-хранилище маркеров resume.
func NewRedisStore(client *redis.Client, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisStore{
		client: client,
		logger: logger.Named("RedisResumeStore"),
	}
}

func markerKey(projectID string) string {
	return fmt.Sprintf("resume_marker:%s", projectID)
}

// Save записывает маркер одной командой SET — атомарно по определению Redis.
func (s *redisStore) Save(ctx context.Context, marker Marker) error {
	marker.UpdatedAt = time.Now().UTC()

	value, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal resume marker: %w", err)
	}

	key := markerKey(marker.ProjectID)
	if err := s.client.Set(ctx, key, value, markerTTL).Err(); err != nil {
		s.logger.Error("Failed to save resume marker",
			zap.Error(err),
			zap.String("projectID", marker.ProjectID),
			zap.Int("stepIndex", marker.StepIndex),
		)
		return fmt.Errorf("failed to save resume marker in redis: %w", err)
	}

	s.logger.Debug("Resume marker saved",
		zap.String("key", key),
		zap.Int("stepIndex", marker.StepIndex),
	)
	return nil
}

func (s *redisStore) Load(ctx context.Context, projectID string) (*Marker, error) {
	key := markerKey(projectID)
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			s.logger.Debug("Resume marker not found", zap.String("key", key))
			return nil, ErrMarkerNotFound
		}
		s.logger.Error("Failed to load resume marker", zap.Error(err), zap.String("key", key))
		return nil, fmt.Errorf("failed to load resume marker from redis: %w", err)
	}

	var marker Marker
	if err := json.Unmarshal([]byte(value), &marker); err != nil {
		// Данные в Redis повреждены, маркер бесполезен.
		s.logger.Error("Corrupted resume marker data in redis",
			zap.Error(err),
			zap.String("key", key),
			zap.String("value", value),
		)
		return nil, fmt.Errorf("corrupted resume marker data for project %s: %w", projectID, err)
	}
	return &marker, nil
}

// Clear удаляет маркер. Отсутствующий ключ не ошибка: цель — идемпотентность.
func (s *redisStore) Clear(ctx context.Context, projectID string) error {
	key := markerKey(projectID)
	deleted, err := s.client.Del(ctx, key).Result()
	if err != nil {
		s.logger.Error("Failed to clear resume marker", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("failed to clear resume marker in redis: %w", err)
	}
	if deleted == 0 {
		s.logger.Debug("Resume marker already absent", zap.String("key", key))
	}
	return nil
}

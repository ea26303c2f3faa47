package resume_test // Используем _test пакет для изоляции

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/docker/client"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"novel-client/internal/resume"
)

// StoreIntegrationSuite гоняет оба бэкенда хранилища маркеров
// против настоящих контейнеров PostgreSQL и Redis.
type StoreIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	rdContainer *tcredis.RedisContainer
	pgPool      *pgxpool.Pool
	redisClient *redis.Client
	logger      *zap.Logger
}

func (s *StoreIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.logger, err = zap.NewDevelopment()
	require.NoError(s.T(), err, "Failed to create logger for tests")

	// Контейнер PostgreSQL
	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	pgConnStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err, "Failed to get postgres connection string")

	s.pgPool, err = pgxpool.New(s.ctx, pgConnStr)
	require.NoError(s.T(), err, "Failed to connect to test postgres")

	require.NoError(s.T(), resume.RunMigrations(pgConnStr), "Failed to run migrations")

	// Контейнер Redis
	s.rdContainer, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(1*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start redis container")

	redisHost, err := s.rdContainer.Host(s.ctx)
	require.NoError(s.T(), err)
	redisPort, err := s.rdContainer.MappedPort(s.ctx, "6379/tcp")
	require.NoError(s.T(), err)

	s.redisClient = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port())})
	_, err = s.redisClient.Ping(s.ctx).Result()
	require.NoError(s.T(), err, "Failed to connect to test redis")
}

func (s *StoreIntegrationSuite) TearDownSuite() {
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.rdContainer != nil {
		_ = s.rdContainer.Terminate(s.ctx)
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

// stores возвращает оба бэкенда: контракт у них общий, тесты тоже.
func (s *StoreIntegrationSuite) stores() map[string]resume.Store {
	return map[string]resume.Store{
		"redis":    resume.NewRedisStore(s.redisClient, s.logger),
		"postgres": resume.NewPostgresStore(s.pgPool, s.logger),
	}
}

func (s *StoreIntegrationSuite) TestSaveLoadClear() {
	for name, store := range s.stores() {
		s.Run(name, func() {
			projectID := "proj-" + name

			_, err := store.Load(s.ctx, projectID)
			s.Require().ErrorIs(err, resume.ErrMarkerNotFound)

			s.Require().NoError(store.Save(s.ctx, resume.Marker{ProjectID: projectID, StepIndex: 1}))

			marker, err := store.Load(s.ctx, projectID)
			s.Require().NoError(err)
			s.Equal(projectID, marker.ProjectID)
			s.Equal(1, marker.StepIndex)
			s.WithinDuration(time.Now(), marker.UpdatedAt, time.Minute)

			// Повторный Save перезаписывает шаг (upsert, не дубликат).
			s.Require().NoError(store.Save(s.ctx, resume.Marker{ProjectID: projectID, StepIndex: 3}))
			marker, err = store.Load(s.ctx, projectID)
			s.Require().NoError(err)
			s.Equal(3, marker.StepIndex)

			s.Require().NoError(store.Clear(s.ctx, projectID))
			_, err = store.Load(s.ctx, projectID)
			s.Require().ErrorIs(err, resume.ErrMarkerNotFound)

			// Clear идемпотентен.
			s.Require().NoError(store.Clear(s.ctx, projectID))
		})
	}
}

// Повторное чтение неизменного маркера дает тот же шаг — без дрейфа.
func (s *StoreIntegrationSuite) TestLoadIsIdempotent() {
	for name, store := range s.stores() {
		s.Run(name, func() {
			projectID := "idempotent-" + name
			s.Require().NoError(store.Save(s.ctx, resume.Marker{ProjectID: projectID, StepIndex: 2}))

			first, err := store.Load(s.ctx, projectID)
			s.Require().NoError(err)
			second, err := store.Load(s.ctx, projectID)
			s.Require().NoError(err)
			s.Equal(first.StepIndex, second.StepIndex)

			s.Require().NoError(store.Clear(s.ctx, projectID))
		})
	}
}

func TestStoreIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	// Проверяем доступность Docker, иначе пропускаем весь набор.
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("Docker client is not available: %v", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		t.Skipf("Docker daemon is not available: %v", err)
	}

	suite.Run(t, new(StoreIntegrationSuite))
}

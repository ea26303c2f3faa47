// Package config загружает настройки CLI и консоли.
// CLI читает переменные окружения (envconfig), консоль — yaml + окружение
// (cleanenv); секреты живут в файлах Docker Secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config — настройки клиентской стороны (CLI и SDK).
type Config struct {
	// Адреса бэкенда
	BackendURL   string `envconfig:"NOVEL_BACKEND_URL" required:"true"`
	AuthURL      string `envconfig:"NOVEL_AUTH_URL" required:"true"`
	WebsocketURL string `envconfig:"NOVEL_WS_URL"`

	// Таймаут обычных REST-запросов; на стрим не распространяется.
	RequestTimeout time.Duration `envconfig:"NOVEL_REQUEST_TIMEOUT" default:"30s"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"console"`

	// Хранилище маркеров resume для CLI.
	RedisAddr     string `envconfig:"NOVEL_REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"NOVEL_REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"NOVEL_REDIS_DB" default:"0"`

	// Токены. Секретные поля БЕЗ envconfig тега: берутся из файлов секретов,
	// с фолбэком на окружение для локальной разработки.
	AccessToken  string
	RefreshToken string
}

// Load загружает конфигурацию CLI. dotenvPath — путь к .env (пусто — не читаем).
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		// Отсутствие .env не ошибка: в контейнере окружение приходит снаружи.
		_ = godotenv.Load(dotenvPath)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load client configuration: %w", err)
	}

	cfg.AccessToken = readSecretOrEnv("novel_access_token", "NOVEL_ACCESS_TOKEN")
	cfg.RefreshToken = readSecretOrEnv("novel_refresh_token", "NOVEL_REFRESH_TOKEN")
	if cfg.RefreshToken == "" {
		return nil, fmt.Errorf("refresh token is not configured (secret novel_refresh_token or NOVEL_REFRESH_TOKEN)")
	}

	return &cfg, nil
}

// readSecretOrEnv читает секрет из стандартного пути Docker Secrets,
// при неудаче — из переменной окружения.
func readSecretOrEnv(secretName, envName string) string {
	filePath := fmt.Sprintf("/run/secrets/%s", secretName)
	if raw, err := os.ReadFile(filePath); err == nil {
		if secret := strings.TrimSpace(string(raw)); secret != "" {
			return secret
		}
	}
	return strings.TrimSpace(os.Getenv(envName))
}

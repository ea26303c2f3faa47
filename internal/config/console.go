package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// ConsoleConfig — настройки консольного сервера.
type ConsoleConfig struct {
	Port           string   `yaml:"port" env:"CONSOLE_PORT" env-default:"8090"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"CONSOLE_ALLOWED_ORIGINS" env-separator:","`

	Backend struct {
		URL            string `yaml:"url" env:"NOVEL_BACKEND_URL" env-required:"true"`
		AuthURL        string `yaml:"auth_url" env:"NOVEL_AUTH_URL" env-required:"true"`
		WebsocketURL   string `yaml:"websocket_url" env:"NOVEL_WS_URL"`
		RequestTimeout string `yaml:"request_timeout" env:"NOVEL_REQUEST_TIMEOUT" env-default:"30s"`
	} `yaml:"backend"`

	// Хранилище маркеров resume: redis или postgres.
	Store struct {
		Kind        string `yaml:"kind" env:"CONSOLE_STORE_KIND" env-default:"redis"`
		RedisAddr   string `yaml:"redis_addr" env:"NOVEL_REDIS_ADDR" env-default:"localhost:6379"`
		RedisDB     int    `yaml:"redis_db" env:"NOVEL_REDIS_DB" env-default:"0"`
		PostgresURL string `yaml:"postgres_url" env:"CONSOLE_POSTGRES_URL"`
	} `yaml:"store"`

	Log struct {
		Level    string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
		Encoding string `yaml:"encoding" env:"LOG_ENCODING" env-default:"json"`
	} `yaml:"log"`

	// Токены. Секретные поля БЕЗ тегов: грузятся из файлов секретов
	// с фолбэком на окружение.
	AccessToken  string `yaml:"-"`
	RefreshToken string `yaml:"-"`
}

// LoadConsole читает конфигурацию консоли из yaml-файла и окружения.
// Отсутствующий файл не ошибка: достаточно окружения.
func LoadConsole(configPath string) (*ConsoleConfig, error) {
	var cfg ConsoleConfig

	loadedFromFile := false
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
				return nil, fmt.Errorf("failed to read console config %s: %w", configPath, err)
			}
			loadedFromFile = true
		}
	}
	if !loadedFromFile {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to load console configuration from environment: %w", err)
		}
	}

	cfg.AccessToken = readSecretOrEnv("novel_access_token", "NOVEL_ACCESS_TOKEN")
	cfg.RefreshToken = readSecretOrEnv("novel_refresh_token", "NOVEL_REFRESH_TOKEN")
	if cfg.RefreshToken == "" {
		return nil, fmt.Errorf("refresh token is not configured (secret novel_refresh_token or NOVEL_REFRESH_TOKEN)")
	}
	return &cfg, nil
}

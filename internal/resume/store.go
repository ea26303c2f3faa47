// Package resume хранит маркеры незавершенных генерационных прогонов.
// Маркер — всего лишь подсказка для восстановления после перезагрузки:
// авторитетное состояние живет на сервере и перепроверяется при resume.
package resume

import (
	"context"
	"errors"
	"time"
)

// ErrMarkerNotFound возвращается, когда маркер для проекта отсутствует.
var ErrMarkerNotFound = errors.New("resume marker not found")

// Marker — указатель на последний завершенный шаг генерации проекта.
// Записывается после каждого шага, очищается при полном завершении прогона.
type Marker struct {
	ProjectID string    `json:"project_id" db:"project_id"`
	StepIndex int       `json:"step_index" db:"step_index"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Store — интерфейс хранилища маркеров.
// Save обязан быть атомарным: частично записанный маркер
// приведет к возобновлению с неконсистентного шага.
type Store interface {
	Save(ctx context.Context, marker Marker) error
	Load(ctx context.Context, projectID string) (*Marker, error)
	Clear(ctx context.Context, projectID string) error
}

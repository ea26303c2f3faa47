package client

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrStreamInFlight возвращается, когда на клиенте уже открыт активный стрим.
// Инвариант: не более одного потокового соединения на клиент.
var ErrStreamInFlight = errors.New("another generation stream is already in flight")

// ErrStreamCancelled возвращается после отмены контекста вызывающей стороной.
// Колбэки после отмены не вызываются, буферизованный хвост отбрасывается.
var ErrStreamCancelled = errors.New("generation stream cancelled")

// StreamHandlers — набор колбэков для событий генерационного стрима.
// Все колбэки вызываются синхронно, строго в порядке поступления фреймов.
// Незаполненный колбэк молча пропускается.
type StreamHandlers struct {
	// OnProgress вызывается для каждого progress-фрейма, ноль и более раз.
	// Проценты абсолютные и не обязательно возрастают.
	OnProgress func(message string, percent int)

	// OnResult вызывается не более одного раза, до OnComplete.
	OnResult func(payload json.RawMessage)

	// OnError вызывается ровно один раз при error-фрейме, обрыве соединения
	// или не-2xx статусе; после него диспетчеризация прекращается.
	OnError func(message string)

	// OnComplete вызывается ровно один раз при штатном завершении стрима
	// и никогда после OnError.
	OnComplete func()

	// Confirmations — колбэки подтверждающих событий по виду события
	// (например, character_confirmation). Такое событие завершает стрим
	// без OnComplete: продолжение требует нового запроса с решением пользователя.
	Confirmations map[string]func(payload json.RawMessage)
}

// GenerationStreamer определяет контракт потокового клиента генерации.
type GenerationStreamer interface {
	// Stream выполняет POST на endpoint с JSON-телом body и диспетчеризует
	// SSE-ответ в handlers. Блокирует до терминального события, ошибки
	// или отмены контекста. Автоматических повторов нет — retry на вызывающей стороне.
	Stream(ctx context.Context, endpoint string, body interface{}, handlers StreamHandlers) error
}

// ProjectAPI определяет REST-операции бэкенда, нужные клиентской стороне:
// повторная проверка состояния генерации при resume и работа с шаблонами промптов.
type ProjectAPI interface {
	// GetGenerationStatus возвращает серверное (авторитетное) состояние
	// генерации проекта. Локальный маркер resume — только подсказка.
	GetGenerationStatus(ctx context.Context, projectID string) (*GenerationStatus, error)

	// ListPromptTemplates возвращает шаблоны промптов проекта.
	ListPromptTemplates(ctx context.Context) ([]PromptTemplate, error)

	// UpdatePromptTemplate сохраняет отредактированный шаблон.
	UpdatePromptTemplate(ctx context.Context, tpl PromptTemplate) error
}

// GenerationStatus — серверный снимок хода генерации проекта.
type GenerationStatus struct {
	ProjectID      string `json:"project_id"`
	CurrentStep    string `json:"current_step"`
	CompletedSteps int    `json:"completed_steps"`
	Status         string `json:"status"`
}

// PromptTemplate — редактируемый шаблон промпта.
type PromptTemplate struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

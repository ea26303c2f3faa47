package sse

import (
	"encoding/json"
	"strings"
)

// Известные виды событий генерационного стрима.
// Набор открытый: неизвестные виды пропускаются, а не отклоняются.
const (
	EventProgress = "progress"
	EventResult   = "result"
	EventError    = "error"
	EventComplete = "complete"

	// Подтверждающие события: сервер приостанавливает генерацию
	// и ждет нового запроса с решением пользователя.
	EventCharacterConfirmation    = "character_confirmation"
	EventOrganizationConfirmation = "organization_confirmation"
)

// Frame — одно декодированное событие стрима: вид + сырой JSON полезной нагрузки.
// Живет только в пределах одного цикла decode-dispatch, не накапливается.
type Frame struct {
	Event string
	Data  json.RawMessage
}

// ProgressPayload — полезная нагрузка события progress.
// Сервер шлет абсолютный прогресс; монотонность НЕ гарантируется.
type ProgressPayload struct {
	Message  string `json:"message"`
	Progress int    `json:"progress"`
}

// errorPayload — каноническая форма события error.
type errorPayload struct {
	Error string `json:"error"`
}

// NormalizeErrorPayload приводит полезную нагрузку error-события к одной строке.
// Бэкенд непоследователен: встречается и {"error": "..."}, и голая JSON-строка.
func NormalizeErrorPayload(data json.RawMessage) string {
	var obj errorPayload
	if err := json.Unmarshal(data, &obj); err == nil && obj.Error != "" {
		return obj.Error
	}
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil && bare != "" {
		return bare
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return "generation failed"
	}
	return trimmed
}

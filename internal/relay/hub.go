package relay

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-client/internal/orchestrator"
)

// subscriberBuffer — емкость канала подписчика. Медленный подписчик
// теряет события, но не тормозит прогон.
const subscriberBuffer = 64

// Hub раздает события хода генерации подписчикам консоли по проектам.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan orchestrator.ProgressEvent
	logger      *zap.Logger
}

// NewHub создает пустой хаб.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan orchestrator.ProgressEvent),
		logger:      logger.Named("RelayHub"),
	}
}

// Publish рассылает событие всем подписчикам проекта.
// Отправка неблокирующая: переполненный подписчик пропускает событие.
func (h *Hub) Publish(ev orchestrator.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers[ev.ProjectID] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("Dropping progress event for slow subscriber",
				zap.String("projectID", ev.ProjectID),
				zap.String("subscriberID", id),
			)
		}
	}
}

// Subscribe регистрирует подписчика на события проекта.
func (h *Hub) Subscribe(projectID string) (string, <-chan orchestrator.ProgressEvent) {
	id := uuid.NewString()
	ch := make(chan orchestrator.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	if h.subscribers[projectID] == nil {
		h.subscribers[projectID] = make(map[string]chan orchestrator.ProgressEvent)
	}
	h.subscribers[projectID][id] = ch
	h.mu.Unlock()

	h.logger.Debug("Subscriber registered",
		zap.String("projectID", projectID),
		zap.String("subscriberID", id),
	)
	return id, ch
}

// Unsubscribe снимает подписку и закрывает канал подписчика.
func (h *Hub) Unsubscribe(projectID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[projectID]
	if !ok {
		return
	}
	if ch, ok := subs[id]; ok {
		delete(subs, id)
		close(ch)
	}
	if len(subs) == 0 {
		delete(h.subscribers, projectID)
	}
}

package orchestrator

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// ProgressEvent — одно наблюдаемое изменение хода прогона.
// Рассылается подписчикам (CLI, консоль) строго в порядке наступления.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	ProjectID string    `json:"project_id"`
	Step      StepID    `json:"step"`
	StepIndex int       `json:"step_index"`
	State     StepState `json:"state"`
	Message   string    `json:"message,omitempty"`
	Percent   int       `json:"percent"`
}

// Run — состояние одного генерационного прогона.
// Создается при старте, живет до завершения, ошибки или отмены.
// Снимки состояния читаются конкурентно (консоль), отсюда мьютекс.
type Run struct {
	ID        string
	ProjectID string

	mu      sync.Mutex
	states  map[StepID]StepState
	results map[string]json.RawMessage

	// pendingConfirmation хранит полезную нагрузку подтверждающего события,
	// пока пользователь не принял решение.
	pendingConfirmation *ConfirmationRequired
}

func newRun(projectID string) *Run {
	states := make(map[StepID]StepState, len(generationSteps))
	for _, def := range generationSteps {
		states[def.ID] = StatePending
	}
	return &Run{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		states:    states,
		results:   make(map[string]json.RawMessage),
	}
}

// StateOf возвращает текущее состояние шага.
func (r *Run) StateOf(step StepID) StepState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[step]
}

// Snapshot возвращает копию состояний всех шагов.
func (r *Run) Snapshot() map[StepID]StepState {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[StepID]StepState, len(r.states))
	for id, st := range r.states {
		snapshot[id] = st
	}
	return snapshot
}

// Result возвращает сохраненный результат шага по его ключу.
func (r *Run) Result(key string) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[key]
	return res, ok
}

// Completed сообщает, завершены ли все шаги прогона.
func (r *Run) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.states {
		if st != StateCompleted {
			return false
		}
	}
	return true
}

// PendingConfirmation возвращает непогашенное подтверждение, если оно есть.
func (r *Run) PendingConfirmation() *ConfirmationRequired {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingConfirmation
}

func (r *Run) setState(step StepID, state StepState) {
	r.mu.Lock()
	r.states[step] = state
	r.mu.Unlock()
}

func (r *Run) setResult(key string, payload json.RawMessage) {
	r.mu.Lock()
	r.results[key] = payload
	r.mu.Unlock()
}

// requestContext собирает накопленные результаты предыдущих шагов
// для прокидывания в тело следующего запроса. Явная передача данных,
// никакого общего мутируемого глобального состояния.
func (r *Run) requestContext() map[string]json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx := make(map[string]json.RawMessage, len(r.results))
	for key, res := range r.results {
		ctx[key] = res
	}
	return ctx
}

func (r *Run) setPendingConfirmation(c *ConfirmationRequired) {
	r.mu.Lock()
	r.pendingConfirmation = c
	r.mu.Unlock()
}

// firstFailedIndex возвращает индекс первого шага в состоянии error, или -1.
func (r *Run) firstFailedIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, def := range generationSteps {
		if r.states[def.ID] == StateError {
			return i
		}
	}
	return -1
}

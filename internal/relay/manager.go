package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"novel-client/internal/orchestrator"
)

// ErrRunActive возвращается при попытке запустить второй прогон того же проекта.
var ErrRunActive = errors.New("generation run for this project is already active")

// ErrRunNotFound возвращается, когда для проекта нет известного прогона.
var ErrRunNotFound = errors.New("no generation run found for this project")

type activeRun struct {
	run     *orchestrator.Run
	cancel  context.CancelFunc
	active  bool
	lastErr error
}

// RunManager держит по одному прогону на проект и следит,
// чтобы в полете был максимум один.
type RunManager struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger

	mu   sync.Mutex
	runs map[string]*activeRun
}

// NewRunManager создает менеджер прогонов.
func NewRunManager(orch *orchestrator.Orchestrator, logger *zap.Logger) *RunManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunManager{
		orch:   orch,
		logger: logger.Named("RunManager"),
		runs:   make(map[string]*activeRun),
	}
}

// Start запускает прогон проекта в фоне. resume продолжает с сохраненного шага.
func (m *RunManager) Start(projectID string, doResume bool) error {
	m.mu.Lock()
	if existing, ok := m.runs[projectID]; ok && existing.active {
		m.mu.Unlock()
		return ErrRunActive
	}
	runCtx, cancel := context.WithCancel(context.Background())
	entry := &activeRun{cancel: cancel, active: true, run: m.orch.Prepare(projectID)}
	m.runs[projectID] = entry
	m.mu.Unlock()

	go func() {
		startIndex := 0
		var err error
		if doResume {
			startIndex, err = m.orch.ResumePoint(runCtx, projectID)
		}
		if err == nil {
			err = m.orch.Execute(runCtx, entry.run, startIndex)
		}

		m.mu.Lock()
		entry.active = false
		entry.lastErr = err
		m.mu.Unlock()

		if err != nil {
			var pending *orchestrator.ConfirmationRequired
			if errors.As(err, &pending) {
				m.logger.Info("Run paused awaiting confirmation",
					zap.String("projectID", projectID),
					zap.String("step", string(pending.Step)),
				)
				return
			}
			m.logger.Warn("Generation run stopped with error",
				zap.String("projectID", projectID),
				zap.Error(err),
			)
			return
		}
		m.logger.Info("Generation run finished", zap.String("projectID", projectID))
	}()

	return nil
}

// Retry повторяет упавший шаг существующего прогона в фоне.
func (m *RunManager) Retry(projectID string) error {
	m.mu.Lock()
	entry, ok := m.runs[projectID]
	if !ok || entry.run == nil {
		m.mu.Unlock()
		return ErrRunNotFound
	}
	if entry.active {
		m.mu.Unlock()
		return ErrRunActive
	}
	entry.active = true
	runCtx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel
	run := entry.run
	m.mu.Unlock()

	go func() {
		err := m.orch.Retry(runCtx, run)
		m.mu.Lock()
		entry.active = false
		entry.lastErr = err
		m.mu.Unlock()
		if err != nil {
			m.logger.Warn("Retry stopped with error", zap.String("projectID", projectID), zap.Error(err))
		}
	}()
	return nil
}

// Confirm передает решение пользователя приостановленному прогону.
func (m *RunManager) Confirm(projectID string, decision map[string]interface{}) error {
	m.mu.Lock()
	entry, ok := m.runs[projectID]
	if !ok || entry.run == nil {
		m.mu.Unlock()
		return ErrRunNotFound
	}
	if entry.active {
		m.mu.Unlock()
		return ErrRunActive
	}
	if entry.run.PendingConfirmation() == nil {
		m.mu.Unlock()
		return fmt.Errorf("run has no pending confirmation")
	}
	entry.active = true
	runCtx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel
	run := entry.run
	m.mu.Unlock()

	go func() {
		err := m.orch.Confirm(runCtx, run, decision)
		m.mu.Lock()
		entry.active = false
		entry.lastErr = err
		m.mu.Unlock()
		if err != nil {
			m.logger.Warn("Confirmation continuation stopped with error", zap.String("projectID", projectID), zap.Error(err))
		}
	}()
	return nil
}

// Cancel прерывает активный прогон проекта.
func (m *RunManager) Cancel(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.runs[projectID]
	if !ok {
		return ErrRunNotFound
	}
	entry.cancel()
	return nil
}

// RunState — снимок прогона для консоли.
type RunState struct {
	ProjectID string                                         `json:"project_id"`
	Active    bool                                           `json:"active"`
	Steps     map[orchestrator.StepID]orchestrator.StepState `json:"steps"`
	Error     string                                         `json:"error,omitempty"`
}

// State возвращает снимок состояния прогона проекта.
func (m *RunManager) State(projectID string) (*RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.runs[projectID]
	if !ok {
		return nil, ErrRunNotFound
	}

	state := &RunState{ProjectID: projectID, Active: entry.active}
	if entry.run != nil {
		state.Steps = entry.run.Snapshot()
	}
	if entry.lastErr != nil {
		var pending *orchestrator.ConfirmationRequired
		if !errors.As(entry.lastErr, &pending) {
			state.Error = entry.lastErr.Error()
		}
	}
	return state, nil
}

// Shutdown прерывает все активные прогоны.
func (m *RunManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for projectID, entry := range m.runs {
		if entry.active {
			m.logger.Info("Cancelling active run on shutdown", zap.String("projectID", projectID))
			entry.cancel()
		}
	}
}

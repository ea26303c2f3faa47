// Package orchestrator последовательно проводит проект через шаги генерации:
// мир -> карьеры -> персонажи -> план повествования. Шаги никогда не идут
// параллельно; результат каждого шага явно прокидывается в запрос следующего.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"novel-client/internal/client"
	"novel-client/internal/resume"
)

// ErrRunIncomplete возвращается из Retry, когда нечего повторять.
var ErrRunIncomplete = errors.New("run has no failed step to retry")

// ConfirmationRequired сигнализирует, что сервер приостановил шаг
// и ждет решения пользователя. Прогон продолжается вызовом Confirm.
type ConfirmationRequired struct {
	Step    StepID
	Kind    string
	Payload json.RawMessage
}

func (c *ConfirmationRequired) Error() string {
	return fmt.Sprintf("step %s awaits user confirmation (%s)", c.Step, c.Kind)
}

// Orchestrator ведет генерационные прогоны поверх потокового клиента.
// Маркер resume пишется после каждого завершенного шага и очищается
// при полном завершении прогона.
type Orchestrator struct {
	streamer client.GenerationStreamer
	api      client.ProjectAPI
	store    resume.Store
	logger   *zap.Logger
	observer func(ProgressEvent)
}

// Option настраивает оркестратор.
type Option func(*Orchestrator)

// WithObserver подписывает наблюдателя на события хода прогона.
// Наблюдатель вызывается синхронно, в порядке наступления событий.
func WithObserver(fn func(ProgressEvent)) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// New создает оркестратор генерации.
func New(streamer client.GenerationStreamer, api client.ProjectAPI, store resume.Store, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if streamer == nil {
		return nil, fmt.Errorf("streamer cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("resume store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		streamer: streamer,
		api:      api,
		store:    store,
		logger:   logger.Named("Orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Prepare создает прогон, не запуская его: консоль регистрирует прогон
// для наблюдения до первого события.
func (o *Orchestrator) Prepare(projectID string) *Run {
	return newRun(projectID)
}

// Execute ведет подготовленный прогон начиная с шага startIndex.
// Шаги до startIndex помечаются завершенными.
func (o *Orchestrator) Execute(ctx context.Context, run *Run, startIndex int) error {
	startIndex = clampStepIndex(startIndex)
	for i := 0; i < startIndex; i++ {
		run.setState(generationSteps[i].ID, StateCompleted)
	}
	return o.runFrom(ctx, run, startIndex)
}

// Start запускает прогон с первого шага.
func (o *Orchestrator) Start(ctx context.Context, projectID string) (*Run, error) {
	run := newRun(projectID)
	o.logger.Info("Starting generation run",
		zap.String("runID", run.ID),
		zap.String("projectID", projectID),
	)
	return run, o.runFrom(ctx, run, 0)
}

// ResumePoint определяет шаг, с которого возобновлять прогон.
// Локальный маркер — подсказка; серверное состояние авторитетно:
// при расхождении берем серверное значение и логируем предупреждение.
// Повторный вызов при неизменном маркере дает тот же индекс.
func (o *Orchestrator) ResumePoint(ctx context.Context, projectID string) (int, error) {
	localIndex := 0
	marker, err := o.store.Load(ctx, projectID)
	switch {
	case err == nil:
		localIndex = marker.StepIndex
	case errors.Is(err, resume.ErrMarkerNotFound):
		// Маркера нет — доверимся серверу целиком.
	default:
		return 0, fmt.Errorf("failed to load resume marker: %w", err)
	}

	if o.api == nil {
		return clampStepIndex(localIndex), nil
	}

	status, err := o.api.GetGenerationStatus(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to validate resume state against server: %w", err)
	}

	serverIndex := clampStepIndex(status.CompletedSteps)
	if serverIndex != clampStepIndex(localIndex) {
		o.logger.Warn("Resume marker disagrees with server state, trusting server",
			zap.String("projectID", projectID),
			zap.Int("localStepIndex", localIndex),
			zap.Int("serverStepIndex", serverIndex),
		)
	}
	return serverIndex, nil
}

// Resume восстанавливает прогон после перезапуска и продолжает его.
func (o *Orchestrator) Resume(ctx context.Context, projectID string) (*Run, error) {
	startIndex, err := o.ResumePoint(ctx, projectID)
	if err != nil {
		return nil, err
	}

	run := newRun(projectID)
	for i := 0; i < startIndex; i++ {
		run.setState(generationSteps[i].ID, StateCompleted)
	}

	o.logger.Info("Resuming generation run",
		zap.String("runID", run.ID),
		zap.String("projectID", projectID),
		zap.Int("startIndex", startIndex),
	)
	return run, o.runFrom(ctx, run, startIndex)
}

// Retry повторяет прогон с упавшего шага. Уже завершенные шаги не перезапускаются.
func (o *Orchestrator) Retry(ctx context.Context, run *Run) error {
	if run == nil {
		return ErrRunIncomplete
	}
	failedIndex := run.firstFailedIndex()
	if failedIndex < 0 {
		return ErrRunIncomplete
	}

	// Сбрасываем упавший шаг и все после него; завершенные не трогаем.
	for i := failedIndex; i < len(generationSteps); i++ {
		if run.StateOf(generationSteps[i].ID) != StateCompleted {
			run.setState(generationSteps[i].ID, StatePending)
		}
	}

	o.logger.Info("Retrying generation run from failed step",
		zap.String("runID", run.ID),
		zap.String("step", string(generationSteps[failedIndex].ID)),
	)
	return o.runFrom(ctx, run, failedIndex)
}

// Confirm передает решение пользователя по приостановленному шагу
// и продолжает прогон с этого же шага.
func (o *Orchestrator) Confirm(ctx context.Context, run *Run, decision map[string]interface{}) error {
	if run == nil {
		return fmt.Errorf("run has no pending confirmation")
	}
	pending := run.PendingConfirmation()
	if pending == nil {
		return fmt.Errorf("run has no pending confirmation")
	}
	run.setPendingConfirmation(nil)

	stepIndex := -1
	for i, def := range generationSteps {
		if def.ID == pending.Step {
			stepIndex = i
			break
		}
	}
	if stepIndex < 0 {
		return fmt.Errorf("unknown confirmation step: %s", pending.Step)
	}

	o.logger.Info("Continuing run after user confirmation",
		zap.String("runID", run.ID),
		zap.String("step", string(pending.Step)),
	)
	return o.runFromWithDecision(ctx, run, stepIndex, decision)
}

func (o *Orchestrator) runFrom(ctx context.Context, run *Run, startIndex int) error {
	return o.runFromWithDecision(ctx, run, startIndex, nil)
}

// runFromWithDecision гонит шаги строго последовательно, начиная со startIndex.
// decision прикладывается только к первому выполняемому шагу.
func (o *Orchestrator) runFromWithDecision(ctx context.Context, run *Run, startIndex int, decision map[string]interface{}) error {
	for i := startIndex; i < len(generationSteps); i++ {
		def := generationSteps[i]

		var stepDecision map[string]interface{}
		if i == startIndex {
			stepDecision = decision
		}

		if err := o.executeStep(ctx, run, i, def, stepDecision); err != nil {
			return err
		}

		// Маркер пишется после каждого завершенного шага.
		if err := o.store.Save(ctx, resume.Marker{ProjectID: run.ProjectID, StepIndex: i + 1}); err != nil {
			// Прогон важнее маркера: шаг уже завершен на сервере.
			o.logger.Warn("Failed to persist resume marker", zap.Error(err), zap.String("runID", run.ID))
		}
	}

	if err := o.store.Clear(ctx, run.ProjectID); err != nil {
		o.logger.Warn("Failed to clear resume marker after completion", zap.Error(err), zap.String("runID", run.ID))
	}
	o.logger.Info("Generation run completed", zap.String("runID", run.ID), zap.String("projectID", run.ProjectID))
	return nil
}

// executeStep выполняет один шаг до терминального события его стрима.
func (o *Orchestrator) executeStep(ctx context.Context, run *Run, index int, def stepDefinition, decision map[string]interface{}) error {
	log := o.logger.With(
		zap.String("runID", run.ID),
		zap.String("step", string(def.ID)),
	)

	run.setState(def.ID, StateProcessing)
	o.emit(run, index, def.ID, StateProcessing, "", 0)

	body := map[string]interface{}{
		"project_id": run.ProjectID,
		"step":       string(def.ID),
		"context":    run.requestContext(),
	}
	if decision != nil {
		body["decision"] = decision
	}

	var (
		completed    bool
		confirmation *ConfirmationRequired
		streamErrMsg string
	)

	handlers := client.StreamHandlers{
		OnProgress: func(message string, percent int) {
			o.emit(run, index, def.ID, StateProcessing, message, percent)
		},
		OnResult: func(payload json.RawMessage) {
			run.setResult(def.ResultKey, payload)
		},
		OnError: func(message string) {
			streamErrMsg = message
		},
		OnComplete: func() {
			completed = true
		},
	}
	if def.Confirmation != "" {
		handlers.Confirmations = map[string]func(json.RawMessage){
			def.Confirmation: func(payload json.RawMessage) {
				confirmation = &ConfirmationRequired{
					Step:    def.ID,
					Kind:    def.Confirmation,
					Payload: payload,
				}
			},
		}
	}

	err := o.streamer.Stream(ctx, def.Endpoint, body, handlers)

	switch {
	case confirmation != nil:
		// Шаг приостановлен до решения пользователя, состояние остается processing.
		run.setPendingConfirmation(confirmation)
		log.Info("Step paused awaiting user confirmation", zap.String("kind", confirmation.Kind))
		return confirmation

	case err != nil:
		run.setState(def.ID, StateError)
		if streamErrMsg == "" {
			streamErrMsg = err.Error()
		}
		o.emit(run, index, def.ID, StateError, streamErrMsg, 0)
		log.Warn("Generation step failed", zap.String("message", streamErrMsg), zap.Error(err))
		return fmt.Errorf("step %s failed: %w", def.ID, err)

	case !completed:
		// Защитный случай: стрим вернулся без ошибки и без complete.
		run.setState(def.ID, StateError)
		o.emit(run, index, def.ID, StateError, "stream ended without completion", 0)
		return fmt.Errorf("step %s ended without completion", def.ID)
	}

	run.setState(def.ID, StateCompleted)
	o.emit(run, index, def.ID, StateCompleted, "", 100)
	log.Info("Generation step completed")
	return nil
}

func (o *Orchestrator) emit(run *Run, index int, step StepID, state StepState, message string, percent int) {
	if o.observer == nil {
		return
	}
	o.observer(ProgressEvent{
		RunID:     run.ID,
		ProjectID: run.ProjectID,
		Step:      step,
		StepIndex: index,
		State:     state,
		Message:   message,
		Percent:   percent,
	})
}

func clampStepIndex(index int) int {
	if index < 0 {
		return 0
	}
	if index > len(generationSteps) {
		return len(generationSteps)
	}
	return index
}

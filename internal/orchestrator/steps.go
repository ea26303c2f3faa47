package orchestrator

// StepID — имя одного шага генерационного прогона.
type StepID string

// Шаги мастера создания проекта, в порядке выполнения.
const (
	StepWorld      StepID = "world"
	StepCareers    StepID = "careers"
	StepCharacters StepID = "characters"
	StepOutline    StepID = "outline"
)

// StepState — клиентское состояние одного шага.
// Переходы: pending -> processing -> {completed | error};
// error восстановим через retry и снова дает processing.
type StepState string

const (
	StatePending    StepState = "pending"
	StateProcessing StepState = "processing"
	StateCompleted  StepState = "completed"
	StateError      StepState = "error"
)

// stepDefinition связывает шаг с потоковым эндпоинтом бэкенда и ключом,
// под которым результат шага прокидывается в тела последующих запросов.
type stepDefinition struct {
	ID           StepID
	Endpoint     string
	ResultKey    string
	Confirmation string // вид подтверждающего события, пусто — шаг без подтверждения
}

var generationSteps = []stepDefinition{
	{ID: StepWorld, Endpoint: "/generate/world", ResultKey: "world"},
	{ID: StepCareers, Endpoint: "/generate/careers", ResultKey: "careers"},
	{ID: StepCharacters, Endpoint: "/generate/characters", ResultKey: "characters", Confirmation: "character_confirmation"},
	{ID: StepOutline, Endpoint: "/generate/outline", ResultKey: "outline"},
}

// StepCount возвращает число шагов прогона.
func StepCount() int {
	return len(generationSteps)
}

// StepIDs возвращает шаги в порядке выполнения.
func StepIDs() []StepID {
	ids := make([]StepID, 0, len(generationSteps))
	for _, def := range generationSteps {
		ids = append(ids, def.ID)
	}
	return ids
}

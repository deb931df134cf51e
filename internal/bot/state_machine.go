package bot

import "multileg/internal/models"

// ValidTransitions определяет допустимые переходы между состояниями задачи
var ValidTransitions = map[string][]string{
	models.StateIdle:         {models.StateInitializing, models.StateCancelled},
	models.StateInitializing: {models.StateMonitoring, models.StateErrorRecovery, models.StateCancelled, models.StateError},
	models.StateMonitoring:   {models.StateAnalyzing, models.StateCompleted, models.StateErrorRecovery, models.StateCancelled, models.StateError},
	models.StateAnalyzing:    {models.StateMonitoring, models.StateExecuting, models.StateErrorRecovery, models.StateCancelled, models.StateError},
	models.StateExecuting:    {models.StateMonitoring, models.StateErrorRecovery, models.StateCancelled, models.StateError},
	// Из восстановления возвращаемся в мониторинг: сверка ордеров
	// приводит позиции в актуальное состояние прежде чем продолжать
	models.StateErrorRecovery: {models.StateMonitoring, models.StateCancelled, models.StateError},
	// Терминальные состояния переходов не имеют
	models.StateCompleted: {},
	models.StateCancelled: {},
	models.StateError:     {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для оператора
func StateInfo(s string) string {
	switch s {
	case models.StateIdle:
		return "Задача создана, ожидает запуска"
	case models.StateInitializing:
		return "Подключение к биржам..."
	case models.StateMonitoring:
		return "Сверка ордеров, ожидание сигнала"
	case models.StateAnalyzing:
		return "Оценка условий входа"
	case models.StateExecuting:
		return "Размещение ордеров цикла..."
	case models.StateErrorRecovery:
		return "Восстановление после сбоя"
	case models.StateCompleted:
		return "Завершена"
	case models.StateCancelled:
		return "Отменена оператором"
	case models.StateError:
		return "Ошибка! Требуется вмешательство"
	default:
		return "Неизвестное состояние"
	}
}

// IsActive возвращает true если задача исполняется планировщиком
func IsActive(s string) bool {
	return !models.IsTerminal(s) && s != models.StateIdle
}

// HasLiveExposure возвращает true в состояниях где у задачи
// могут быть живые ордера или открытые позиции
func HasLiveExposure(s string) bool {
	return s == models.StateMonitoring || s == models.StateAnalyzing ||
		s == models.StateExecuting || s == models.StateErrorRecovery
}

// StateTransitionError - попытка недопустимого перехода
type StateTransitionError struct {
	TaskID string
	From   string
	To     string
}

func (e *StateTransitionError) Error() string {
	return "invalid state transition " + e.From + " -> " + e.To + " for task " + e.TaskID
}

// Transition возвращает контекст в новом состоянии.
// Недопустимый переход возвращает исходный контекст и ошибку.
func Transition(ctx models.TaskContext, to string) (models.TaskContext, error) {
	if !CanTransition(ctx.State, to) {
		return ctx, &StateTransitionError{TaskID: ctx.TaskID, From: ctx.State, To: to}
	}
	return ctx.Evolve(models.WithState(to)), nil
}

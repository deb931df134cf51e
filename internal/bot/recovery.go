package bot

import (
	"fmt"
	"time"

	"multileg/internal/models"
	"multileg/internal/persist"
	"multileg/pkg/utils"
)

// recovery.go - восстановление задач после рестарта
//
// Шаги:
// 1. Перечисление снимков в корзине active
// 2. Разрешение конструктора по тегу типа из task_id
//    (закрытый реестр, без рефлексии)
// 3. Создание задачи из снимка и регистрация в планировщике
// 4. Уведомление оператора об итогах
//
// Снимок с неизвестным тегом типа не валит восстановление:
// он пропускается с предупреждением и остаётся в active
// для ручного разбора.

// TaskFactory строит задачу из восстановленного контекста
type TaskFactory func(tc models.TaskContext) (Task, error)

// Registry - закрытый реестр типов задач.
// Ключ - тег типа (первый токен task_id).
type Registry struct {
	factories map[string]TaskFactory
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]TaskFactory)}
}

// Register привязывает конструктор к тегу типа
func (r *Registry) Register(typeTag string, factory TaskFactory) {
	r.factories[typeTag] = factory
}

// Resolve возвращает конструктор для тега типа
func (r *Registry) Resolve(typeTag string) (TaskFactory, bool) {
	f, ok := r.factories[typeTag]
	return f, ok
}

// RecoveryResult - итоги восстановления
type RecoveryResult struct {
	// Recovered - задачи восстановленные и готовые к регистрации
	Recovered []Task

	// Skipped - task_id снимков которые восстановить не удалось
	Skipped []string

	// Exposed - сколько восстановленных задач могли оставить
	// живые ордера или открытые позиции на биржах
	Exposed int

	// Errors - причины пропусков
	Errors []error
}

// RecoverTasks восстанавливает задачи из корзины active.
//
// Ошибка возвращается только если перечисление корзины
// невозможно; проблемы отдельных снимков копятся в result.
func RecoverTasks(store *persist.Store, registry *Registry, logger *utils.Logger) (*RecoveryResult, error) {
	if logger == nil {
		logger = utils.L()
	}
	logger = logger.WithComponent("recovery")

	contexts, err := store.ListActive()
	if err != nil {
		return nil, fmt.Errorf("list active contexts: %w", err)
	}

	result := &RecoveryResult{}
	for _, tc := range contexts {
		tag := models.TypeTag(tc.TaskID)

		factory, ok := registry.Resolve(tag)
		if !ok {
			result.Skipped = append(result.Skipped, tc.TaskID)
			result.Errors = append(result.Errors, fmt.Errorf("unknown task type %q for %s", tag, tc.TaskID))
			RecordRecovery(false)
			logger.Warn("skipping context with unknown task type",
				utils.TaskID(tc.TaskID),
				utils.String("type", tag))
			continue
		}

		task, err := factory(tc)
		if err != nil {
			result.Skipped = append(result.Skipped, tc.TaskID)
			result.Errors = append(result.Errors, fmt.Errorf("build task %s: %w", tc.TaskID, err))
			RecordRecovery(false)
			logger.Error("failed to rebuild task from snapshot",
				utils.TaskID(tc.TaskID),
				utils.Err(err))
			continue
		}

		result.Recovered = append(result.Recovered, task)
		RecordRecovery(true)
		logger.Info("task recovered",
			utils.TaskID(tc.TaskID),
			utils.State(tc.State),
			utils.Version(tc.Version))

		// У задачи могли остаться живые ордера на биржах: первый
		// MONITORING-тик сверит их со свежим состоянием шлюза
		if HasLiveExposure(tc.State) {
			result.Exposed++
			logger.Warn("recovered task may hold live orders or positions",
				utils.TaskID(tc.TaskID),
				utils.State(tc.State),
				utils.Int("active_orders", len(tc.ActiveOrders)))
		}
	}

	logger.Info("recovery complete",
		utils.Int("recovered", len(result.Recovered)),
		utils.Int("skipped", len(result.Skipped)))
	return result, nil
}

// NotifyRecovery отправляет оператору сводку восстановления
func NotifyRecovery(notify chan<- models.Notification, result *RecoveryResult) {
	if notify == nil || result == nil {
		return
	}

	severity := models.SeverityInfo
	if len(result.Skipped) > 0 {
		severity = models.SeverityWarn
	}

	n := models.Notification{
		Timestamp: time.Now().UTC(),
		Type:      models.NotificationTypeRecovery,
		Severity:  severity,
		Message: fmt.Sprintf("recovery: %d tasks restored, %d skipped",
			len(result.Recovered), len(result.Skipped)),
		Meta: map[string]interface{}{
			"recovered": len(result.Recovered),
			"skipped":   result.Skipped,
			"exposed":   result.Exposed,
		},
	}

	select {
	case notify <- n:
	default:
	}
}

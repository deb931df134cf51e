package models

import "time"

// Notification представляет уведомление о событии исполнения
type Notification struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`     // EXECUTED, REBALANCE, RECOVERY, CANCELLED, ERROR
	Severity  string                 `json:"severity"` // info, warn, error
	TaskID    string                 `json:"task_id,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"` // дополнительные данные
}

// Типы уведомлений
const (
	NotificationTypeExecuted  = "EXECUTED"  // размещены ордера цикла
	NotificationTypeRebalance = "REBALANCE" // выставлен корректирующий ордер хеджа
	NotificationTypeRecovery  = "RECOVERY"  // событие восстановления после рестарта
	NotificationTypeCancelled = "CANCELLED" // задача отменена оператором
	NotificationTypeError     = "ERROR"     // ошибка исполнения/шлюза
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

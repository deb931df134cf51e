package websocket

import (
	"time"

	"multileg/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeTaskUpdate - новый снимок контекста задачи.
	// Отправляется после каждого dirty-тика задачи.
	MessageTypeTaskUpdate MessageType = "taskUpdate"

	// MessageTypeNotification - событие исполнения
	// (ордера цикла, коррекция хеджа, отмена, ошибка, восстановление)
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// TaskUpdateMessage - снимок состояния задачи для операторской панели
type TaskUpdateMessage struct {
	BaseMessage
	TaskID string          `json:"task_id"`
	Data   *TaskUpdateData `json:"data"`
}

// TaskUpdateData - данные обновления задачи
type TaskUpdateData struct {
	Symbol       string           `json:"symbol"`
	Strategy     string           `json:"strategy"`
	State        string           `json:"state"`
	Positions    models.Positions `json:"positions"`
	ActiveOrders int              `json:"active_orders"`
	Counters     models.Counters  `json:"counters"`
	Version      uint64           `json:"version"`
	LastError    string           `json:"last_error,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NotificationMessage - событие исполнения
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

// NewTaskUpdateMessage создает сообщение обновления задачи
func NewTaskUpdateMessage(tc models.TaskContext) *TaskUpdateMessage {
	return &TaskUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeTaskUpdate,
			Timestamp: time.Now().UTC(),
		},
		TaskID: tc.TaskID,
		Data: &TaskUpdateData{
			Symbol:       tc.Symbol,
			Strategy:     tc.Strategy,
			State:        tc.State,
			Positions:    tc.Positions,
			ActiveOrders: len(tc.ActiveOrders),
			Counters:     tc.Counters,
			Version:      tc.Version,
			LastError:    tc.LastError,
			UpdatedAt:    tc.UpdatedAt,
		},
	}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(n models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now().UTC(),
		},
		Data: &n,
	}
}

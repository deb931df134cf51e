package models

import "time"

// journal.go - записи журнала исполнения (таблицы task_events / task_summaries)
//
// Журнал - необязательный аудиторский слой поверх файловой
// персистенции: источником истины для восстановления остаются
// снимки контекстов, журнал хранит историю для отчётности.

// JournalEvent - одно событие жизненного цикла задачи
type JournalEvent struct {
	ID        int       `json:"id"`
	TaskID    string    `json:"task_id"`
	Symbol    string    `json:"symbol"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Version   uint64    `json:"version"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskSummary - итоговая строка задачи (обновляется при каждом
// терминальном переходе и по завершении циклов)
type TaskSummary struct {
	TaskID     string     `json:"task_id"`
	Symbol     string     `json:"symbol"`
	Strategy   string     `json:"strategy"`
	State      string     `json:"state"`
	Cycles     int64      `json:"cycles"`
	Volume     float64    `json:"volume"`
	Profit     float64    `json:"profit"`
	LastError  string     `json:"last_error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

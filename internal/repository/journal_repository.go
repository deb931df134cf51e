package repository

import (
	"database/sql"
	"errors"
	"time"

	"multileg/internal/models"
)

// Ошибки журнального репозитория
var (
	ErrSummaryNotFound = errors.New("task summary not found")
)

// JournalRepository - работа с таблицами task_events и task_summaries
type JournalRepository struct {
	db *sql.DB
}

// NewJournalRepository создает новый экземпляр репозитория
func NewJournalRepository(db *sql.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// RecordEvent записывает событие жизненного цикла задачи
func (r *JournalRepository) RecordEvent(event *models.JournalEvent) error {
	query := `
		INSERT INTO task_events (task_id, symbol, from_state, to_state, version, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	event.CreatedAt = time.Now()

	err := r.db.QueryRow(
		query,
		event.TaskID,
		event.Symbol,
		event.FromState,
		event.ToState,
		event.Version,
		event.Detail,
		event.CreatedAt,
	).Scan(&event.ID)

	if err != nil {
		return err
	}

	return nil
}

// UpsertSummary записывает/обновляет итоговую строку задачи
func (r *JournalRepository) UpsertSummary(summary *models.TaskSummary) error {
	query := `
		INSERT INTO task_summaries (task_id, symbol, strategy, state, cycles, volume, profit, last_error, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (task_id) DO UPDATE
		SET state = EXCLUDED.state,
		    cycles = EXCLUDED.cycles,
		    volume = EXCLUDED.volume,
		    profit = EXCLUDED.profit,
		    last_error = EXCLUDED.last_error,
		    updated_at = EXCLUDED.updated_at,
		    finished_at = EXCLUDED.finished_at`

	summary.UpdatedAt = time.Now()

	_, err := r.db.Exec(
		query,
		summary.TaskID,
		summary.Symbol,
		summary.Strategy,
		summary.State,
		summary.Cycles,
		summary.Volume,
		summary.Profit,
		summary.LastError,
		summary.UpdatedAt,
		summary.FinishedAt,
	)
	return err
}

// GetSummary возвращает итоговую строку задачи
func (r *JournalRepository) GetSummary(taskID string) (*models.TaskSummary, error) {
	query := `
		SELECT task_id, symbol, strategy, state, cycles, volume, profit, last_error, updated_at, finished_at
		FROM task_summaries
		WHERE task_id = $1`

	summary := &models.TaskSummary{}
	err := r.db.QueryRow(query, taskID).Scan(
		&summary.TaskID,
		&summary.Symbol,
		&summary.Strategy,
		&summary.State,
		&summary.Cycles,
		&summary.Volume,
		&summary.Profit,
		&summary.LastError,
		&summary.UpdatedAt,
		&summary.FinishedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSummaryNotFound
		}
		return nil, err
	}

	return summary, nil
}

// GetRecentEvents возвращает последние N событий
func (r *JournalRepository) GetRecentEvents(limit int) ([]*models.JournalEvent, error) {
	query := `
		SELECT id, task_id, symbol, from_state, to_state, version, detail, created_at
		FROM task_events
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.JournalEvent
	for rows.Next() {
		event := &models.JournalEvent{}
		err := rows.Scan(
			&event.ID,
			&event.TaskID,
			&event.Symbol,
			&event.FromState,
			&event.ToState,
			&event.Version,
			&event.Detail,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// GetEventsByTaskID возвращает события одной задачи
func (r *JournalRepository) GetEventsByTaskID(taskID string, limit int) ([]*models.JournalEvent, error) {
	query := `
		SELECT id, task_id, symbol, from_state, to_state, version, detail, created_at
		FROM task_events
		WHERE task_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.JournalEvent
	for rows.Next() {
		event := &models.JournalEvent{}
		err := rows.Scan(
			&event.ID,
			&event.TaskID,
			&event.Symbol,
			&event.FromState,
			&event.ToState,
			&event.Version,
			&event.Detail,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// GetSummariesByState возвращает итоги задач в указанном состоянии
func (r *JournalRepository) GetSummariesByState(state string) ([]*models.TaskSummary, error) {
	query := `
		SELECT task_id, symbol, strategy, state, cycles, volume, profit, last_error, updated_at, finished_at
		FROM task_summaries
		WHERE state = $1
		ORDER BY updated_at DESC`

	rows, err := r.db.Query(query, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*models.TaskSummary
	for rows.Next() {
		summary := &models.TaskSummary{}
		err := rows.Scan(
			&summary.TaskID,
			&summary.Symbol,
			&summary.Strategy,
			&summary.State,
			&summary.Cycles,
			&summary.Volume,
			&summary.Profit,
			&summary.LastError,
			&summary.UpdatedAt,
			&summary.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

// TotalProfit возвращает суммарную прибыль по всем задачам
func (r *JournalRepository) TotalProfit() (float64, error) {
	query := `SELECT COALESCE(SUM(profit), 0) FROM task_summaries`

	var total float64
	err := r.db.QueryRow(query).Scan(&total)
	if err != nil {
		return 0, err
	}

	return total, nil
}

// DeleteEventsOlderThan удаляет события старше указанной даты
func (r *JournalRepository) DeleteEventsOlderThan(timestamp time.Time) (int64, error) {
	query := `DELETE FROM task_events WHERE created_at < $1`

	result, err := r.db.Exec(query, timestamp)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// CountEvents возвращает общее количество событий
func (r *JournalRepository) CountEvents() (int, error) {
	query := `SELECT COUNT(*) FROM task_events`

	var count int
	err := r.db.QueryRow(query).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"multileg/internal/models"
)

// JournalStore - выборки журнала исполнения, нужные API.
// Реализуется repository.JournalRepository.
type JournalStore interface {
	GetRecentEvents(limit int) ([]*models.JournalEvent, error)
	GetEventsByTaskID(taskID string, limit int) ([]*models.JournalEvent, error)
	GetSummariesByState(state string) ([]*models.TaskSummary, error)
	TotalProfit() (float64, error)
}

// JournalHandler отвечает за чтение журнала исполнения
//
// Endpoints:
// - GET /api/v1/journal/events     - последние события переходов
// - GET /api/v1/journal/summaries  - итоги задач по состоянию
// - GET /api/v1/journal/profit     - суммарная прибыль
type JournalHandler struct {
	journal JournalStore
}

// NewJournalHandler создает новый JournalHandler
func NewJournalHandler(journal JournalStore) *JournalHandler {
	return &JournalHandler{journal: journal}
}

const defaultEventsLimit = 50

// GetEvents возвращает последние события журнала
// GET /api/v1/journal/events
//
// Query Parameters:
// - limit: максимум записей (default: 50, max: 500)
// - task_id: события одной задачи
func (h *JournalHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid_limit", "Limit must be a positive number", "")
			return
		}
		if parsed > 500 {
			parsed = 500
		}
		limit = parsed
	}

	var events []*models.JournalEvent
	var err error
	if taskID := r.URL.Query().Get("task_id"); taskID != "" {
		events, err = h.journal.GetEventsByTaskID(taskID, limit)
	} else {
		events, err = h.journal.GetRecentEvents(limit)
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "journal_error", "Failed to read journal", err.Error())
		return
	}

	if events == nil {
		events = []*models.JournalEvent{}
	}
	respondWithJSON(w, http.StatusOK, events)
}

// GetSummaries возвращает итоги задач
// GET /api/v1/journal/summaries
//
// Query Parameters:
// - state: состояние (default: COMPLETED)
func (h *JournalHandler) GetSummaries(w http.ResponseWriter, r *http.Request) {
	state := strings.ToUpper(r.URL.Query().Get("state"))
	if state == "" {
		state = models.StateCompleted
	}

	summaries, err := h.journal.GetSummariesByState(state)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "journal_error", "Failed to read summaries", err.Error())
		return
	}

	if summaries == nil {
		summaries = []*models.TaskSummary{}
	}
	respondWithJSON(w, http.StatusOK, summaries)
}

// GetProfit возвращает суммарную прибыль по всем задачам
// GET /api/v1/journal/profit
func (h *JournalHandler) GetProfit(w http.ResponseWriter, r *http.Request) {
	total, err := h.journal.TotalProfit()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "journal_error", "Failed to compute profit", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]float64{"total_profit": total})
}

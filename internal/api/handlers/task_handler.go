package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"multileg/internal/bot"
	"multileg/internal/models"
)

// TaskManager - операции планировщика, нужные API.
// Реализуется bot.Scheduler.
type TaskManager interface {
	AddTask(task bot.Task) error
	GetTask(taskID string) (bot.Task, bool)
	Tasks() []bot.Task
	CancelTask(ctx context.Context, taskID string) error
}

// TaskFactoryFunc создаёт новую задачу для пары (стратегия, символ)
type TaskFactoryFunc func(strategy, symbol string) (bot.Task, error)

// TaskHandler отвечает за управление арбитражными задачами
//
// Endpoints:
// - POST /api/v1/tasks              - создание и запуск задачи
// - GET /api/v1/tasks               - список задач
// - GET /api/v1/tasks/{id}          - снимок контекста задачи
// - POST /api/v1/tasks/{id}/cancel  - синхронная отмена задачи
type TaskHandler struct {
	manager TaskManager
	create  TaskFactoryFunc
}

// NewTaskHandler создает новый TaskHandler с внедрением зависимостей
func NewTaskHandler(manager TaskManager, create TaskFactoryFunc) *TaskHandler {
	return &TaskHandler{
		manager: manager,
		create:  create,
	}
}

// CreateTaskRequest структура запроса на создание задачи
type CreateTaskRequest struct {
	Strategy string `json:"strategy"` // basis, carry, ...
	Symbol   string `json:"symbol"`   // BTC/USDT
}

// TaskResponse снимок задачи для API
type TaskResponse struct {
	TaskID    string           `json:"task_id"`
	Symbol    string           `json:"symbol"`
	Strategy  string           `json:"strategy"`
	State     string           `json:"state"`
	StateInfo string           `json:"state_info"`
	Positions models.Positions `json:"positions"`
	Orders    int              `json:"active_orders"`
	Counters  models.Counters  `json:"counters"`
	Version   uint64           `json:"version"`
	LastError string           `json:"last_error,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func taskToResponse(tc models.TaskContext) TaskResponse {
	return TaskResponse{
		TaskID:    tc.TaskID,
		Symbol:    tc.Symbol,
		Strategy:  tc.Strategy,
		State:     tc.State,
		StateInfo: bot.StateInfo(tc.State),
		Positions: tc.Positions,
		Orders:    len(tc.ActiveOrders),
		Counters:  tc.Counters,
		Version:   tc.Version,
		LastError: tc.LastError,
		UpdatedAt: tc.UpdatedAt,
	}
}

// CreateTask создаёт и регистрирует новую задачу
// POST /api/v1/tasks
//
// Response:
// - 201 Created: задача зарегистрирована
// - 400 Bad Request: невалидные параметры
// - 409 Conflict: задача с таким id уже работает
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	if req.Symbol == "" {
		respondWithError(w, http.StatusBadRequest, "missing_symbol", "Symbol is required", "")
		return
	}
	if req.Strategy == "" {
		respondWithError(w, http.StatusBadRequest, "missing_strategy", "Strategy is required", "")
		return
	}

	task, err := h.create(req.Strategy, req.Symbol)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "task_create_failed", "Failed to create task", err.Error())
		return
	}

	if err := h.manager.AddTask(task); err != nil {
		respondWithError(w, http.StatusConflict, "task_exists", "Task with this id is already registered", err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, taskToResponse(task.Context()))
}

// GetTasks возвращает список задач
// GET /api/v1/tasks
//
// Query Parameters:
// - state: фильтр по состоянию (MONITORING, EXECUTING, ...)
// - symbol: фильтр по символу
func (h *TaskHandler) GetTasks(w http.ResponseWriter, r *http.Request) {
	stateFilter := strings.ToUpper(r.URL.Query().Get("state"))
	symbolFilter := r.URL.Query().Get("symbol")

	tasks := h.manager.Tasks()
	response := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		tc := task.Context()
		if stateFilter != "" && tc.State != stateFilter {
			continue
		}
		if symbolFilter != "" && tc.Symbol != symbolFilter {
			continue
		}
		response = append(response, taskToResponse(tc))
	}

	respondWithJSON(w, http.StatusOK, response)
}

// GetTask возвращает снимок одной задачи
// GET /api/v1/tasks/{id}
//
// Response:
// - 200 OK: снимок контекста
// - 404 Not Found: задача не найдена
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]

	task, ok := h.manager.GetTask(taskID)
	if !ok {
		respondWithError(w, http.StatusNotFound, "task_not_found", "Task not found", "")
		return
	}

	respondWithJSON(w, http.StatusOK, taskToResponse(task.Context()))
}

// CancelTask синхронно отменяет задачу
// POST /api/v1/tasks/{id}/cancel
//
// Response:
// - 200 OK: задача отменена, ордера сняты
// - 404 Not Found: задача не найдена
// - 409 Conflict: отмена не удалась, задача в ERROR
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]

	if _, ok := h.manager.GetTask(taskID); !ok {
		respondWithError(w, http.StatusNotFound, "task_not_found", "Task not found", "")
		return
	}

	if err := h.manager.CancelTask(r.Context(), taskID); err != nil {
		respondWithError(w, http.StatusConflict, "cancel_failed",
			"Failed to cancel task, it has been moved to ERROR", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "task cancelled"})
}

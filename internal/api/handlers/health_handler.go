package handlers

import (
	"net/http"
	"time"

	"multileg/internal/bot"
	"multileg/internal/gateway"
	"multileg/internal/models"
)

// StorePinger проверяет доступность хранилища контекстов.
// Реализуется persist.Store.
type StorePinger interface {
	CheckWritable() error
}

// HealthHandler отвечает за health check
//
// Endpoints:
// - GET /health - состояние шлюза, стора и количество задач
type HealthHandler struct {
	gateway gateway.VenueGateway
	manager TaskManager
	store   StorePinger
	started time.Time
}

// NewHealthHandler создает новый HealthHandler
func NewHealthHandler(gw gateway.VenueGateway, manager TaskManager, store StorePinger) *HealthHandler {
	return &HealthHandler{
		gateway: gw,
		manager: manager,
		store:   store,
		started: time.Now(),
	}
}

// HealthResponse структура ответа health check
type HealthResponse struct {
	Status      string                 `json:"status"` // ok / degraded
	UptimeSec   int64                  `json:"uptime_sec"`
	Tasks       int                    `json:"tasks"`
	ActiveTasks int                    `json:"active_tasks"`
	Store       string                 `json:"store,omitempty"` // ok / текст проблемы
	Venues      map[models.Role]string `json:"venues,omitempty"`
}

// GetHealth возвращает состояние сервиса
// GET /health
//
// Response:
// - 200 OK: сервис работает
// - 503 Service Unavailable: шлюз нездоров
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		UptimeSec: int64(time.Since(h.started).Seconds()),
	}

	if h.manager != nil {
		tasks := h.manager.Tasks()
		resp.Tasks = len(tasks)
		for _, task := range tasks {
			if bot.IsActive(task.Context().State) {
				resp.ActiveTasks++
			}
		}
	}

	status := http.StatusOK
	if h.store != nil {
		if err := h.store.CheckWritable(); err != nil {
			resp.Status = "degraded"
			resp.Store = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Store = "ok"
		}
	}

	if h.gateway != nil {
		health, err := h.gateway.HealthCheck(r.Context())
		if err != nil || !health.Healthy {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		if health != nil {
			resp.Venues = health.Venues
		}
	}

	respondWithJSON(w, status, resp)
}

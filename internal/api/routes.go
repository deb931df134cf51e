package api

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"multileg/internal/api/handlers"
	"multileg/internal/api/middleware"
	"multileg/internal/gateway"
	"multileg/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	// Manager - планировщик задач (bot.Scheduler)
	Manager handlers.TaskManager

	// CreateTask - фабрика новых задач для POST /tasks
	CreateTask handlers.TaskFactoryFunc

	// Journal - журнал исполнения; nil если БД отключена
	Journal handlers.JournalStore

	// Gateway - биржевой шлюз для health check
	Gateway gateway.VenueGateway

	// Hub - WebSocket hub для операторской панели; nil отключает /ws
	Hub *websocket.Hub

	// Store - хранилище контекстов для health check
	Store handlers.StorePinger

	// OperatorTokenHash - bcrypt-хеш операторского токена
	OperatorTokenHash string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/  (операторский токен обязателен)
//
//	├── /tasks/
//	│   ├── GET / - список задач
//	│   ├── POST / - создать и запустить задачу
//	│   ├── GET /{id} - снимок контекста задачи
//	│   └── POST /{id}/cancel - синхронная отмена
//	└── /journal/
//	    ├── GET /events - события переходов
//	    ├── GET /summaries - итоги задач
//	    └── GET /profit - суммарная прибыль
//
// /health  - health check (без аутентификации)
// /metrics - Prometheus метрики (без аутентификации)
// /ws/stream - WebSocket поток обновлений
// /debug/pprof/* - профилировщик (basic auth)
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. OperatorAuth (только /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	// API v1: всё под операторским токеном
	apiV1 := router.PathPrefix("/api/v1").Subrouter()
	if deps != nil && deps.OperatorTokenHash != "" {
		apiV1.Use(middleware.OperatorAuth(deps.OperatorTokenHash))
	}

	if deps != nil && deps.Manager != nil {
		taskHandler := handlers.NewTaskHandler(deps.Manager, deps.CreateTask)
		apiV1.HandleFunc("/tasks", taskHandler.GetTasks).Methods("GET")
		apiV1.HandleFunc("/tasks", taskHandler.CreateTask).Methods("POST")
		apiV1.HandleFunc("/tasks/{id}", taskHandler.GetTask).Methods("GET")
		apiV1.HandleFunc("/tasks/{id}/cancel", taskHandler.CancelTask).Methods("POST")
	}

	if deps != nil && deps.Journal != nil {
		journalHandler := handlers.NewJournalHandler(deps.Journal)
		apiV1.HandleFunc("/journal/events", journalHandler.GetEvents).Methods("GET")
		apiV1.HandleFunc("/journal/summaries", journalHandler.GetSummaries).Methods("GET")
		apiV1.HandleFunc("/journal/profit", journalHandler.GetProfit).Methods("GET")
	}

	// WebSocket поток для операторской панели
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Debug endpoints (pprof) под базовой аутентификацией
	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(middleware.DebugAuth)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").HandlerFunc(pprof.Index)

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check
	var healthHandler *handlers.HealthHandler
	if deps != nil {
		healthHandler = handlers.NewHealthHandler(deps.Gateway, deps.Manager, deps.Store)
	} else {
		healthHandler = handlers.NewHealthHandler(nil, nil, nil)
	}
	router.HandleFunc("/health", healthHandler.GetHealth).Methods("GET")

	return router
}

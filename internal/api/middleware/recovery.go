package middleware

import (
	"net/http"
	"runtime/debug"

	"multileg/pkg/utils"
)

// Recovery перехватывает панику в HTTP handlers: сервер продолжает
// обслуживать запросы, клиент получает 500, stack trace уходит в лог
func Recovery(next http.Handler) http.Handler {
	logger := utils.L().WithComponent("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("handler panic",
					utils.String("method", r.Method),
					utils.String("path", r.URL.Path),
					utils.Any("panic", err),
					utils.String("stack", string(debug.Stack())),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

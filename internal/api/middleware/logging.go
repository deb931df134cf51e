package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"multileg/pkg/utils"
)

// responseWriter перехватывает статус и размер ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Hijack пробрасывает Hijacker: без него не работает
// WebSocket upgrade на /ws/stream
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Logging логирует каждый HTTP запрос: метод, путь, статус,
// длительность, адрес клиента и размер ответа
func Logging(next http.Handler) http.Handler {
	logger := utils.L().WithComponent("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		logger.Info("request",
			utils.String("method", r.Method),
			utils.String("path", r.URL.Path),
			utils.Int("status", wrapped.statusCode),
			utils.Latency(float64(time.Since(start).Milliseconds())),
			utils.String("remote", r.RemoteAddr),
			utils.Int64("bytes", wrapped.written),
		)
	})
}

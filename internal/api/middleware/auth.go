package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
	"sync"

	"multileg/pkg/crypto"
)

// auth.go - аутентификация операторских запросов
//
// Один оператор, один токен: запросы к защищённым маршрутам несут
// Authorization: Bearer <token>, токен сверяется с bcrypt-хешем из
// конфигурации (OPERATOR_TOKEN_HASH). Сам токен нигде не хранится.

// OperatorAuth строит middleware проверки операторского токена.
//
// bcrypt-сравнение дорогое, поэтому последний успешно проверенный
// токен кешируется и повторные запросы сверяются constant-time
// сравнением без bcrypt.
func OperatorAuth(tokenHash string) func(http.Handler) http.Handler {
	var mu sync.Mutex
	var verified string

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="operator"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			mu.Lock()
			cached := verified != "" && subtle.ConstantTimeCompare([]byte(token), []byte(verified)) == 1
			mu.Unlock()

			if !cached {
				if !crypto.TokenMatches(token, tokenHash) {
					w.Header().Set("WWW-Authenticate", `Bearer realm="operator"`)
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				mu.Lock()
				verified = token
				mu.Unlock()
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken извлекает токен из заголовка Authorization
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// DebugAuth защищает debug/pprof маршруты базовой аутентификацией.
//
// Credentials берутся из DEBUG_USERNAME / DEBUG_PASSWORD; если они
// не заданы, доступ открыт только в development-окружении.
func DebugAuth(next http.Handler) http.Handler {
	username := os.Getenv("DEBUG_USERNAME")
	password := os.Getenv("DEBUG_PASSWORD")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if username == "" || password == "" {
			if env := os.Getenv("ENV"); env == "development" || env == "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Debug endpoints disabled. Set DEBUG_USERNAME and DEBUG_PASSWORD.", http.StatusForbidden)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !userMatch || !passMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

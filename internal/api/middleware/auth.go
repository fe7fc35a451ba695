package middleware

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"crossarb/pkg/crypto"
)

// Auth - middleware для аутентификации операторских запросов
//
// Ожидает заголовок Authorization: Bearer <token> и сверяет токен с
// bcrypt-хешем из конфигурации. Сам токен нигде не хранится; пустой
// хеш означает, что auth выключен (локальное развертывание).
func Auth(tokenHash string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !crypto.TokenMatches(token, tokenHash) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

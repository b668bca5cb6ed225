// Package middleware содержит HTTP middleware сервиса витрины.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "userID"

const bearerPrefix = "Bearer "

// SessionStore предоставляет доступ к серверной паре сессии (токен и
// кешированная личность) указанного пользователя.
type SessionStore interface {
	Token(ctx context.Context, userID int64) (string, error)
	Clear(ctx context.Context, userID int64) error
}

// Claims описывает полезную нагрузку токена сессии.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"uid"`
}

// AuthMiddleware выполняет проверку токена сессии из заголовка Authorization.
type AuthMiddleware struct {
	secretKey []byte
	tokenTTL  time.Duration
	sessions  SessionStore
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным
// секретным ключом и временем жизни токена.
func NewAuthMiddleware(secret string, ttl time.Duration, sessions SessionStore) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		tokenTTL:  ttl,
		sessions:  sessions,
	}
}

// IssueToken выпускает подписанный токен сессии для указанного пользователя.
func (a *AuthMiddleware) IssueToken(userID int64) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}

// Middleware проверяет токен сессии и добавляет идентификатор пользователя
// в контекст запроса. Просроченный токен означает полный сброс сессии:
// серверная пара удаляется, а клиент получает 403 с явным признаком истечения.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		presented := strings.TrimPrefix(header, bearerPrefix)

		claims := &Claims{}
		_, err := jwt.ParseWithClaims(presented, claims,
			func(token *jwt.Token) (any, error) {
				return a.secretKey, nil
			},
			jwt.WithValidMethods([]string{"HS256"}),
		)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				if a.sessions != nil && claims.UserID != 0 {
					_ = a.sessions.Clear(r.Context(), claims.UserID)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "token expired"})
				return
			}
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		// Подпись действительна, но сессией управляет сервер: после выхода
		// или ротации пары токен больше не принимается.
		if a.sessions != nil {
			stored, err := a.sessions.Token(r.Context(), claims.UserID)
			if err != nil || stored != presented {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// Package session содержит серверное хранилище сессий на Redis.
// Сессия хранится парой ключей: токен и кешированная личность пользователя.
// Пара всегда записывается и удаляется целиком.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound возвращается, если сессия пользователя отсутствует в хранилище.
var ErrNotFound = errors.New("session not found")

// Identity описывает кешированную личность аутентифицированного пользователя.
type Identity struct {
	Login string `json:"login"`
	Role  string `json:"role"`
}

// Store предоставляет доступ к хранилищу сессий.
type Store struct {
	client *redis.Client
}

// NewStore создаёт хранилище сессий поверх указанного клиента Redis.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func tokenKey(userID int64) string {
	return fmt.Sprintf("session:token:%d", userID)
}

func identityKey(userID int64) string {
	return fmt.Sprintf("session:identity:%d", userID)
}

// Save записывает токен и личность пользователя одной транзакцией.
func (s *Store) Save(ctx context.Context, userID int64, token string, ident Identity, ttl time.Duration) error {
	data, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKey(userID), token, ttl)
	pipe.Set(ctx, identityKey(userID), data, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Token возвращает текущий серверный токен сессии пользователя.
func (s *Store) Token(ctx context.Context, userID int64) (string, error) {
	token, err := s.client.Get(ctx, tokenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

// Identity возвращает кешированную личность пользователя.
func (s *Store) Identity(ctx context.Context, userID int64) (*Identity, error) {
	data, err := s.client.Get(ctx, identityKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}

	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		return nil, fmt.Errorf("unmarshal identity: %w", err)
	}
	return &ident, nil
}

// Clear удаляет токен и личность пользователя одной командой, чтобы пара
// не могла остаться в частично очищенном состоянии.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, tokenKey(userID), identityKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

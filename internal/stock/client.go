// Package stock предоставляет клиент внешней системы учёта остатков.
// Остатки используются только для отображения и не влияют на оформление заказа.
package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
)

// ProductStock описывает ответ системы остатков по одному товару.
type ProductStock struct {
	Product int64 `json:"product"`
	Stock   int64 `json:"stock"`
}

type reply struct {
	res        *ProductStock
	statusCode int
	retryAfter time.Duration
}

// Client инкапсулирует HTTP-взаимодействие с системой остатков.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	breaker    *gobreaker.CircuitBreaker[reply]
	sfg        singleflight.Group
}

// NewClient создаёт клиент системы остатков по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 5 * time.Second

	// 429 обрабатывается вызывающей стороной через Retry-After, а не ретраями транспорта.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	breaker := gobreaker.NewCircuitBreaker[reply](gobreaker.Settings{
		Name:    "stock",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
		breaker:    breaker,
	}
}

// GetProductStock запрашивает текущий остаток указанного товара. Параллельные
// запросы одного товара схлопываются в один сетевой вызов.
func (c *Client) GetProductStock(ctx context.Context, productID int64) (*ProductStock, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, fmt.Errorf("stock client not configured")
	}

	v, err, _ := c.sfg.Do(strconv.FormatInt(productID, 10), func() (interface{}, error) {
		return c.breaker.Execute(func() (reply, error) {
			return c.fetch(ctx, productID)
		})
	})
	if err != nil {
		return nil, 0, 0, err
	}

	r := v.(reply)
	return r.res, r.statusCode, r.retryAfter, nil
}

func (c *Client) fetch(ctx context.Context, productID int64) (reply, error) {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/stock/%d", base, productID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return reply{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reply{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return reply{statusCode: resp.StatusCode, retryAfter: retryAfter}, nil
	}

	if resp.StatusCode == http.StatusNoContent {
		return reply{statusCode: resp.StatusCode}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return reply{statusCode: resp.StatusCode}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result ProductStock
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return reply{statusCode: resp.StatusCode}, fmt.Errorf("decode response: %w", err)
	}

	return reply{res: &result, statusCode: resp.StatusCode}, nil
}

// Package main запускает HTTP-сервер сервиса витрины.
package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront-system/internal/config"
	"github.com/mmeshcher/storefront-system/internal/handler"
	"github.com/mmeshcher/storefront-system/internal/middleware"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/service"
	"github.com/mmeshcher/storefront-system/internal/session"
	"github.com/mmeshcher/storefront-system/internal/stock"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddress,
	})
	defer redisClient.Close()

	sessions := session.NewStore(redisClient)

	var stockClient *stock.Client
	if cfg.StockSystemAddress != "" {
		stockClient = stock.NewClient(cfg.StockSystemAddress)
	}

	pricing := model.Pricing{
		ShippingFeeCents:           int64(math.Round(cfg.ShippingFee * 100)),
		FreeShippingThresholdCents: int64(math.Round(cfg.FreeShippingThreshold * 100)),
		TaxRate:                    cfg.TaxRate,
	}

	svc := service.NewService(repo, stockClient, sessions, pricing)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret, cfg.AuthTTL, sessions)
	h := handler.NewHandler(svc, logger, authMiddleware, sessions, cfg.AuthTTL)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового процесса обновления остатков
	g.Go(func() error {
		svc.StartStockUpdates(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting storefront server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

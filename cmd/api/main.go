package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/eujuliu/email-serverless/internal/api"
	"github.com/eujuliu/email-serverless/internal/broker"
	"github.com/eujuliu/email-serverless/internal/config"
	"github.com/eujuliu/email-serverless/internal/ratelimit"
	"github.com/eujuliu/email-serverless/internal/store"
	"github.com/eujuliu/email-serverless/internal/utils"
)

func main() {
	logger := utils.NewLogger("api")

	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file found, continuing without it")
	}

	cfg, err := config.Load()
	utils.FailOnError(logger, err, "Failed to load config")

	st, err := store.Open(cfg.PostgresDSN)
	utils.FailOnError(logger, err, "Failed to connect to database")
	logger.Info("connected to db with success!")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	utils.FailOnError(logger, err, "Failed to connect to redis")
	logger.Info("connected to redis with success!")

	b, err := broker.Connect(cfg.RabbitMQURL, logger)
	utils.FailOnError(logger, err, "Failed to connect to RabbitMQ")
	defer b.Close()

	err = b.EnsureQueue(broker.QueueEmailTask, broker.RouteEmailSend)
	utils.FailOnError(logger, err, "Failed to declare email-task queue")
	err = b.EnsureQueue(broker.QueueTaskResult, broker.RouteTaskResult)
	utils.FailOnError(logger, err, "Failed to declare task-result queue")

	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(redisClient), ratelimit.Config{
		Limit:     cfg.RateLimiterLimit,
		Window:    cfg.RateLimiterWindow(),
		SubWindow: cfg.RateLimiterSubWindow(),
	})

	handlers := api.NewHandlers(st, b, logger, cfg.TaskCost)
	router := api.NewRouter(handlers, limiter, cfg.JWTSecret, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logger.Info("api running", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, closing server!")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	logger.Info("api stopped")
}

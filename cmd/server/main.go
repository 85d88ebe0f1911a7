package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/surveyforge/backend/internal/config"
	delivery "github.com/surveyforge/backend/internal/delivery/http"
	"github.com/surveyforge/backend/internal/middleware"
	"github.com/surveyforge/backend/internal/notify"
	"github.com/surveyforge/backend/internal/repository/postgres"
	"github.com/surveyforge/backend/internal/usecase"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.Log)
	log.WithField("port", cfg.Server.Port).Info("surveyforge auth service starting")

	pool := connectPostgres(cfg.Database.URL, log)
	defer pool.Close()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, rate limiting disabled")
			rdb = nil
		}
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.AMQP.Enabled {
		pub, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.Auth.ResetTTL)
		if err != nil {
			log.WithError(err).Warn("amqp unreachable, notifications disabled")
		} else {
			defer pub.Close()
			notifier = pub
		}
	}

	userRepo := postgres.NewUserRepository(pool)
	tokenRepo := postgres.NewRefreshTokenRepository(pool)
	resetRepo := postgres.NewPasswordResetRepository(pool)
	eventRepo := postgres.NewLoginEventRepository(pool)

	sessions := usecase.NewSessionUsecase(userRepo, tokenRepo, resetRepo, eventRepo, notifier, &cfg.Auth, log)

	handler := delivery.NewHandler(sessions, log)
	authMiddleware := middleware.NewAuthMiddleware(sessions)
	router := delivery.NewRouter(handler, authMiddleware, cfg, rdb, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("forced shutdown")
	}
	log.Info("stopped")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func connectPostgres(url string, log *logrus.Logger) *pgxpool.Pool {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := pgxpool.New(ctx, url)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				cancel()
				log.Info("connected to postgres")
				return pool
			} else {
				pool.Close()
				err = pingErr
			}
		}
		cancel()
		if attempt == 5 {
			log.WithError(err).Fatal("could not connect to postgres")
		}
		log.WithError(err).WithField("attempt", attempt).Warn("postgres connect failed, retrying")
		time.Sleep(time.Duration(attempt) * 2 * time.Second)
	}
}

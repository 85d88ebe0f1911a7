// Command cleanup hard-deletes token rows past their retention window. It
// is a one-shot job meant to run from cron, off the request path.
package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/surveyforge/backend/internal/config"
	"github.com/surveyforge/backend/internal/repository/postgres"
)

func main() {
	cfg := config.Load()
	log := logrus.New()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		log.WithError(err).Fatal("could not connect to postgres")
	}
	defer pool.Close()

	now := time.Now().UTC()

	refreshCutoff := now.Add(-cfg.Auth.RefreshRetention)
	n, err := postgres.NewRefreshTokenRepository(pool).DeleteExpired(ctx, refreshCutoff)
	if err != nil {
		log.WithError(err).Fatal("refresh token cleanup failed")
	}
	log.WithFields(logrus.Fields{"deleted": n, "cutoff": refreshCutoff}).Info("refresh tokens cleaned")

	resetCutoff := now.Add(-cfg.Auth.ResetRetention)
	n, err = postgres.NewPasswordResetRepository(pool).DeleteExpired(ctx, resetCutoff)
	if err != nil {
		log.WithError(err).Fatal("reset token cleanup failed")
	}
	log.WithFields(logrus.Fields{"deleted": n, "cutoff": resetCutoff}).Info("reset tokens cleaned")
}

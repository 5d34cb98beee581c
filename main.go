package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"pulse/core"
	"pulse/internal/analytics"
	"pulse/internal/config"
	"pulse/internal/db"
	"pulse/internal/report"
	"pulse/internal/storage"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logrus.SetFormatter(&logrus.JSONFormatter{})

	gdb, err := db.Connect(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect database")
	}

	blobs, err := buildBlobStore(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize blob store")
	}

	analytics.InitPrometheusMetrics()
	report.InitPrometheusMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := core.New(gdb, blobs)
	app.Start(ctx, cfg.ReportWorkers)

	// The core itself is request-driven; the embedded schedule only keeps
	// yesterday's rollups fresh and retention enforced when no external
	// job scheduler does.
	c := cron.New()
	c.AddFunc("15 0 * * *", func() {
		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		if _, err := app.Aggregate(ctx, yesterday, analytics.ScopeAll, true); err != nil {
			logrus.WithError(err).Error("scheduled aggregation failed")
		}
	})
	c.AddFunc("45 1 * * *", func() {
		policy := analytics.RetentionPolicy{
			EventsDays:  cfg.EventRetentionDays,
			MetricsDays: cfg.MetricRetentionDays,
			ErrorsDays:  cfg.ErrorRetentionDays,
			ReportsDays: cfg.ReportRetentionDays,
		}
		if _, err := app.Cleanup(ctx, policy, false); err != nil {
			logrus.WithError(err).Error("scheduled cleanup failed")
		}
	})
	c.Start()

	logrus.WithFields(logrus.Fields{
		"storage": cfg.Storage,
		"workers": cfg.ReportWorkers,
	}).Info("pulse analytics core started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logrus.Info("shutting down")
	c.Stop()
	app.Shutdown()
	cancel()
}

func buildBlobStore(cfg *config.Config) (storage.BlobStore, error) {
	if cfg.Storage == "s3" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	return storage.NewFileSystemStore(cfg.ReportDir)
}

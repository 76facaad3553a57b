// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/config"
	"github.com/javajoker/marketsync/internal/database"
	"github.com/javajoker/marketsync/internal/jobs"
	"github.com/javajoker/marketsync/internal/marketplace"
	"github.com/javajoker/marketsync/internal/notifications"
	"github.com/javajoker/marketsync/internal/router"
	"github.com/javajoker/marketsync/internal/rules"
	"github.com/javajoker/marketsync/internal/services"
	"github.com/javajoker/marketsync/internal/store"
	"github.com/javajoker/marketsync/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	utils.InitLogger(cfg.Environment, cfg.LogLevel)

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}
	if err := database.SeedInitialData(db, cfg.Seed, cfg.Pricing.DefaultFeePercent); err != nil {
		logrus.WithError(err).Fatal("Failed to seed initial data")
	}

	ruleFile, err := rules.LoadFile(cfg.Pricing.RulesFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load pricing rules")
	}

	adapter, err := marketplace.NewAdapter(cfg.Marketplace.Adapter, marketplace.HTTPAdapterOptions{
		BaseURL:           cfg.Marketplace.BaseURL,
		SellerID:          cfg.Marketplace.SellerID,
		RequestsPerSecond: cfg.Marketplace.RequestsPerSecond,
		Burst:             cfg.Marketplace.Burst,
		MaxRetries:        cfg.Marketplace.MaxRetries,
		Timeout:           cfg.Marketplace.Timeout,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build marketplace adapter")
	}

	aws, err := services.NewAWSClients(cfg.AWS)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize AWS clients")
	}

	st := store.NewGormStore(db)
	syncService := services.NewSyncService(st, ruleFile, adapter, aws.Archiver(cfg.AWS), services.SyncOptions{
		DefaultFeePercent: cfg.Pricing.DefaultFeePercent,
		CosineThreshold:   cfg.Pricing.CosineThreshold,
		FeedBatchSize:     cfg.Feeds.BatchSize,
		MaxJobAttempts:    cfg.Jobs.MaxAttempts,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := jobs.NewRunner(st, jobs.RunnerOptions{
		Workers:      cfg.Jobs.Workers,
		PollInterval: cfg.Jobs.PollInterval,
		Backoff:      jobs.Backoff{Min: cfg.Jobs.RetryMin, Max: cfg.Jobs.RetryMax},
	})
	syncService.RegisterHandlers(runner)
	runner.Start(ctx)

	var background sync.WaitGroup
	if aws.SQS != nil {
		accounts, err := st.ListAccounts(ctx)
		if err != nil || len(accounts) == 0 {
			logrus.WithError(err).Fatal("SQS polling needs an account to file notifications under")
		}
		poller := notifications.NewSQSPoller(aws.SQS, notifications.SQSOptions{
			QueueURL:    cfg.AWS.SQSQueueURL,
			AccountID:   accounts[0].ID,
			WaitSeconds: int64(cfg.AWS.SQSWaitSeconds),
			BatchSize:   int64(cfg.AWS.SQSBatchSize),
		}, syncService.Notifications())
		background.Add(1)
		go func() {
			defer background.Done()
			poller.Run(ctx)
		}()
	}

	janitor := jobs.NewJanitor(st, cfg.Jobs.HungAfter)
	background.Add(2)
	go func() {
		defer background.Done()
		every(ctx, cfg.Feeds.ExportInterval, func(ctx context.Context) {
			if _, err := syncService.Exporter().ExportPending(ctx); err != nil {
				logrus.WithError(err).Warn("Feed export incomplete")
			}
		})
	}()
	go func() {
		defer background.Done()
		every(ctx, cfg.Jobs.JanitorInterval, func(ctx context.Context) {
			if err := janitor.Run(ctx); err != nil {
				logrus.WithError(err).Warn("Janitor run incomplete")
			}
		})
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.Initialize(syncService, cfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	// Stop intake and tickers, then let running jobs finish.
	cancel()
	background.Wait()
	runner.Stop()

	logrus.Info("Server exited")
}

// every runs fn each interval until ctx is cancelled.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

// Package app boots the quota service: configuration, counter store,
// background collector, and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/ChatQuota/internal/collector"
	"github.com/router-for-me/ChatQuota/internal/config"
	"github.com/router-for-me/ChatQuota/internal/counter"
	"github.com/router-for-me/ChatQuota/internal/history"
	adminapi "github.com/router-for-me/ChatQuota/internal/http/api/admin"
	"github.com/router-for-me/ChatQuota/internal/http/api/admin/handlers"
	"github.com/router-for-me/ChatQuota/internal/quota"
	"github.com/router-for-me/ChatQuota/internal/report"
	"github.com/router-for-me/ChatQuota/internal/trend"

	log "github.com/sirupsen/logrus"
)

// shutdownTimeout bounds graceful HTTP shutdown and background-task
// joins.
const shutdownTimeout = 5 * time.Second

// ConfigExists reports whether the config file is present.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// RunServer boots the service and blocks until ctx is cancelled.
func RunServer(ctx context.Context, configPath string, port int) error {
	store, errStore := config.NewStore(configPath)
	if errStore != nil {
		return errStore
	}
	cfg := store.Config()

	counters := openCounterStore(ctx, cfg.Redis)
	defer func() { _ = counters.Close() }()

	trends, errTrends := trend.NewFileStore(cfg.Snapshots.Dir)
	if errTrends != nil {
		return errTrends
	}

	records := openHistory(cfg.History.DSN)

	provider := func() quota.Snapshot {
		current := store.Config()
		return quota.Snapshot{
			Policy:    store.Policy(),
			KeyPrefix: current.Redis.Prefix,
			ResetHour: current.Limits.ResetHour,
		}
	}
	engine := quota.NewEngine(counters, provider, nil)
	reporter := report.NewReporter(counters, trends, records, provider, nil)

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collector.New(reporter, trends, records, cfg.Snapshots.RetentionDays, cfg.History.RetentionDays).Run(bgCtx)
	}()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if errWatch := config.Watch(bgCtx, store); errWatch != nil && !errors.Is(errWatch, context.Canceled) {
			log.WithError(errWatch).Warn("config watcher stopped")
		}
	}()

	router := buildRouter(store, engine, reporter, counters, records, provider)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"port": port, "config": configPath}).Info("quota server listening")
		serveErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case errServe := <-serveErr:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			runErr = errServe
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("http shutdown incomplete")
	}

	bgCancel()
	joinOrTimeout(collectorDone, "collector")
	joinOrTimeout(watchDone, "config watcher")

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// openCounterStore connects to Redis. An unreachable Redis at boot is
// logged, not fatal: the engine fails closed until it recovers.
func openCounterStore(ctx context.Context, cfg config.Redis) counter.Store {
	store, errRedis := counter.NewRedisStore(ctx, counter.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if errRedis == nil {
		return store
	}
	log.WithError(errRedis).Warn("redis unreachable at boot, requests deny until it recovers")
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return counter.NewRedisStoreFromClient(client)
}

// openHistory opens the usage history database. Failure disables
// history features rather than the service.
func openHistory(dsn string) *history.Store {
	conn, errOpen := history.Open(dsn)
	if errOpen != nil {
		log.WithError(errOpen).Warn("usage history disabled: database open failed")
		return nil
	}
	records, errStore := history.NewStore(conn)
	if errStore != nil {
		log.WithError(errStore).Warn("usage history disabled: migration failed")
		return nil
	}
	return records
}

func buildRouter(store *config.Store, engine *quota.Engine, reporter *report.Reporter, counters counter.Store, records *history.Store, provider quota.SnapshotProvider) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	var record handlers.Recorder
	if records != nil {
		record = func(identity, group string, shared bool) {
			snap := provider()
			now := time.Now()
			bucket := counter.Bucket(now, snap.ResetHour)
			ctxRecord, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if errAppend := records.Append(ctxRecord, identity, group, bucket, shared, now); errAppend != nil {
				log.WithError(errAppend).Warn("usage history insert failed")
			}
		}
	}

	adminapi.RegisterRoutes(router, adminapi.Deps{
		Store:    store,
		Engine:   engine,
		Reporter: reporter,
		Health: func(ctx context.Context) error {
			return counters.Ping(ctx)
		},
		Record: record,
	})
	return router
}

func joinOrTimeout(done <-chan struct{}, name string) {
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.WithField("task", name).Warn("background task did not stop in time")
	}
}

// Package app wires the services shared by the rollcall binaries.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rollcall/internal/account"
	"rollcall/internal/api"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/clock"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/queue"
	"rollcall/internal/report"
	"rollcall/internal/roster"
	"rollcall/internal/store"
	"rollcall/internal/worker"
)

// App holds the wired services.
type App struct {
	Config     config.App
	Logger     *zap.Logger
	DB         *store.DB
	Redis      *store.Redis
	Queue      queue.Queue
	Clock      *clock.Clock
	Repo       *attendance.SQLRepository
	Roster     *roster.Service
	Accounts   *account.Service
	Attendance *attendance.Service
	Reports    *report.Service
	Issuer     *auth.Issuer
	Blacklist  auth.Blacklist
	Worker     *worker.Worker
}

// Build connects storage and wires every service. With QUEUE_BACKEND=memory
// the queue, report cache and token blacklist all stay in process and Redis
// is not used.
func Build(ctx context.Context, cfg config.App, logger *zap.Logger) (*App, error) {
	db, err := store.NewDB(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.DBDriver == store.DriverSQLite {
		if err := store.RunMigrations(db.Client, cfg.DBDriver, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	a := &App{Config: cfg, Logger: logger, DB: db, Clock: cfg.Clock()}

	var cache report.Cache
	if cfg.QueueBackend == "redis" {
		a.Redis = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if !a.Redis.Healthy(ctx) {
			logger.Warn("redis not reachable, continuing", zap.String("addr", cfg.RedisAddr))
		}
		a.Queue = queue.NewRedisQueue(a.Redis.Client, cfg.QueueKey)
		a.Blacklist = auth.NewRedisBlacklist(a.Redis.Client)
		cache = report.NewRedisCache(a.Redis.Client)
	} else {
		a.Queue = queue.NewInMemory(256)
		a.Blacklist = auth.NewMemoryBlacklist()
		cache = report.NewMemoryCache()
	}

	a.Issuer = auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	a.Repo = attendance.NewRepository(db.Client)
	a.Roster = roster.NewService(db.Client, logger.Named("roster"))
	a.Accounts = account.NewService(db.Client, a.Issuer, a.Blacklist, logger.Named("account"))
	guard := attendance.NewGuard(a.Clock, cfg.MarkPolicy, cfg.LateGrace)
	a.Attendance = attendance.NewService(a.Repo, a.Roster, a.Clock, guard, a.Queue, logger.Named("attendance"))
	a.Reports = report.NewService(a.Attendance, a.Repo, a.Roster, cache, cfg.ReportCacheTTL, logger.Named("report"))
	a.Worker = worker.New(a.Queue, a.Reports, a.Repo, a.Clock, logger.Named("worker"))

	logger.Info("services ready",
		zap.String("db_driver", cfg.DBDriver),
		zap.String("queue", cfg.QueueBackend),
		zap.String("mark_policy", string(guard.Policy())),
		zap.String("campus_zone", a.Clock.Location().String()),
	)
	return a, nil
}

// Router builds the HTTP API over the wired services.
func (a *App) Router() *gin.Engine {
	health := map[string]api.HealthCheck{"db": a.DB.Healthy}
	if a.Redis != nil {
		health["redis"] = a.Redis.Healthy
	}
	return api.NewRouter(api.Deps{
		Attendance:  a.Attendance,
		Roster:      a.Roster,
		Accounts:    a.Accounts,
		Reports:     a.Reports,
		Issuer:      a.Issuer,
		Blacklist:   a.Blacklist,
		Limiter:     httpmiddleware.NewSimpleTokenBucket(a.Config.RateLimitPerMin, a.Config.RateLimitPerMin),
		CORSOrigins: a.Config.CORSOrigins,
		Health:      health,
		Logger:      a.Logger.Named("http"),
	})
}

// Close releases storage connections.
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("close redis", zap.Error(err))
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("close database", zap.Error(err))
	}
}

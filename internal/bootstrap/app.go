package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"exam-coordinator/internal/grading"
	httpHandler "exam-coordinator/internal/handler/http"
	wsHandler "exam-coordinator/internal/handler/websocket"
	"exam-coordinator/internal/hub"
	gormpersistence "exam-coordinator/internal/infra/persistence/gorm"
	"exam-coordinator/internal/infra/setup"
	redisstate "exam-coordinator/internal/infra/state/redis"
	"exam-coordinator/internal/service"
	"exam-coordinator/internal/tasks"
	"exam-coordinator/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config         *Config
	Log            *logrus.Logger
	DB             *gorm.DB
	RedisClient    *redis.Client
	Scheduler      *tasks.AsynqScheduler
	AsynqServer    *worker.WorkerServer
	Hub            *hub.Hub
	HttpServer     *http.Server
	redisClientOpt asynq.RedisClientOpt
	periodic       *asynq.Scheduler
	stopHub        context.CancelFunc
}

// topicSweepInterval 是回收空闲通知主题的检查间隔
const topicSweepInterval = time.Minute

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		// logrus 此时还未配置
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(setup.DBOptions{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	scheduler := tasks.NewAsynqScheduler(redisClientOpt)
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	sessionRepo := gormpersistence.NewGormSessionRepository(db)
	participantRepo := gormpersistence.NewGormParticipantRepository(db)
	submissionRepo := gormpersistence.NewGormSubmissionRepository(db)
	codeStore := redisstate.NewRedisCodeStore(redisClient, cfg.KeyPrefix)

	// 5. 初始化 Hub 和 Services
	hubInstance := hub.NewHub(0)
	locks := service.NewSessionLocks()
	registry := service.NewAccessCodeRegistry(codeStore, sessionRepo)
	rosterService := service.NewRosterService(sessionRepo, participantRepo, hubInstance, locks)
	lifecycleService := service.NewLifecycleService(sessionRepo, registry, rosterService, hubInstance, scheduler, locks,
		service.LifecycleOptions{
			DefaultMaxParticipants: cfg.DefaultMaxParticipants,
			SubmissionGrace:        cfg.SubmissionGrace,
		})
	grader := grading.NewHTTPGrader(cfg.GraderURL, cfg.GraderTimeout)
	submissionService := service.NewSubmissionService(sessionRepo, submissionRepo, grader, cfg.SubmissionGrace)
	log.Info("Services initialized")

	// 6. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, worker.Handlers{
		Expirer:         lifecycleService,
		Archiver:        lifecycleService,
		Sweeper:         rosterService,
		LivenessTimeout: cfg.LivenessTimeout,
	}, log)

	// 7. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := NewRouter(RouterDeps{
		Log:               log,
		RedisClient:       redisClient,
		KeyPrefix:         cfg.KeyPrefix,
		JWTSecret:         cfg.JWTSecret,
		RateLimitMax:      cfg.RateLimitMax,
		RateLimitWindow:   cfg.RateLimitWindow,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Sessions:          httpHandler.NewSessionHandler(lifecycleService, registry),
		Roster:            httpHandler.NewRosterHandler(registry, rosterService),
		Submissions:       httpHandler.NewSubmissionHandler(submissionService),
		WebSocket:         wsHandler.NewWebSocketHandler(hubInstance, lifecycleService, rosterService, cfg.CORSAllowedOrigin),
	})
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		Scheduler:      scheduler,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel) // LoadConfig 已校验
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	// 包级 logrus 由仓储、服务和 Hub 使用
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(level)
	return log
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	hubCtx, stopHub := context.WithCancel(context.Background())
	a.stopHub = stopHub
	go a.Hub.Run(hubCtx, topicSweepInterval, a.Config.TopicIdleTimeout)
	a.Log.Info("Hub idle-topic janitor started")

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{Location: time.UTC})

	task := asynq.NewTask(tasks.TypeRosterSweep, nil)
	schedule := a.Config.LivenessSweepSchedule
	entryID, err := scheduler.Register(schedule, task, asynq.Queue(tasks.QueueLow))
	if err != nil {
		a.Log.Errorf("Could not register periodic roster sweep task: %v", err)
		return
	}
	a.Log.Infof("Periodic roster sweep task registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	a.periodic = scheduler
	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := scheduler.Run(); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			return
		}
		a.Log.Info("Asynq scheduler stopped.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 停止 Hub 回收、周期任务和 Worker
	if a.stopHub != nil {
		a.stopHub()
	}
	if a.periodic != nil {
		a.periodic.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 3. 关闭调度客户端
	if a.Scheduler != nil {
		if err := a.Scheduler.Close(); err != nil {
			a.Log.Errorf("Error closing task scheduler: %v", err)
		}
	}

	// 4. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	// 5. 关闭数据库连接
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}

	topics, subscribers := a.Hub.Stats()
	a.Log.WithFields(logrus.Fields{"topics": topics, "subscribers": subscribers}).Info("Application shutdown complete.")
}

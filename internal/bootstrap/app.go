// Package bootstrap 负责配置加载、依赖装配与应用生命周期。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"my-room-spaces/internal/batch"
	"my-room-spaces/internal/domain"
	httpHandler "my-room-spaces/internal/handler/http"
	wsHandler "my-room-spaces/internal/handler/websocket"
	"my-room-spaces/internal/hub"
	rediscache "my-room-spaces/internal/infra/cache/redis"
	gormpersistence "my-room-spaces/internal/infra/persistence/gorm"
	"my-room-spaces/internal/infra/setup"
	"my-room-spaces/internal/middleware"
	"my-room-spaces/internal/service"
	"my-room-spaces/internal/tasks"
	"my-room-spaces/internal/worker"
	"my-room-spaces/internal/world"
)

// Config 存储从环境变量或 .env 文件加载的配置。
type Config struct {
	DBUser        string
	DBPassword    string
	DBHost        string
	DBPort        string
	DBName        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ServerPort    string
	LogLevel      string
	AppEnv        string // development/production
	KeyPrefix     string // Redis key 前缀

	RateLimitMax    int
	RateLimitWindow time.Duration

	BatchSize     int
	FlushInterval time.Duration

	ChatRateLimit  int
	ChatRateWindow time.Duration
	ChatHistory    int

	SnapshotTTL time.Duration
	SessionTTL  time.Duration

	ChatPruneKeep       int
	SessionSweepMaxAge  time.Duration
	MaintenanceSchedule string
}

// LoadConfig 从环境变量加载配置。.env 文件存在时优先加载。
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // 忽略错误，允许只使用环境变量

	cfg := &Config{
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBName:        os.Getenv("DB_NAME"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		ServerPort:    os.Getenv("SERVER_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		AppEnv:        os.Getenv("APP_ENV"),
		KeyPrefix:     os.Getenv("REDIS_KEY_PREFIX"),

		RateLimitMax:    100,
		RateLimitWindow: 1 * time.Second,

		BatchSize:     envInt("BATCH_SIZE", batch.DefaultBatchSize),
		FlushInterval: envDuration("FLUSH_INTERVAL", batch.DefaultFlushInterval),

		ChatRateLimit:  envInt("CHAT_RATE_LIMIT", 10),
		ChatRateWindow: envDuration("CHAT_RATE_WINDOW", 10*time.Second),
		ChatHistory:    envInt("CHAT_HISTORY", world.DefaultChatRetention),

		SnapshotTTL: envDuration("SNAPSHOT_TTL", 10*time.Minute),
		SessionTTL:  envDuration("SESSION_TTL", 24*time.Hour),

		ChatPruneKeep:       envInt("CHAT_PRUNE_KEEP", world.DefaultChatRetention),
		SessionSweepMaxAge:  envDuration("SESSION_SWEEP_MAX_AGE", 24*time.Hour),
		MaintenanceSchedule: "@every 5m",
	}

	redisDBStr := os.Getenv("REDIS_DB")
	cfg.RedisDB, _ = strconv.Atoi(redisDBStr) // 忽略错误，默认为 0

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mrs:"
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.DBUser == "" || cfg.DBPassword == "" {
		return nil, fmt.Errorf("environment variables DB_USER and DB_PASSWORD must be set")
	}
	if cfg.DBHost == "" {
		cfg.DBHost = "127.0.0.1"
	}
	if cfg.DBPort == "" {
		cfg.DBPort = "3306"
	}
	if cfg.DBName == "" {
		cfg.DBName = "room_spaces"
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// DSN 构建 MySQL 连接字符串。
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// App 包含应用的所有组件。
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Batch       *batch.Processor
	Hub         *hub.Hub
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
}

// NewApp 创建并装配应用的所有组件。
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	log.Infof("Logger initialized (Level: %s)", logLevel.String())

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DSN())
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
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	sessionRepo := gormpersistence.NewGormSessionRepository(db)
	objectRepo := gormpersistence.NewGormObjectRepository(db)
	chatRepo := gormpersistence.NewGormChatRepository(db)
	modelRepo := gormpersistence.NewGormModelRepository(db)
	cacheRepo := rediscache.NewRedisCacheRepository(redisClient, cfg.KeyPrefix)
	log.Info("Repositories initialized")

	// 5. 初始化 Batch Processor 并绑定写后队列
	processor := batch.NewProcessor()
	queueCfg := batch.Config{BatchSize: cfg.BatchSize, FlushInterval: cfg.FlushInterval}
	processor.Register(service.QueueUsers, queueCfg, func(ctx context.Context, records []interface{}) error {
		users := make([]domain.User, 0, len(records))
		for _, r := range records {
			if u, ok := r.(domain.User); ok {
				users = append(users, u)
			}
		}
		return userRepo.UpsertBatch(ctx, users)
	})
	processor.Register(service.QueueSessions, queueCfg, func(ctx context.Context, records []interface{}) error {
		recs := make([]domain.SessionRecord, 0, len(records))
		for _, r := range records {
			if rec, ok := r.(domain.SessionRecord); ok {
				recs = append(recs, rec)
			}
		}
		return sessionRepo.ApplyRecords(ctx, recs)
	})
	processor.Register(service.QueueObjects, queueCfg, func(ctx context.Context, records []interface{}) error {
		muts := make([]domain.ObjectMutation, 0, len(records))
		for _, r := range records {
			if m, ok := r.(domain.ObjectMutation); ok {
				muts = append(muts, m)
			}
		}
		return objectRepo.ApplyMutations(ctx, muts)
	})
	processor.Register(service.QueueChats, queueCfg, func(ctx context.Context, records []interface{}) error {
		msgs := make([]domain.ChatMessage, 0, len(records))
		for _, r := range records {
			if m, ok := r.(domain.ChatMessage); ok {
				msgs = append(msgs, m)
			}
		}
		return chatRepo.SaveBatch(ctx, msgs)
	})
	log.Info("Batch processor queues registered")

	// 6. 初始化世界状态与服务层
	store := world.NewStore(cfg.ChatHistory)
	spaceService := service.NewSpaceService(
		store, userRepo, sessionRepo, objectRepo, chatRepo, modelRepo, cacheRepo, processor,
		service.Config{
			SnapshotTTL:    cfg.SnapshotTTL,
			SessionTTL:     cfg.SessionTTL,
			ChatRateLimit:  cfg.ChatRateLimit,
			ChatRateWindow: cfg.ChatRateWindow,
			ChatHistory:    cfg.ChatHistory,
		},
	)

	// 7. 初始化 Hub 并回注为 Notifier（两者相互依赖）
	hubInstance := hub.NewHub(spaceService)
	spaceService.SetNotifier(hubInstance)
	log.Info("Hub initialized")

	// 8. 初始化 Handlers
	worldHandler := httpHandler.NewWorldHandler(spaceService)
	modelHandler := httpHandler.NewModelHandler(spaceService)
	statsHandler := httpHandler.NewStatsHandler(processor, hubInstance)
	socketHandler := wsHandler.NewHandler(hubInstance)

	// 9. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(
		redisClientOpt,
		worker.NewChatPruneHandler(chatRepo),
		worker.NewSessionSweepHandler(spaceService),
	)

	// 10. 初始化 Gin Engine 与路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(corsMiddleware())
	router.Use(middleware.RateLimit(cacheRepo, "http", cfg.RateLimitMax, cfg.RateLimitWindow))

	api := router.Group("/api")
	{
		api.GET("/world-state", worldHandler.GetWorldState)
		api.GET("/users", worldHandler.GetUsers)
		api.GET("/objects", worldHandler.GetObjects)

		api.GET("/models", modelHandler.List)
		api.POST("/models", modelHandler.Register)
		api.DELETE("/models/:modelId", modelHandler.Delete)

		api.GET("/stats", statsHandler.Overview)
		api.GET("/batch/stats", statsHandler.BatchStats)
	}
	router.GET("/ws", socketHandler.Serve)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	log.Info("Router setup complete")

	// 11. 初始化 HTTP Server
	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	return &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Batch:          processor,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}, nil
}

// Start 启动后台组件与 HTTP 服务器。
func (a *App) Start() {
	a.Batch.Start()
	a.Log.Info("Batch processor started")

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.enqueueStartupSweep()
	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// enqueueStartupSweep 在启动时立即入队一次会话清扫。
// 进程非正常退出会留下未关闭的会话记录，等 Scheduler 的下一个周期
// 才清理会让残留存活最多一个完整调度间隔。
func (a *App) enqueueStartupSweep() {
	task, err := tasks.NewSessionSweepTask(int(a.Config.SessionSweepMaxAge.Minutes()))
	if err != nil {
		a.Log.Errorf("Failed to create startup session sweep task: %v", err)
		return
	}
	info, err := a.AsynqClient.Enqueue(task, asynq.Queue("critical"))
	if err != nil {
		a.Log.Errorf("Could not enqueue startup session sweep: %v", err)
		return
	}
	a.Log.Infof("Startup session sweep enqueued (TaskID: %s)", info.ID)
}

// registerPeriodicTasks 注册周期性维护任务并启动 Scheduler。
func (a *App) registerPeriodicTasks() {
	a.scheduler = asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	pruneTask, err := tasks.NewChatPruneTask(a.Config.ChatPruneKeep)
	if err != nil {
		a.Log.Errorf("Failed to create chat prune task: %v", err)
		return
	}
	if entryID, err := a.scheduler.Register(a.Config.MaintenanceSchedule, pruneTask, asynq.Queue("low")); err != nil {
		a.Log.Errorf("Could not register chat prune task: %v", err)
	} else {
		a.Log.Infof("Chat prune task registered with schedule '%s' (EntryID: %s)", a.Config.MaintenanceSchedule, entryID)
	}

	sweepTask, err := tasks.NewSessionSweepTask(int(a.Config.SessionSweepMaxAge.Minutes()))
	if err != nil {
		a.Log.Errorf("Failed to create session sweep task: %v", err)
		return
	}
	if entryID, err := a.scheduler.Register(a.Config.MaintenanceSchedule, sweepTask, asynq.Queue("low")); err != nil {
		a.Log.Errorf("Could not register session sweep task: %v", err)
	} else {
		a.Log.Infof("Session sweep task registered with schedule '%s' (EntryID: %s)", a.Config.MaintenanceSchedule, entryID)
	}

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := a.scheduler.Run(); err != nil {
			if !errors.Is(err, asynq.ErrServerClosed) {
				a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			} else {
				a.Log.Info("Asynq scheduler stopped.")
			}
		}
	}()
}

// Shutdown 优雅关闭：先停新入口（HTTP），再断连接（Hub），
// 最后排空写后队列，保证已接受的变更落库。
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a.Log.Info("Shutting down HTTP server...")
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	if a.Hub != nil {
		if err := a.Hub.Stop(ctx); err != nil {
			a.Log.Errorf("Error stopping hub: %v", err)
		}
	}

	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// Hub 已断开所有连接，此刻队列里是最后一批待落库的记录。
	if a.Batch != nil {
		a.Batch.Shutdown(ctx)
		a.Log.Info("Batch processor drained")
	}

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// corsMiddleware 处理跨域头。
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowedOrigin := os.Getenv("CORS_ALLOWED_ORIGIN")
		if allowedOrigin == "" {
			allowedOrigin = "*"
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 记录每个 HTTP 请求的结构化日志。
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}

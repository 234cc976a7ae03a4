package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/fieldtrack/internal/api/handlers"
	"github.com/langchou/fieldtrack/internal/config"
	"github.com/langchou/fieldtrack/internal/connectivity"
	"github.com/langchou/fieldtrack/internal/device"
	"github.com/langchou/fieldtrack/internal/queue"
	"github.com/langchou/fieldtrack/internal/repository"
	"github.com/langchou/fieldtrack/internal/sampler"
	"github.com/langchou/fieldtrack/internal/service"
	"github.com/langchou/fieldtrack/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting fieldtrack", zap.String("port", cfg.ServerPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 本地离线队列
	store, err := queue.OpenSQLite(cfg.QueuePath)
	if err != nil {
		logger.Fatal("Failed to open offline queue", zap.String("path", cfg.QueuePath), zap.Error(err))
	}
	defer store.Close()
	offline := queue.New(store, cfg.QueueMaxRecords, logger)

	if pending, err := offline.Total(ctx); err == nil && pending > 0 {
		logger.Info("Offline queue has pending records", zap.Int("pending", pending))
	}

	// 定位
	sensor := sampler.NewNMEASensor(logger, cfg.GPSDevice, cfg.GPSBaud)
	locations := sampler.New(sampler.Options{
		Sensor:        sensor,
		SecureContext: cfg.SecureContext,
		Timeout:       cfg.SensorTimeout,
	}, logger)

	// 联网状态
	monitor := connectivity.NewMonitor(connectivity.NewInterfaceSource(), logger)
	go monitor.Watch(ctx, cfg.ConnectivityPollInterval)

	// 远端存储。连接池按需建立连接，启动时不可达不影响离线追踪
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to configure database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Warn("Database unreachable, running offline", zap.Error(err))
	} else {
		logger.Info("Database migrated successfully")
	}
	// 恢复在线时重新执行迁移（幂等）
	unwatchMigrate := monitor.OnChange(func(from, to connectivity.State) {
		if to != connectivity.Online {
			return
		}
		go func() {
			if err := db.Migrate(ctx); err != nil {
				logger.Warn("Failed to migrate database after reconnect", zap.Error(err))
			}
		}()
	})
	defer unwatchMigrate()

	remote := repository.NewStore(db.Pool)

	// 追踪控制器与同步引擎
	tracker := service.NewTracker(
		logger,
		locations,
		monitor,
		offline,
		remote,
		device.StaticProfile{Subject: cfg.SubjectID, Organization: cfg.OrganizationID},
		device.SysfsBattery{Glob: cfg.BatteryPath},
		service.TrackerOptions{
			MaxFatalFailures: cfg.MaxFatalFailures,
			WriteTimeout:     cfg.WriteTimeout,
		},
	)

	unwatchSessions := tracker.Watch()
	defer unwatchSessions()

	syncEngine := service.NewSyncEngine(logger, offline, remote, monitor, cfg.SyncMaxFailures)
	unwatchSync := syncEngine.Watch()
	defer unwatchSync()

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	wsHub.SetInitDataProvider(func() *ws.InitData {
		pending, err := offline.Total(ctx)
		if err != nil {
			logger.Warn("Failed to count pending records", zap.Error(err))
		}
		return &ws.InitData{
			Status:       tracker.LocalStatus(),
			State:        tracker.State(),
			Connectivity: string(monitor.State()),
			PendingSync:  pending,
		}
	})
	go wsHub.Run(ctx)

	// 订阅状态更新并广播到 WebSocket
	go func() {
		for snap := range tracker.Subscribe() {
			wsHub.BroadcastStatus(snap)
		}
	}()
	go func() {
		for summary := range syncEngine.Subscribe() {
			wsHub.BroadcastSyncComplete(summary)
		}
	}()
	unwatchIndicator := monitor.OnChange(func(from, to connectivity.State) {
		pending, _ := offline.Total(ctx)
		wsHub.BroadcastConnectivity(ws.ConnectivityData{State: string(to), PendingSync: pending})
	})
	defer unwatchIndicator()

	if cfg.AutoStart {
		if err := tracker.Start(ctx, cfg.SubjectID, service.StartOptions{SampleInterval: cfg.SampleInterval}); err != nil {
			logger.Error("Failed to start tracking", zap.String("hint", sampler.UserMessage(err)), zap.Error(err))
		}
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, tracker, syncEngine, monitor, cfg.SubjectID, wsHub)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	tracker.Stop(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sqlhealthpro/sqlhealthpro/api/router"
	"github.com/sqlhealthpro/sqlhealthpro/internal/collector"
	"github.com/sqlhealthpro/sqlhealthpro/internal/collector/checks"
	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
	"github.com/sqlhealthpro/sqlhealthpro/internal/connection"
	"github.com/sqlhealthpro/sqlhealthpro/internal/consolidator"
	"github.com/sqlhealthpro/sqlhealthpro/internal/database"
	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
	"github.com/sqlhealthpro/sqlhealthpro/internal/notify"
	"github.com/sqlhealthpro/sqlhealthpro/internal/orchestrator"
	"github.com/sqlhealthpro/sqlhealthpro/internal/service"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting SQL Health Pro Server", "version", "1.0.0")

	// 初始化数据库
	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		logger.Fatal("Failed to initialize database", "error", err)
	}
	defer database.Close()
	db := database.GetDB()

	// 首次启动植入默认采集器配置与内置阈值规则
	if err := collector.SeedDefaults(db); err != nil {
		logger.Fatal("Failed to seed collector defaults", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 实时事件推送中心
	hub := notify.NewHub()
	go hub.Run(ctx)

	// 采集管线：清单 → 连接 → 运行驱动 → 调度器
	provider := inventory.NewProvider(cfg.Inventory)
	resolver := connection.NewConfigSecretResolver(cfg.Credentials)
	factory := connection.NewFactory(cfg.SQLServer, resolver)
	store := collector.NewStore(db)
	runner := collector.NewRunner(cfg, store, provider, factory, hub)

	allChecks := checks.All()
	orch := orchestrator.New(cfg.Orchestrator, store, runner, allChecks)
	if err := orch.Start(ctx); err != nil {
		logger.Fatal("Failed to start orchestrator", "error", err)
	}
	defer orch.Stop()

	// 汇总评分服务
	cons := consolidator.New(cfg.Consolidator, cfg.Inventory, db, provider, hub)
	if err := cons.Start(ctx); err != nil {
		logger.Fatal("Failed to start consolidator", "error", err)
	}
	defer cons.Stop()

	// 归档服务
	archiveService := service.NewArchiveService(cfg.Archive, cfg.Storage, db)
	if err := archiveService.Start(ctx); err != nil {
		logger.Fatal("Failed to start archive service", "error", err)
	}
	defer archiveService.Stop()

	// 设置路由
	r := router.SetupRouter(store, runner, orch, db, hub)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	// 启动服务器
	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port, "mode", cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// 配置文件监听与热更新
	go func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			logger.Warn("Config watch init failed", "error", err)
			return
		}
		defer watcher.Close()
		path := "configs/config.yaml"
		if err := watcher.Add(path); err != nil {
			logger.Warn("Config watch add failed", "error", err)
			return
		}
		var debounce *time.Timer
		debounceInterval := 300 * time.Millisecond
		trigger := func() {
			newCfg, err := config.Load(path)
			if err != nil {
				logger.Warn("Config reload failed", "error", err)
				return
			}
			// 原地覆盖，保持指针不变
			*cfg = *newCfg
			// 刷新日志配置
			_ = logger.Init(logger.Config{
				Level:      cfg.Log.Level,
				Format:     cfg.Log.Format,
				Output:     cfg.Log.Output,
				FilePath:   cfg.Log.FilePath,
				MaxSize:    cfg.Log.MaxSize,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAge:     cfg.Log.MaxAge,
				Compress:   cfg.Log.Compress,
			})
			// 清单源参数可能变化，强制下次读取重新拉取
			provider.Invalidate()
			logger.Info("Config reloaded")
		}
		for {
			select {
			case ev := <-watcher.Events:
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(debounceInterval, trigger)
				}
			case err := <-watcher.Errors:
				logger.Warn("Config watch error", "error", err)
			}
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭HTTP服务器
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"degree-ledger/backend/config"
	"degree-ledger/backend/internal/api/handler"
	"degree-ledger/backend/internal/api/router"
	"degree-ledger/backend/internal/artifact"
	"degree-ledger/backend/internal/ledger"
	"degree-ledger/backend/internal/publisher"
	"degree-ledger/backend/internal/repository"
	"degree-ledger/backend/internal/service"
	"degree-ledger/backend/internal/worker"
	"degree-ledger/backend/pkg/database"
	"degree-ledger/backend/pkg/jwt"
	applogger "degree-ledger/backend/pkg/logger"
	"degree-ledger/backend/pkg/mail"
	"degree-ledger/backend/pkg/redis"
)

func main() {
	// 0. 本地开发时从 .env 注入环境变量（文件不存在时忽略）
	_ = godotenv.Load()

	// 1. 加载配置
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
		zap.String("publisher", cfg.Publisher.Driver),
	)

	// 3. 连接数据库
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	logger.Info("数据库连接成功")

	// 3.1 执行数据库迁移
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 4. 连接 Redis（可选：连接失败时降级为进程内锁，黑名单与限流不可用）
	var locker service.Locker
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 连接失败，签发锁降级为进程内锁，仅支持单实例部署", zap.Error(err))
		rdb = nil
		locker = service.NewLocalLocker(cfg.Issuance.LockWait)
	} else {
		locker = service.NewRedisLocker(rdb, cfg.Issuance.LockTTL, cfg.Issuance.LockWait)
	}

	// 5. 初始化 JWT 管理器
	jwtMgr := jwt.NewManager(&cfg.Auth)

	// 6. 外部协作方：内容寻址存储、账本网关、证书生成、邮件
	pub, err := publisher.New(&cfg.Publisher, logger)
	if err != nil {
		logger.Fatal("初始化证书发布器失败", zap.Error(err))
	}
	deps := service.IssuanceDeps{
		Generator: artifact.NewPDFGenerator(),
		Publisher: pub,
		Ledger:    ledger.NewGateway(&cfg.Ledger, logger),
		Locker:    locker,
	}
	// 未配置发送通道时不注入通知方，签发记录保持未通知，配置后由对账任务补发
	if sender := mail.NewSender(&cfg.Mail, logger); sender.Enabled() {
		deps.Notifier = service.NewMailNotifier(sender, cfg.Issuance.InstitutionName)
	}

	// 7. 依赖注入: Repository → Service → Handler
	repo := repository.NewRepository(db)
	svc := service.NewService(cfg, repo, deps, logger)
	h := handler.NewHandler(svc)

	// 8. 后台对账任务
	var reconciler *worker.Reconciler
	if cfg.Reconcile.Enabled {
		reconciler, err = worker.NewReconciler(cfg.Reconcile, svc.Issuance, logger)
		if err != nil {
			logger.Fatal("初始化对账任务失败", zap.Error(err))
		}
		reconciler.Start()
	}

	// 9. 初始化路由
	engine := router.Setup(cfg, h, jwtMgr, rdb, logger)

	// 10. 启动 HTTP 服务器（优雅关闭）
	// 审批请求同步执行完整签发流水线，写超时需覆盖锁等待与各阶段超时之和
	writeTimeout := cfg.Issuance.LockWait + cfg.Issuance.ArtifactTimeout + cfg.Issuance.PublishTimeout + cfg.Issuance.AnchorTimeout + 15*time.Second
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 11. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	if reconciler != nil {
		reconciler.Stop(ctx)
	}

	// 关闭数据库连接
	if closeDB, _ := db.DB(); closeDB != nil {
		closeDB.Close()
	}

	// 关闭 Redis 连接
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}

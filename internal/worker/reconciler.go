// Package worker 后台定时任务
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"degree-ledger/backend/config"
	"degree-ledger/backend/internal/dto"
	"degree-ledger/backend/internal/service"
)

// Reconciler 定时对账任务：扫描锚定在途的申请并补发未送达的通知
// 上一轮未结束时跳过本轮
type Reconciler struct {
	cron    *cron.Cron
	svc     service.IssuanceService
	timeout time.Duration
	logger  *zap.Logger
}

// NewReconciler 按 cron 表达式注册对账任务
func NewReconciler(cfg config.ReconcileConfig, svc service.IssuanceService, logger *zap.Logger) (*Reconciler, error) {
	cl := cronLogger{logger.Sugar()}
	r := &Reconciler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		svc:     svc,
		timeout: cfg.StaleAfter,
		logger:  logger,
	}
	if r.timeout <= 0 {
		r.timeout = 5 * time.Minute
	}

	if _, err := r.cron.AddFunc(cfg.Schedule, r.run); err != nil {
		return nil, fmt.Errorf("注册对账任务失败: %w", err)
	}
	return r, nil
}

// Start 启动调度（非阻塞）
func (r *Reconciler) Start() {
	r.cron.Start()
	r.logger.Info("对账任务已启动")
}

// Stop 停止调度并等待正在执行的任务结束，ctx 到期则放弃等待
func (r *Reconciler) Stop(ctx context.Context) {
	done := r.cron.Stop().Done()
	select {
	case <-done:
		r.logger.Info("对账任务已停止")
	case <-ctx.Done():
		r.logger.Warn("等待对账任务结束超时")
	}
}

// RunOnce 立即执行一轮对账
func (r *Reconciler) RunOnce(ctx context.Context) (*dto.ReconcileReport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.svc.ReconcileStale(ctx)
}

func (r *Reconciler) run() {
	start := time.Now()
	if _, err := r.RunOnce(context.Background()); err != nil {
		r.logger.Error("定时对账失败", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	r.logger.Debug("定时对账结束", zap.Duration("elapsed", time.Since(start)))
}

// cronLogger 将 cron 内部日志转发到 zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

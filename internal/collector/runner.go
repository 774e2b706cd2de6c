package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
	"github.com/sqlhealthpro/sqlhealthpro/internal/connection"
	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
	"github.com/sqlhealthpro/sqlhealthpro/internal/scoring"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// RunEvent 单次运行完成事件（推送给外部订阅者）
type RunEvent struct {
	Collector    string    `json:"collector"`
	Success      bool      `json:"success"`
	Instances    int       `json:"instances"`
	SuccessCount int       `json:"success_count"`
	ErrorCount   int       `json:"error_count"`
	SkippedCount int       `json:"skipped_count"`
	DurationMS   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// EventPublisher 运行完成事件发布边界；发布失败只记日志，不影响运行结果
type EventPublisher interface {
	PublishRunEvent(event RunEvent)
}

// Connector 目标连接建立边界；生产实现为connection.Factory
type Connector interface {
	Connect(ctx context.Context, target *inventory.Target, timeout time.Duration) (*sql.DB, error)
}

// Runner 采集运行骨架：配置加载、单飞锁、并发扇出、计数与执行日志
type Runner struct {
	appCfg   *config.Config
	store    *Store
	provider *inventory.Provider
	factory  Connector
	events   EventPublisher

	mu      sync.Mutex
	running map[string]bool
}

// NewRunner 创建运行骨架
func NewRunner(appCfg *config.Config, store *Store, provider *inventory.Provider, factory Connector, events EventPublisher) *Runner {
	return &Runner{
		appCfg:   appCfg,
		store:    store,
		provider: provider,
		factory:  factory,
		events:   events,
		running:  make(map[string]bool),
	}
}

// tryAcquire 非阻塞获取采集器单飞锁；已持有时直接失败，不排队
func (r *Runner) tryAcquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return false
	}
	r.running[name] = true
	return true
}

// release 释放单飞锁
func (r *Runner) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}

// IsRunning 查询采集器是否在运行中
func (r *Runner) IsRunning(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[name]
}

// Execute 执行一轮采集
// 同名采集器并发触发时第二次调用为no-op（返回false）；任何逃逸异常在此兜底，不冲垮调度循环
func (r *Runner) Execute(ctx context.Context, check Check) bool {
	name := check.Name()
	if !r.tryAcquire(name) {
		logger.Debug("Collector already running, trigger dropped", "collector", name)
		return false
	}
	defer r.release(name)

	event := RunEvent{Collector: name}
	defer func() {
		if rec := recover(); rec != nil {
			// 顶层兜底：本轮标记失败，调度循环继续存活
			msg := fmt.Sprintf("panic: %v", rec)
			logger.Error("Collector run panicked", "collector", name, "error", msg)
			_ = r.store.MarkCompleted(name, event.DurationMS, event.Instances, msg)
		}
		event.FinishedAt = time.Now()
		r.publish(event)
	}()

	// 1. 加载配置：停用或缺失直接返回（no-op，非错误）
	cfg, err := r.store.GetConfig(name)
	if err != nil {
		logger.Error("Collector run aborted, config unavailable", "collector", name, "error", err)
		_ = r.store.MarkCompleted(name, 0, 0, err.Error())
		event.Error = err.Error()
		return true
	}
	if cfg == nil || !cfg.Enabled {
		logger.Debug("Collector disabled or unconfigured, skipping", "collector", name)
		event.Success = true
		return true
	}

	startTime := time.Now()

	// 2. 创建执行日志行
	execLog, err := r.store.StartExecutionLog(name, startTime)
	if err != nil {
		logger.Error("Collector run aborted, execution log unavailable", "collector", name, "error", err)
		_ = r.store.MarkCompleted(name, 0, 0, err.Error())
		event.Error = err.Error()
		return true
	}

	// 3. 获取目标实例列表
	targets := r.provider.GetTargets(ctx, inventory.Filter{
		IncludeDMZ:   r.appCfg.Inventory.IncludeDMZ,
		IncludeCloud: r.appCfg.Inventory.IncludeCloud,
	})

	// 4. 一轮只读一次规则与豁免，所有实例共享只读副本
	rules, err := r.store.ActiveRules(name)
	if err == nil {
		var exceptions []model.CheckException
		exceptions, err = r.store.ActiveExceptions(name)
		if err == nil {
			r.fanOut(ctx, check, cfg, targets, rules, exceptions, execLog)
		}
	}

	status := model.ExecutionStatusSuccess
	errMsg := ""
	if err != nil {
		// 运行级失败：规则/豁免不可读，本轮提前结束
		status = model.ExecutionStatusFailed
		errMsg = err.Error()
		logger.Error("Collector run failed", "collector", name, "error", err)
	}

	// 6. 采集后处理钩子（默认no-op）
	if pp, ok := check.(PostProcessor); ok && err == nil {
		if ppErr := pp.PostProcess(ctx, r.store.DB()); ppErr != nil {
			logger.Warn("Collector post-process failed", "collector", name, "error", ppErr)
		}
	}

	// 7. 补全执行日志与配置元数据
	duration := time.Since(startTime)
	execLog.Status = status
	execLog.EndTime = time.Now()
	execLog.DurationMS = duration.Milliseconds()
	execLog.TotalInstances = len(targets)
	// 运行级失败才覆盖ErrorMsg；成功轮次保留worker记录的首个实例错误
	if errMsg != "" {
		execLog.ErrorMsg = errMsg
	}
	if err := r.store.CompleteExecutionLog(execLog); err != nil {
		logger.Error("Failed to complete execution log", "collector", name, "error", err)
	}
	if err := r.store.MarkCompleted(name, duration.Milliseconds(), len(targets), errMsg); err != nil {
		logger.Error("Failed to update collector config metadata", "collector", name, "error", err)
	}

	event.Success = status == model.ExecutionStatusSuccess
	event.Instances = len(targets)
	event.SuccessCount = execLog.SuccessCount
	event.ErrorCount = execLog.ErrorCount
	event.SkippedCount = execLog.SkippedCount
	event.DurationMS = execLog.DurationMS
	event.Error = errMsg

	logger.Info("Collector run finished",
		"collector", name,
		"instances", len(targets),
		"success", execLog.SuccessCount,
		"errors", execLog.ErrorCount,
		"skipped", execLog.SkippedCount,
		"duration_ms", execLog.DurationMS)
	return true
}

// fanOut 按parallel_degree有界并发处理目标实例，计数回写到执行日志行
func (r *Runner) fanOut(ctx context.Context, check Check, cfg *model.CollectorConfig,
	targets []*inventory.Target, rules []model.ThresholdRule,
	exceptions []model.CheckException, execLog *model.ExecutionLog) {

	degree := cfg.ParallelDegree
	if degree <= 0 {
		degree = 1
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = r.appCfg.SQLServer.ConnectTimeout
	}

	var (
		wg      sync.WaitGroup
		gate    = make(chan struct{}, degree)
		countMu sync.Mutex
	)
	now := time.Now()

	for _, target := range targets {
		select {
		case <-ctx.Done():
			// 进程关停：放弃未开始的实例，已提交的快照保持不回滚
			return
		default:
		}

		wg.Add(1)
		gate <- struct{}{}
		go func(target *inventory.Target) {
			defer wg.Done()
			defer func() { <-gate }()

			outcome, errMsg := r.processTarget(ctx, check, target, rules, exceptions, timeout, now)

			countMu.Lock()
			switch outcome {
			case outcomeSuccess:
				execLog.SuccessCount++
			case outcomeSkipped:
				execLog.SkippedCount++
			case outcomeError:
				execLog.ErrorCount++
				if execLog.ErrorMsg == "" {
					execLog.ErrorMsg = fmt.Sprintf("%s: %s", target.Name, errMsg)
				}
			}
			countMu.Unlock()
		}(target)
	}
	wg.Wait()
}

type targetOutcome int

const (
	outcomeSuccess targetOutcome = iota
	outcomeSkipped
	outcomeError
)

// processTarget 单实例处理单元：连接→版本→选查询→采集→评分→落快照
// 实例级异常就地恢复，不影响其他worker
func (r *Runner) processTarget(ctx context.Context, check Check, target *inventory.Target,
	rules []model.ThresholdRule, exceptions []model.CheckException,
	timeout time.Duration, now time.Time) (targetOutcome, string) {

	// a. 建立连接；凭据解析失败是配置错误按实例错误记录，仅连通性失败记为skipped（非错误）
	conn, err := r.factory.Connect(ctx, target, timeout)
	if err != nil {
		if errors.Is(err, connection.ErrSecretResolution) {
			return outcomeError, err.Error()
		}
		logger.Debug("Target unreachable, skipped", "collector", check.Name(), "instance", target.Name)
		return outcomeSkipped, ""
	}
	defer conn.Close()

	// b. 懒解析SQL大版本并选取兼容查询
	if target.MajorVersion <= 0 {
		r.resolveVersion(ctx, conn, target)
	}
	query, err := r.store.SelectQuery(check.Name(), target.MajorVersion)
	if err != nil {
		return outcomeError, err.Error()
	}
	if query == "" {
		query = check.DefaultQuery(target.MajorVersion)
	}

	// c. 执行查询，产出类型化结果
	queryCtx, cancel := context.WithTimeout(ctx, r.appCfg.SQLServer.CommandTimeout)
	defer cancel()
	result, err := check.Collect(queryCtx, conn, target, query)
	if err != nil {
		return outcomeError, err.Error()
	}

	// d. 评分；豁免实例抑制扣分，按满分落库
	score := scoring.Clamp(check.Score(result, rules))
	if IsExcepted(target.Name, exceptions, now) {
		logger.Debug("Instance excepted, score suppressed", "collector", check.Name(), "instance", target.Name)
		score = 100
	}

	// e. 落一行快照
	if err := check.Persist(r.store.DB(), target, result, score); err != nil {
		return outcomeError, err.Error()
	}
	return outcomeSuccess, ""
}

// resolveVersion 用已建立的连接探测SQL大版本，失败时采用兜底版本
// target是本轮的私有副本，直接赋值；缓存回写只走provider.UpdateVersion
func (r *Runner) resolveVersion(ctx context.Context, conn *sql.DB, target *inventory.Target) {
	var major sql.NullInt64
	var versionString sql.NullString
	row := conn.QueryRowContext(ctx,
		"SELECT CAST(SERVERPROPERTY('ProductMajorVersion') AS int), CAST(@@VERSION AS nvarchar(512))")
	if err := row.Scan(&major, &versionString); err != nil || !major.Valid || major.Int64 <= 0 {
		target.MajorVersion = connection.DefaultMajorVersion
		return
	}
	target.MajorVersion = int(major.Int64)
	r.provider.UpdateVersion(target.Name, target.MajorVersion, versionString.String)
}

// publish 发布运行完成事件；发布方不可用只记日志
func (r *Runner) publish(event RunEvent) {
	if r.events == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("Run event publish failed", "collector", event.Collector, "error", rec)
		}
	}()
	r.events.PublishRunEvent(event)
}

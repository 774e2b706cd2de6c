package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sqlhealthpro/sqlhealthpro/internal/collector"
	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// Orchestrator 调度服务：按各采集器独立周期触发运行
type Orchestrator struct {
	cfg    config.OrchestratorConfig
	store  *collector.Store
	runner *collector.Runner
	checks map[string]collector.Check

	mutex    sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New 创建调度服务
func New(cfg config.OrchestratorConfig, store *collector.Store, runner *collector.Runner, checks []collector.Check) *Orchestrator {
	byName := make(map[string]collector.Check, len(checks))
	for _, c := range checks {
		byName[c.Name()] = c
	}
	return &Orchestrator{
		cfg:    cfg,
		store:  store,
		runner: runner,
		checks: byName,
	}
}

// Start 启动调度循环
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.running {
		return fmt.Errorf("orchestrator is already running")
	}

	o.running = true
	o.stopChan = make(chan struct{})
	o.wg.Add(1)
	go o.loop(ctx)

	logger.Info("Orchestrator started",
		"collectors", len(o.checks),
		"tick", o.cfg.TickInterval.String(),
		"startup_delay", o.cfg.StartupDelay.String())
	return nil
}

// Stop 停止调度循环；进行中的运行不中断，等待其自然结束由进程级ctx负责
func (o *Orchestrator) Stop() error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if !o.running {
		return nil
	}

	o.running = false
	close(o.stopChan)
	o.wg.Wait()

	logger.Info("Orchestrator stopped")
	return nil
}

// Trigger 手工触发一次采集；运行中或未知采集器返回错误
func (o *Orchestrator) Trigger(ctx context.Context, name string) error {
	check, ok := o.checks[name]
	if !ok {
		return fmt.Errorf("unknown collector: %s", name)
	}
	if o.runner.IsRunning(name) {
		return fmt.Errorf("collector %s is already running", name)
	}

	o.launch(ctx, check)
	return nil
}

// loop 调度主循环：启动静默期后按tick轮询到期采集器
func (o *Orchestrator) loop(ctx context.Context) {
	defer o.wg.Done()

	// 启动静默期：等待清单与连通性就绪，避免进程拉起即全量压测
	select {
	case <-time.After(o.cfg.StartupDelay):
	case <-o.stopChan:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	o.tick(ctx)
	for {
		select {
		case <-ticker.C:
			o.tick(ctx)
		case <-o.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick 单轮到期检查：enabled且距上次启动已满间隔且未在运行的采集器被触发
func (o *Orchestrator) tick(ctx context.Context) {
	configs, err := o.store.ListConfigs()
	if err != nil {
		logger.Error("Orchestrator tick failed to list configs", "error", err)
		return
	}

	now := time.Now()
	for i := range configs {
		cfg := &configs[i]
		check, ok := o.checks[cfg.Name]
		if !ok {
			continue
		}
		if !cfg.Enabled {
			continue
		}
		interval := time.Duration(cfg.IntervalSeconds) * time.Second
		if !cfg.LastExecution.IsZero() && now.Sub(cfg.LastExecution) < interval {
			continue
		}
		if o.runner.IsRunning(cfg.Name) {
			continue
		}
		o.launch(ctx, check)
	}
}

// launch 回写启动时间后异步执行；先回写保证下个tick不会重复触发
func (o *Orchestrator) launch(ctx context.Context, check collector.Check) {
	name := check.Name()
	if err := o.store.MarkLaunched(name, time.Now()); err != nil {
		logger.Error("Failed to mark collector launched", "collector", name, "error", err)
		return
	}

	go func() {
		if !o.runner.Execute(ctx, check) {
			logger.Debug("Collector trigger dropped by runner", "collector", name)
		}
	}()
}

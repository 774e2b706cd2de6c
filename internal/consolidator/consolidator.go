package consolidator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// categoryWeights 汇总权重表，合计恰为100；waits仅观测不参与汇总
var categoryWeights = map[string]int{
	model.CollectorBackups:        18,
	model.CollectorAlwaysOn:       14,
	model.CollectorLogChain:       5,
	model.CollectorDatabaseStates: 3,
	model.CollectorCPU:            10,
	model.CollectorMemory:         8,
	model.CollectorIO:             10,
	model.CollectorDisks:          7,
	model.CollectorCriticalErrors: 7,
	model.CollectorMaintenance:    5,
	model.CollectorTempDB:         8,
	model.CollectorAutogrowth:     5,
}

// categoryTables 类别到快照表的映射
var categoryTables = map[string]string{
	model.CollectorBackups:        "backup_snapshots",
	model.CollectorAlwaysOn:       "alwayson_snapshots",
	model.CollectorLogChain:       "logchain_snapshots",
	model.CollectorDatabaseStates: "dbstate_snapshots",
	model.CollectorCPU:            "cpu_snapshots",
	model.CollectorMemory:         "memory_snapshots",
	model.CollectorIO:             "io_snapshots",
	model.CollectorDisks:          "disk_snapshots",
	model.CollectorCriticalErrors: "criticalerror_snapshots",
	model.CollectorMaintenance:    "maintenance_snapshots",
	model.CollectorTempDB:         "tempdb_snapshots",
	model.CollectorAutogrowth:     "autogrowth_snapshots",
}

// staleCategoryScore 超窗类别的兜底分：按"不适用"口径计满分，缺数据不压分
const staleCategoryScore = 100

// consolidateParallelism 单轮汇总的实例级并发上限
const consolidateParallelism = 4

// EventPublisher 汇总完成事件发布边界
type EventPublisher interface {
	PublishHealthScore(score *model.HealthScore)
}

// Consolidator 汇总评分服务：周期读取各类别最新快照，输出实例级健康分时间序列
type Consolidator struct {
	cfg      config.ConsolidatorConfig
	db       *gorm.DB
	provider *inventory.Provider
	invCfg   config.InventoryConfig
	events   EventPublisher

	mutex    sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New 创建汇总评分服务
func New(cfg config.ConsolidatorConfig, invCfg config.InventoryConfig, db *gorm.DB, provider *inventory.Provider, events EventPublisher) *Consolidator {
	return &Consolidator{
		cfg:      cfg,
		invCfg:   invCfg,
		db:       db,
		provider: provider,
		events:   events,
	}
}

// Start 启动汇总循环
func (c *Consolidator) Start(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.running {
		return fmt.Errorf("consolidator is already running")
	}

	c.running = true
	c.stopChan = make(chan struct{})
	c.wg.Add(1)
	go c.loop(ctx)

	logger.Info("Consolidator started",
		"interval", c.cfg.Interval.String(),
		"freshness_window", c.cfg.FreshnessWindow.String())
	return nil
}

// Stop 停止汇总循环
func (c *Consolidator) Stop() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.running {
		return nil
	}

	c.running = false
	close(c.stopChan)
	c.wg.Wait()

	logger.Info("Consolidator stopped")
	return nil
}

func (c *Consolidator) loop(ctx context.Context) {
	defer c.wg.Done()

	select {
	case <-time.After(c.cfg.StartupDelay):
	case <-c.stopChan:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			c.RunOnce(ctx)
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce 执行一轮全量汇总（调度循环与手工触发共用）
func (c *Consolidator) RunOnce(ctx context.Context) {
	targets := c.provider.GetTargets(ctx, inventory.Filter{
		IncludeDMZ:   c.invCfg.IncludeDMZ,
		IncludeCloud: c.invCfg.IncludeCloud,
	})

	now := time.Now()
	var (
		countMu sync.Mutex
		written int
		skipped int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(consolidateParallelism)
	for _, target := range targets {
		target := target
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			score, err := c.ConsolidateTarget(target, now)
			if errors.Is(err, errNoFreshData) {
				countMu.Lock()
				skipped++
				countMu.Unlock()
				return nil
			}
			if err != nil {
				logger.Error("Consolidation failed for instance", "instance", target.Name, "error", err)
				return nil
			}
			countMu.Lock()
			written++
			countMu.Unlock()
			if c.events != nil {
				c.events.PublishHealthScore(score)
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("Consolidation round finished",
		"targets", len(targets), "written", written, "skipped", skipped)
}

// errNoFreshData 目标的全部类别都无新鲜快照
var errNoFreshData = errors.New("no fresh snapshot in any category")

// ConsolidateTarget 汇总单实例：读各类别最新快照→联动调整→加权合并→落库
func (c *Consolidator) ConsolidateTarget(target *inventory.Target, now time.Time) (*model.HealthScore, error) {
	cutoff := now.Add(-c.cfg.FreshnessWindow)

	scores := make(map[string]int, len(categoryTables))
	anyFresh := false
	for category, table := range categoryTables {
		var snap struct {
			Score int
		}
		err := c.db.Table(table).
			Select("score").
			Where("instance_name = ? AND collected_at >= ?", target.Name, cutoff).
			Order("collected_at DESC").
			Limit(1).
			Take(&snap).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			scores[category] = staleCategoryScore
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read latest %s snapshot: %w", category, err)
		}
		scores[category] = snap.Score
		anyFresh = true
	}
	if !anyFresh {
		return nil, errNoFreshData
	}

	adjusted := Propagate(scores)
	final, contributions := WeightedTotal(adjusted)

	contribJSON, err := json.Marshal(contributions)
	if err != nil {
		return nil, fmt.Errorf("encode contributions: %w", err)
	}

	record := &model.HealthScore{
		InstanceName:        target.Name,
		Environment:         target.Environment,
		HostingSite:         target.HostingSite,
		ComputedAt:          now,
		BackupsScore:        adjusted[model.CollectorBackups],
		AlwaysOnScore:       adjusted[model.CollectorAlwaysOn],
		LogChainScore:       adjusted[model.CollectorLogChain],
		DatabaseStatesScore: adjusted[model.CollectorDatabaseStates],
		CPUScore:            adjusted[model.CollectorCPU],
		MemoryScore:         adjusted[model.CollectorMemory],
		IOScore:             adjusted[model.CollectorIO],
		DisksScore:          adjusted[model.CollectorDisks],
		CriticalErrorsScore: adjusted[model.CollectorCriticalErrors],
		MaintenanceScore:    adjusted[model.CollectorMaintenance],
		TempDBScore:         adjusted[model.CollectorTempDB],
		AutogrowthScore:     adjusted[model.CollectorAutogrowth],
		Contributions:       string(contribJSON),
		FinalScore:          final,
		Status:              model.HealthStatusFor(final),
	}
	if err := c.db.Create(record).Error; err != nil {
		return nil, fmt.Errorf("insert health score: %w", err)
	}
	return record, nil
}

// Propagate 跨类别联动调整，按固定顺序执行
func Propagate(scores map[string]int) map[string]int {
	out := make(map[string]int, len(scores))
	for k, v := range scores {
		out[k] = v
	}

	// 1. 自动增长恶化预示磁盘/IO风险：按比例下调两者
	if ag := out[model.CollectorAutogrowth]; ag < 50 {
		factor := 0.7 + 0.3*float64(ag)/100
		out[model.CollectorDisks] = int(math.Round(float64(out[model.CollectorDisks]) * factor))
		out[model.CollectorIO] = int(math.Round(float64(out[model.CollectorIO]) * factor))
	}

	// 2. 日志链断裂削弱备份可信度：备份分封顶60
	if out[model.CollectorLogChain] < 50 {
		if out[model.CollectorBackups] > 60 {
			out[model.CollectorBackups] = 60
		}
	}

	// 3. 数据库状态灾难级：其余全部类别封顶50
	if out[model.CollectorDatabaseStates] < 20 {
		for category := range out {
			if category == model.CollectorDatabaseStates {
				continue
			}
			if out[category] > 50 {
				out[category] = 50
			}
		}
	}
	return out
}

// WeightedTotal 加权合并：返回最终分与各类别贡献明细
func WeightedTotal(scores map[string]int) (int, map[string]float64) {
	contributions := make(map[string]float64, len(categoryWeights))
	total := 0.0
	for category, weight := range categoryWeights {
		contribution := float64(weight) * float64(scores[category]) / 100
		contributions[category] = contribution
		total += contribution
	}

	final := int(math.Round(total))
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}
	return final, contributions
}

// Weights 返回权重表只读副本（校验与展示用）
func Weights() map[string]int {
	out := make(map[string]int, len(categoryWeights))
	for k, v := range categoryWeights {
		out[k] = v
	}
	return out
}

package collector

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// defaultConfigs 各采集器的首跑默认运行配置
var defaultConfigs = map[string]model.CollectorConfig{
	model.CollectorCPU:            {IntervalSeconds: 300, TimeoutSeconds: 30, ParallelDegree: 8},
	model.CollectorMemory:         {IntervalSeconds: 300, TimeoutSeconds: 30, ParallelDegree: 8},
	model.CollectorIO:             {IntervalSeconds: 300, TimeoutSeconds: 30, ParallelDegree: 8},
	model.CollectorDisks:          {IntervalSeconds: 600, TimeoutSeconds: 45, ParallelDegree: 8},
	model.CollectorBackups:        {IntervalSeconds: 900, TimeoutSeconds: 60, ParallelDegree: 6},
	model.CollectorAlwaysOn:       {IntervalSeconds: 300, TimeoutSeconds: 30, ParallelDegree: 8},
	model.CollectorLogChain:       {IntervalSeconds: 900, TimeoutSeconds: 60, ParallelDegree: 6},
	model.CollectorDatabaseStates: {IntervalSeconds: 300, TimeoutSeconds: 30, ParallelDegree: 8},
	model.CollectorCriticalErrors: {IntervalSeconds: 600, TimeoutSeconds: 45, ParallelDegree: 6},
	model.CollectorMaintenance:    {IntervalSeconds: 3600, TimeoutSeconds: 60, ParallelDegree: 4},
	model.CollectorTempDB:         {IntervalSeconds: 900, TimeoutSeconds: 45, ParallelDegree: 6},
	model.CollectorAutogrowth:     {IntervalSeconds: 900, TimeoutSeconds: 45, ParallelDegree: 6},
	model.CollectorWaits:          {IntervalSeconds: 600, TimeoutSeconds: 45, ParallelDegree: 6},
}

// defaultRules 内置阈值规则集（库内无任何规则的采集器首跑时写入）
var defaultRules = map[string][]model.ThresholdRule{
	model.CollectorCPU: {
		{RuleGroup: "sql_cpu_pct", Operator: ">=", Threshold: 95, Value: 20, Action: model.ActionScore, EvalOrder: 1},
		{RuleGroup: "sql_cpu_pct", Operator: ">=", Threshold: 85, Value: 50, Action: model.ActionScore, EvalOrder: 2},
		{RuleGroup: "sql_cpu_pct", Operator: ">=", Threshold: 75, Value: 80, Action: model.ActionScore, EvalOrder: 3},
		{RuleGroup: "runnable_tasks", Operator: ">", Threshold: 20, Value: -10, Action: model.ActionPenalty, EvalOrder: 1},
	},
	model.CollectorMemory: {
		{RuleGroup: "ple_seconds", Operator: "<", Threshold: 60, Value: 0, Action: model.ActionScore, EvalOrder: 1},
		{RuleGroup: "ple_seconds", Operator: "<", Threshold: 120, Value: 30, Action: model.ActionScore, EvalOrder: 2},
		{RuleGroup: "ple_seconds", Operator: "<", Threshold: 300, Value: 60, Action: model.ActionScore, EvalOrder: 3},
		{RuleGroup: "pending_grants", Operator: ">", Threshold: 10, Value: 0, Action: model.ActionScore, EvalOrder: 1},
		{RuleGroup: "pending_grants", Operator: ">", Threshold: 0, Value: 50, Action: model.ActionScore, EvalOrder: 2},
		{RuleGroup: "memory_utilization", Operator: ">=", Threshold: 98, Value: 60, Action: model.ActionScore, EvalOrder: 1},
		{RuleGroup: "memory_utilization", Operator: ">=", Threshold: 95, Value: 80, Action: model.ActionScore, EvalOrder: 2},
		{RuleGroup: "pending_grants", Operator: ">", Threshold: 10, Value: 50, Action: model.ActionCap, EvalOrder: 1},
		{RuleGroup: "stolen_memory_pct", Operator: ">", Threshold: 40, Value: -15, Action: model.ActionPenalty, EvalOrder: 1},
	},
	model.CollectorIO: {
		{RuleGroup: "avg_latency_ms", Operator: ">=", Threshold: 100, Value: 0, Action: model.ActionScore, EvalOrder: 1},
		{RuleGroup: "avg_latency_ms", Operator: ">=", Threshold: 50, Value: 40, Action: model.ActionScore, EvalOrder: 2},
		{RuleGroup: "avg_latency_ms", Operator: ">=", Threshold: 20, Value: 70, Action: model.ActionScore, EvalOrder: 3},
		{RuleGroup: "pending_io", Operator: ">", Threshold: 10, Value: -10, Action: model.ActionPenalty, EvalOrder: 1},
	},
	model.CollectorDisks: {
		{RuleGroup: "free_pct", Operator: "<", Threshold: 5, Value: 0, Action: model.ActionScore, EvalOrder: 1},
		{RuleGroup: "free_pct", Operator: "<", Threshold: 10, Value: 40, Action: model.ActionScore, EvalOrder: 2},
		{RuleGroup: "free_pct", Operator: "<", Threshold: 20, Value: 70, Action: model.ActionScore, EvalOrder: 3},
	},
	model.CollectorLogChain: {
		{RuleGroup: "broken_chains", Operator: ">=", Threshold: 1, Value: 0, Action: model.ActionScore, EvalOrder: 1},
		{RuleGroup: "oldest_log_hours", Operator: ">", Threshold: 6, Value: -20, Action: model.ActionPenalty, EvalOrder: 1},
	},
	model.CollectorCriticalErrors: {
		{RuleGroup: "severity20_count", Operator: ">=", Threshold: 5, Value: 20, Action: model.ActionScore, EvalOrder: 1},
		{RuleGroup: "severity20_count", Operator: ">=", Threshold: 1, Value: 60, Action: model.ActionScore, EvalOrder: 2},
	},
	model.CollectorMaintenance: {
		{RuleGroup: "days_since_checkdb", Operator: ">", Threshold: 30, Value: 40, Action: model.ActionScore, EvalOrder: 1},
		{RuleGroup: "days_since_checkdb", Operator: ">", Threshold: 14, Value: 70, Action: model.ActionScore, EvalOrder: 2},
		{RuleGroup: "failed_jobs", Operator: ">", Threshold: 0, Value: -20, Action: model.ActionPenalty, EvalOrder: 1},
		{RuleGroup: "outdated_stats", Operator: ">", Threshold: 50, Value: -10, Action: model.ActionPenalty, EvalOrder: 2},
	},
	model.CollectorAutogrowth: {
		{RuleGroup: "growth_events", Operator: ">=", Threshold: 20, Value: 20, Action: model.ActionScore, EvalOrder: 1},
		{RuleGroup: "growth_events", Operator: ">=", Threshold: 10, Value: 50, Action: model.ActionScore, EvalOrder: 2},
		{RuleGroup: "growth_events", Operator: ">=", Threshold: 1, Value: 80, Action: model.ActionScore, EvalOrder: 3},
		{RuleGroup: "files_cannot_grow", Operator: ">", Threshold: 0, Value: 40, Action: model.ActionCap, EvalOrder: 1},
	},
	model.CollectorWaits: {
		{RuleGroup: "signal_wait_pct", Operator: ">=", Threshold: 40, Value: 40, Action: model.ActionScore, EvalOrder: 1},
		{RuleGroup: "signal_wait_pct", Operator: ">=", Threshold: 25, Value: 70, Action: model.ActionScore, EvalOrder: 2},
		{RuleGroup: "top_wait_pct", Operator: ">=", Threshold: 60, Value: -10, Action: model.ActionPenalty, EvalOrder: 1},
	},
}

// SeedDefaults 首跑播种：缺失的采集器配置与空规则集写入内置默认
// 已有配置与规则一律不动，管理端的修改不会被覆盖
func SeedDefaults(db *gorm.DB) error {
	for _, name := range model.AllCollectors {
		def := defaultConfigs[name]
		cfg := model.CollectorConfig{
			Name:            name,
			Enabled:         true,
			IntervalSeconds: def.IntervalSeconds,
			TimeoutSeconds:  def.TimeoutSeconds,
			ParallelDegree:  def.ParallelDegree,
		}
		if err := db.Where("name = ?", name).FirstOrCreate(&cfg).Error; err != nil {
			return fmt.Errorf("seed collector config %s: %w", name, err)
		}

		rules, ok := defaultRules[name]
		if !ok {
			continue
		}
		var count int64
		if err := db.Model(&model.ThresholdRule{}).Where("collector = ?", name).Count(&count).Error; err != nil {
			return fmt.Errorf("count threshold rules %s: %w", name, err)
		}
		if count > 0 {
			continue
		}
		for _, r := range rules {
			r.Collector = name
			r.Active = true
			if err := db.Create(&r).Error; err != nil {
				return fmt.Errorf("seed threshold rule %s/%s: %w", name, r.RuleGroup, err)
			}
		}
	}

	logger.Info("Collector defaults seeded", "collectors", len(model.AllCollectors))
	return nil
}

package checks

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/internal/collector"
	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
	"github.com/sqlhealthpro/sqlhealthpro/internal/scoring"
)

// MemoryCheck 内存压力检查：PLE、等待内存授予与内存利用率
type MemoryCheck struct{}

// MemoryResult 内存采集结果
type MemoryResult struct {
	PageLifeExpectancy   int
	PLETargetSeconds     int
	PendingMemoryGrants  int
	TotalServerMemoryMB  float64
	TargetServerMemoryMB float64
	StolenMemoryPct      float64
	MemoryUtilizationPct float64
}

// pleTargetSeconds 按缓冲池规模折算PLE参考目标：每4GB目标内存300秒，下限300秒
func pleTargetSeconds(targetMemoryMB float64) int {
	target := int(targetMemoryMB / 4096 * 300)
	if target < 300 {
		return 300
	}
	return target
}

// Name 检查项名称
func (c *MemoryCheck) Name() string { return model.CollectorMemory }

// DefaultQuery 内置查询：性能计数器汇总为单行
func (c *MemoryCheck) DefaultQuery(majorVersion int) string {
	return `
SELECT
    MAX(CASE WHEN counter_name = 'Page life expectancy' AND object_name LIKE '%Buffer Manager%'
        THEN cntr_value END) AS ple_seconds,
    MAX(CASE WHEN counter_name = 'Memory Grants Pending'
        THEN cntr_value END) AS pending_grants,
    MAX(CASE WHEN counter_name = 'Total Server Memory (KB)'
        THEN cntr_value END) / 1024.0 AS total_memory_mb,
    MAX(CASE WHEN counter_name = 'Target Server Memory (KB)'
        THEN cntr_value END) / 1024.0 AS target_memory_mb,
    MAX(CASE WHEN counter_name = 'Stolen Server Memory (KB)'
        THEN cntr_value END) / 1024.0 AS stolen_memory_mb
FROM sys.dm_os_performance_counters
WHERE counter_name IN ('Page life expectancy', 'Memory Grants Pending',
    'Total Server Memory (KB)', 'Target Server Memory (KB)', 'Stolen Server Memory (KB)')`
}

// Collect 采集单实例内存指标
func (c *MemoryCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var ple, grants sql.NullInt64
	var totalMB, targetMB, stolenMB sql.NullFloat64

	row := conn.QueryRowContext(ctx, query)
	if err := row.Scan(&ple, &grants, &totalMB, &targetMB, &stolenMB); err != nil {
		return nil, fmt.Errorf("collect memory metrics: %w", err)
	}

	res := &MemoryResult{
		PageLifeExpectancy:   int(ple.Int64),
		PendingMemoryGrants:  int(grants.Int64),
		TotalServerMemoryMB:  totalMB.Float64,
		TargetServerMemoryMB: targetMB.Float64,
	}
	if res.TotalServerMemoryMB > 0 {
		res.StolenMemoryPct = stolenMB.Float64 / res.TotalServerMemoryMB * 100
	}
	if res.TargetServerMemoryMB > 0 {
		res.MemoryUtilizationPct = res.TotalServerMemoryMB / res.TargetServerMemoryMB * 100
	}
	res.PLETargetSeconds = pleTargetSeconds(res.TargetServerMemoryMB)
	return res, nil
}

// Score 加权综合：0.6×PLE分 + 0.25×授予等待分 + 0.15×利用率分
// 随后按授予等待封顶、按窃取内存占比平扣（扣分不回溯改权重，维持现状行为）
func (c *MemoryCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*MemoryResult)

	pleScore := scoring.EvaluateScore(float64(r.PageLifeExpectancy), rules, "ple_seconds")
	grantsScore := scoring.EvaluateScore(float64(r.PendingMemoryGrants), rules, "pending_grants")
	utilScore := scoring.EvaluateScore(r.MemoryUtilizationPct, rules, "memory_utilization")

	score := int(0.6*float64(pleScore) + 0.25*float64(grantsScore) + 0.15*float64(utilScore))
	score = scoring.ApplyCaps(score, float64(r.PendingMemoryGrants), rules, "pending_grants")
	score = scoring.ApplyPenalties(score, r.StolenMemoryPct, rules, "stolen_memory_pct")
	return score
}

// Persist 写入快照行
func (c *MemoryCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*MemoryResult)
	return db.Create(&model.MemorySnapshot{
		SnapshotBase:         snapshotBase(target, score),
		PageLifeExpectancy:   r.PageLifeExpectancy,
		PLETargetSeconds:     r.PLETargetSeconds,
		PendingMemoryGrants:  r.PendingMemoryGrants,
		TotalServerMemoryMB:  r.TotalServerMemoryMB,
		TargetServerMemoryMB: r.TargetServerMemoryMB,
		StolenMemoryPct:      r.StolenMemoryPct,
		MemoryUtilizationPct: r.MemoryUtilizationPct,
	}).Error
}

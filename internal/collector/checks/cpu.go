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

// CPUCheck CPU占用检查：SQL进程/其他进程占比与可运行任务数
type CPUCheck struct{}

// CPUResult CPU采集结果
type CPUResult struct {
	SQLProcessPct   float64
	OtherProcessPct float64
	IdlePct         float64
	RunnableTasks   int
}

// Name 检查项名称
func (c *CPUCheck) Name() string { return model.CollectorCPU }

// DefaultQuery 内置查询：ring buffer最近一条调度监控记录 + 可运行任务数
func (c *CPUCheck) DefaultQuery(majorVersion int) string {
	return `
WITH rb AS (
    SELECT TOP 1 CONVERT(xml, record) AS record
    FROM sys.dm_os_ring_buffers
    WHERE ring_buffer_type = N'RING_BUFFER_SCHEDULER_MONITOR'
      AND record LIKE N'%<SystemHealth>%'
    ORDER BY [timestamp] DESC
)
SELECT
    record.value('(./Record/SchedulerMonitorEvent/SystemHealth/ProcessUtilization)[1]', 'int') AS sql_pct,
    record.value('(./Record/SchedulerMonitorEvent/SystemHealth/SystemIdle)[1]', 'int') AS idle_pct,
    (SELECT ISNULL(SUM(runnable_tasks_count), 0)
     FROM sys.dm_os_schedulers
     WHERE scheduler_id < 255) AS runnable_tasks
FROM rb`
}

// Collect 采集单实例CPU指标
func (c *CPUCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var sqlPct, idlePct sql.NullFloat64
	var runnable sql.NullInt64

	row := conn.QueryRowContext(ctx, query)
	if err := row.Scan(&sqlPct, &idlePct, &runnable); err != nil {
		return nil, fmt.Errorf("collect cpu metrics: %w", err)
	}

	res := &CPUResult{
		SQLProcessPct: sqlPct.Float64,
		IdlePct:       idlePct.Float64,
		RunnableTasks: int(runnable.Int64),
	}
	res.OtherProcessPct = 100 - res.SQLProcessPct - res.IdlePct
	if res.OtherProcessPct < 0 {
		res.OtherProcessPct = 0
	}
	return res, nil
}

// Score 总占用（SQL+其他）过阈值扣分，可运行任务积压追加惩罚
func (c *CPUCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*CPUResult)
	totalPct := r.SQLProcessPct + r.OtherProcessPct

	score := scoring.EvaluateScore(totalPct, rules, "sql_cpu_pct")
	score = scoring.ApplyCaps(score, totalPct, rules, "sql_cpu_pct")
	score = scoring.ApplyPenalties(score, float64(r.RunnableTasks), rules, "runnable_tasks")
	return score
}

// Persist 写入快照行
func (c *CPUCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*CPUResult)
	return db.Create(&model.CPUSnapshot{
		SnapshotBase:    snapshotBase(target, score),
		SQLProcessPct:   r.SQLProcessPct,
		OtherProcessPct: r.OtherProcessPct,
		IdlePct:         r.IdlePct,
		RunnableTasks:   r.RunnableTasks,
	}).Error
}

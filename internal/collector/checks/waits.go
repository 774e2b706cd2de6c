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

// WaitsCheck 等待统计检查：信号等待占比与Top等待类型集中度
type WaitsCheck struct{}

// WaitsResult 等待统计采集结果
type WaitsResult struct {
	TopWaitType   string
	TopWaitPct    float64
	SignalWaitPct float64
	AvgWaitTimeMS float64
}

// Name 检查项名称
func (c *WaitsCheck) Name() string { return model.CollectorWaits }

// DefaultQuery 内置查询：剔除良性等待后的dm_os_wait_stats聚合
func (c *WaitsCheck) DefaultQuery(majorVersion int) string {
	return `
WITH waits AS (
    SELECT wait_type, wait_time_ms, signal_wait_time_ms, waiting_tasks_count
    FROM sys.dm_os_wait_stats
    WHERE wait_type NOT IN (
        'SLEEP_TASK', 'BROKER_TASK_STOP', 'BROKER_TO_FLUSH', 'SQLTRACE_BUFFER_FLUSH',
        'CLR_AUTO_EVENT', 'CLR_MANUAL_EVENT', 'LAZYWRITER_SLEEP', 'CHECKPOINT_QUEUE',
        'REQUEST_FOR_DEADLOCK_SEARCH', 'XE_TIMER_EVENT', 'XE_DISPATCHER_WAIT',
        'FT_IFTS_SCHEDULER_IDLE_WAIT', 'LOGMGR_QUEUE', 'ONDEMAND_TASK_QUEUE',
        'BROKER_EVENTHANDLER', 'DIRTY_PAGE_POLL', 'HADR_FILESTREAM_IOMGR_IOCOMPLETION',
        'SP_SERVER_DIAGNOSTICS_SLEEP', 'QDS_PERSIST_TASK_MAIN_LOOP_SLEEP',
        'WAITFOR', 'SLEEP_SYSTEMTASK', 'SQLTRACE_INCREMENTAL_FLUSH_SLEEP')
      AND wait_time_ms > 0
)
SELECT TOP 1
    wait_type AS top_wait_type,
    wait_time_ms * 100.0 / NULLIF(SUM(wait_time_ms) OVER (), 0) AS top_wait_pct,
    (SELECT SUM(signal_wait_time_ms) * 100.0 / NULLIF(SUM(wait_time_ms), 0) FROM waits) AS signal_wait_pct,
    (SELECT SUM(wait_time_ms) * 1.0 / NULLIF(SUM(waiting_tasks_count), 0) FROM waits) AS avg_wait_ms
FROM waits
ORDER BY wait_time_ms DESC`
}

// Collect 采集单实例等待统计
func (c *WaitsCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var topType sql.NullString
	var topPct, signalPct, avgWait sql.NullFloat64

	row := conn.QueryRowContext(ctx, query)
	err := row.Scan(&topType, &topPct, &signalPct, &avgWait)
	if err == sql.ErrNoRows {
		// 空等待统计视为无压力
		return &WaitsResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("collect wait stats: %w", err)
	}

	return &WaitsResult{
		TopWaitType:   topType.String,
		TopWaitPct:    topPct.Float64,
		SignalWaitPct: signalPct.Float64,
		AvgWaitTimeMS: avgWait.Float64,
	}, nil
}

// Score 信号等待占比计基础分，单一等待类型占比过高作扣分
func (c *WaitsCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*WaitsResult)

	score := scoring.EvaluateScore(r.SignalWaitPct, rules, "signal_wait_pct")
	score = scoring.ApplyPenalties(score, r.TopWaitPct, rules, "top_wait_pct")
	return score
}

// Persist 写入快照行
func (c *WaitsCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*WaitsResult)
	return db.Create(&model.WaitsSnapshot{
		SnapshotBase:  snapshotBase(target, score),
		TopWaitType:   r.TopWaitType,
		TopWaitPct:    r.TopWaitPct,
		SignalWaitPct: r.SignalWaitPct,
		AvgWaitTimeMS: r.AvgWaitTimeMS,
	}).Error
}

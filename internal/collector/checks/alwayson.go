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

// 复制队列告警阈值：100MB
const queueAlertKB = 100 * 1024

// AlwaysOnCheck 可用性组健康检查：同步状态、挂起副本与复制队列
type AlwaysOnCheck struct{}

// AlwaysOnResult AlwaysOn采集结果
type AlwaysOnResult struct {
	Enabled           bool
	DatabaseCount     int
	SynchronizedCount int
	SuspendedCount    int
	MaxSendQueueKB    int64
	MaxRedoQueueKB    int64
}

// Name 检查项名称
func (c *AlwaysOnCheck) Name() string { return model.CollectorAlwaysOn }

// DefaultQuery 内置查询：AlwaysOn自SQL 2012（11）起提供，旧版本恒报告未启用
func (c *AlwaysOnCheck) DefaultQuery(majorVersion int) string {
	if majorVersion < 11 {
		return `
SELECT CAST(0 AS bit) AS enabled, 0 AS db_count, 0 AS synchronized_count,
    0 AS suspended_count, CAST(0 AS bigint) AS max_send_queue_kb, CAST(0 AS bigint) AS max_redo_queue_kb`
	}
	return `
SELECT
    CAST(CASE WHEN SERVERPROPERTY('IsHadrEnabled') = 1 THEN 1 ELSE 0 END AS bit) AS enabled,
    COUNT(drs.database_id) AS db_count,
    SUM(CASE WHEN drs.synchronization_state_desc IN ('SYNCHRONIZED', 'SYNCHRONIZING') THEN 1 ELSE 0 END) AS synchronized_count,
    SUM(CASE WHEN drs.is_suspended = 1 THEN 1 ELSE 0 END) AS suspended_count,
    ISNULL(MAX(drs.log_send_queue_size), 0) AS max_send_queue_kb,
    ISNULL(MAX(drs.redo_queue_size), 0) AS max_redo_queue_kb
FROM sys.dm_hadr_database_replica_states drs`
}

// Collect 采集单实例AlwaysOn状态
func (c *AlwaysOnCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var enabled sql.NullBool
	var dbCount, syncCount, suspCount sql.NullInt64
	var sendKB, redoKB sql.NullInt64

	row := conn.QueryRowContext(ctx, query)
	if err := row.Scan(&enabled, &dbCount, &syncCount, &suspCount, &sendKB, &redoKB); err != nil {
		return nil, fmt.Errorf("collect alwayson metrics: %w", err)
	}

	return &AlwaysOnResult{
		Enabled:           enabled.Bool,
		DatabaseCount:     int(dbCount.Int64),
		SynchronizedCount: int(syncCount.Int64),
		SuspendedCount:    int(suspCount.Int64),
		MaxSendQueueKB:    sendKB.Int64,
		MaxRedoQueueKB:    redoKB.Int64,
	}, nil
}

// Score 未启用视为不适用记100；存在挂起副本记0；未全同步记50
// 否则从100起步：发送队列超100MB扣30，重做队列超100MB扣20
func (c *AlwaysOnCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*AlwaysOnResult)

	if !r.Enabled || r.DatabaseCount == 0 {
		return 100
	}
	if r.SuspendedCount > 0 {
		return 0
	}
	if r.SynchronizedCount < r.DatabaseCount {
		return 50
	}

	score := 100
	if r.MaxSendQueueKB > queueAlertKB {
		score -= 30
	}
	if r.MaxRedoQueueKB > queueAlertKB {
		score -= 20
	}
	return scoring.Clamp(score)
}

// Persist 写入快照行
func (c *AlwaysOnCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*AlwaysOnResult)
	return db.Create(&model.AlwaysOnSnapshot{
		SnapshotBase:      snapshotBase(target, score),
		Enabled:           r.Enabled,
		DatabaseCount:     r.DatabaseCount,
		SynchronizedCount: r.SynchronizedCount,
		SuspendedCount:    r.SuspendedCount,
		MaxSendQueueKB:    r.MaxSendQueueKB,
		MaxRedoQueueKB:    r.MaxRedoQueueKB,
	}).Error
}

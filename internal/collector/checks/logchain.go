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

// LogChainCheck 日志链完整性检查：FULL恢复模式库的日志备份连续性
type LogChainCheck struct{}

// LogChainResult 日志链采集结果
type LogChainResult struct {
	FullRecoveryDatabases int
	BrokenChains          int
	OldestLogBackupHours  float64
}

// Name 检查项名称
func (c *LogChainCheck) Name() string { return model.CollectorLogChain }

// DefaultQuery 内置查询：log_reuse_wait与日志备份缺口综合判断断链
func (c *LogChainCheck) DefaultQuery(majorVersion int) string {
	return `
WITH chains AS (
    SELECT d.name,
        d.log_reuse_wait_desc,
        MAX(CASE WHEN b.type = 'L' THEN b.backup_finish_date END) AS last_log,
        MAX(CASE WHEN b.type = 'D' THEN b.backup_finish_date END) AS last_full
    FROM sys.databases d
    LEFT JOIN msdb.dbo.backupset b ON b.database_name = d.name
    WHERE d.database_id > 4 AND d.recovery_model_desc = 'FULL' AND d.state_desc = 'ONLINE'
    GROUP BY d.name, d.log_reuse_wait_desc
)
SELECT
    COUNT(*) AS full_recovery_dbs,
    SUM(CASE WHEN last_log IS NULL OR last_log < last_full THEN 1 ELSE 0 END) AS broken_chains,
    ISNULL(MAX(DATEDIFF(minute, last_log, GETDATE()) / 60.0), 0) AS oldest_log_hours
FROM chains`
}

// Collect 采集单实例日志链状态
func (c *LogChainCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var fullDBs, broken sql.NullInt64
	var oldestHours sql.NullFloat64

	row := conn.QueryRowContext(ctx, query)
	if err := row.Scan(&fullDBs, &broken, &oldestHours); err != nil {
		return nil, fmt.Errorf("collect log chain metrics: %w", err)
	}

	return &LogChainResult{
		FullRecoveryDatabases: int(fullDBs.Int64),
		BrokenChains:          int(broken.Int64),
		OldestLogBackupHours:  oldestHours.Float64,
	}, nil
}

// Score 断链按规则记分（默认任一断链直接0分），日志备份积压追加惩罚
func (c *LogChainCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*LogChainResult)
	if r.FullRecoveryDatabases == 0 {
		// 无FULL恢复模式库：日志链不适用
		return 100
	}

	score := scoring.EvaluateScore(float64(r.BrokenChains), rules, "broken_chains")
	score = scoring.ApplyPenalties(score, r.OldestLogBackupHours, rules, "oldest_log_hours")
	return score
}

// Persist 写入快照行
func (c *LogChainCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*LogChainResult)
	return db.Create(&model.LogChainSnapshot{
		SnapshotBase:          snapshotBase(target, score),
		FullRecoveryDatabases: r.FullRecoveryDatabases,
		BrokenChains:          r.BrokenChains,
		OldestLogBackupHours:  r.OldestLogBackupHours,
	}).Error
}

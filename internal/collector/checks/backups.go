package checks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/internal/collector"
	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

// 备份SLA窗口（小时）
const (
	fullBackupSLAHours          = 24
	logBackupSLAHours           = 2
	warehouseFullBackupSLAHours = 7 * 24
)

// BackupsCheck 备份SLA检查：最旧全备/日志备份时间与SLA比对
type BackupsCheck struct{}

// BackupsResult 备份采集结果
type BackupsResult struct {
	WorkloadClass        string
	FullBackupAgeHours   float64
	LogBackupAgeHours    float64
	FullBackupBreached   bool
	LogBackupBreached    bool
	DatabasesWithoutFull int
}

// Name 检查项名称
func (c *BackupsCheck) Name() string { return model.CollectorBackups }

// DefaultQuery 内置查询：各库最近备份归集为实例级最差值
// 日志备份口径仅统计FULL恢复模式库
func (c *BackupsCheck) DefaultQuery(majorVersion int) string {
	return `
WITH last_backup AS (
    SELECT d.name,
        d.recovery_model_desc,
        MAX(CASE WHEN b.type = 'D' THEN b.backup_finish_date END) AS last_full,
        MAX(CASE WHEN b.type = 'L' THEN b.backup_finish_date END) AS last_log
    FROM sys.databases d
    LEFT JOIN msdb.dbo.backupset b ON b.database_name = d.name
    WHERE d.database_id > 4 AND d.state_desc = 'ONLINE'
    GROUP BY d.name, d.recovery_model_desc
)
SELECT
    MAX(DATEDIFF(minute, last_full, GETDATE()) / 60.0) AS worst_full_age_hours,
    MAX(CASE WHEN recovery_model_desc = 'FULL'
        THEN DATEDIFF(minute, last_log, GETDATE()) / 60.0 END) AS worst_log_age_hours,
    SUM(CASE WHEN last_full IS NULL THEN 1 ELSE 0 END) AS without_full
FROM last_backup`
}

// Collect 采集单实例备份状态
func (c *BackupsCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var fullAge, logAge sql.NullFloat64
	var withoutFull sql.NullInt64

	row := conn.QueryRowContext(ctx, query)
	if err := row.Scan(&fullAge, &logAge, &withoutFull); err != nil {
		return nil, fmt.Errorf("collect backup metrics: %w", err)
	}

	res := &BackupsResult{
		WorkloadClass:        workloadClass(target),
		FullBackupAgeHours:   fullAge.Float64,
		LogBackupAgeHours:    logAge.Float64,
		DatabasesWithoutFull: int(withoutFull.Int64),
	}
	evaluateBackupSLA(res, logAge.Valid)
	return res, nil
}

// evaluateBackupSLA 按负载类型套用SLA窗口并落违约标记
func evaluateBackupSLA(res *BackupsResult, hasLogBackups bool) {
	fullSLA := float64(fullBackupSLAHours)
	logSLA := float64(logBackupSLAHours)
	if res.WorkloadClass == "warehouse" {
		// 数仓负载：全备7天窗口，日志链不做SLA约束
		fullSLA = warehouseFullBackupSLAHours
		logSLA = 0
	}

	if res.FullBackupAgeHours > fullSLA || res.DatabasesWithoutFull > 0 {
		res.FullBackupBreached = true
	}
	if logSLA > 0 && hasLogBackups && res.LogBackupAgeHours > logSLA {
		res.LogBackupBreached = true
	}
}

// workloadClass 按清单环境推导负载类型
func workloadClass(target *inventory.Target) string {
	env := strings.ToLower(target.Environment)
	if strings.Contains(env, "warehouse") || strings.Contains(env, "dwh") {
		return "warehouse"
	}
	return "oltp"
}

// Score 日志SLA违约（断链风险更高）或全备SLA违约均记0分，其余100
func (c *BackupsCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*BackupsResult)
	if r.LogBackupBreached || r.FullBackupBreached {
		return 0
	}
	return 100
}

// Persist 写入快照行
func (c *BackupsCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*BackupsResult)
	return db.Create(&model.BackupSnapshot{
		SnapshotBase:         snapshotBase(target, score),
		WorkloadClass:        r.WorkloadClass,
		FullBackupAgeHours:   r.FullBackupAgeHours,
		LogBackupAgeHours:    r.LogBackupAgeHours,
		FullBackupBreached:   r.FullBackupBreached,
		LogBackupBreached:    r.LogBackupBreached,
		DatabasesWithoutFull: r.DatabasesWithoutFull,
	}).Error
}

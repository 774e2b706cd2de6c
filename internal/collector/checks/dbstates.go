package checks

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/internal/collector"
	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

// DatabaseStatesCheck 数据库状态检查：SUSPECT/EMERGENCY/恢复挂起等异常状态
type DatabaseStatesCheck struct{}

// DatabaseStatesResult 数据库状态采集结果
type DatabaseStatesResult struct {
	OnlineCount          int
	OfflineCount         int
	SuspectCount         int
	EmergencyCount       int
	RecoveryPendingCount int
	RestoringCount       int
	SingleUserCount      int
	SuspectPages         int
}

// Name 检查项名称
func (c *DatabaseStatesCheck) Name() string { return model.CollectorDatabaseStates }

// DefaultQuery 内置查询：状态计数 + 可疑页
func (c *DatabaseStatesCheck) DefaultQuery(majorVersion int) string {
	return `
SELECT
    SUM(CASE WHEN state_desc = 'ONLINE' THEN 1 ELSE 0 END) AS online_count,
    SUM(CASE WHEN state_desc = 'OFFLINE' THEN 1 ELSE 0 END) AS offline_count,
    SUM(CASE WHEN state_desc = 'SUSPECT' THEN 1 ELSE 0 END) AS suspect_count,
    SUM(CASE WHEN state_desc = 'EMERGENCY' THEN 1 ELSE 0 END) AS emergency_count,
    SUM(CASE WHEN state_desc = 'RECOVERY_PENDING' THEN 1 ELSE 0 END) AS recovery_pending_count,
    SUM(CASE WHEN state_desc = 'RESTORING' THEN 1 ELSE 0 END) AS restoring_count,
    SUM(CASE WHEN user_access_desc = 'SINGLE_USER' THEN 1 ELSE 0 END) AS single_user_count,
    (SELECT COUNT(*) FROM msdb.dbo.suspect_pages WHERE event_type IN (1, 2, 3)) AS suspect_pages
FROM sys.databases
WHERE database_id > 4`
}

// Collect 采集单实例数据库状态
func (c *DatabaseStatesCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var online, offline, suspect, emergency, recoveryPending, restoring, singleUser, suspectPages sql.NullInt64

	row := conn.QueryRowContext(ctx, query)
	if err := row.Scan(&online, &offline, &suspect, &emergency, &recoveryPending,
		&restoring, &singleUser, &suspectPages); err != nil {
		return nil, fmt.Errorf("collect database states: %w", err)
	}

	return &DatabaseStatesResult{
		OnlineCount:          int(online.Int64),
		OfflineCount:         int(offline.Int64),
		SuspectCount:         int(suspect.Int64),
		EmergencyCount:       int(emergency.Int64),
		RecoveryPendingCount: int(recoveryPending.Int64),
		RestoringCount:       int(restoring.Int64),
		SingleUserCount:      int(singleUser.Int64),
		SuspectPages:         int(suspectPages.Int64),
	}, nil
}

// Score 最严重状态优先：SUSPECT/EMERGENCY记0；可疑页记40；恢复挂起记40
// 单用户/还原中按计划内维护记80；OFFLINE视为人为下线，不扣分
func (c *DatabaseStatesCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*DatabaseStatesResult)

	switch {
	case r.SuspectCount > 0 || r.EmergencyCount > 0:
		return 0
	case r.SuspectPages > 0:
		return 40
	case r.RecoveryPendingCount > 0:
		return 40
	case r.SingleUserCount > 0 || r.RestoringCount > 0:
		return 80
	default:
		return 100
	}
}

// Persist 写入快照行
func (c *DatabaseStatesCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*DatabaseStatesResult)
	return db.Create(&model.DatabaseStateSnapshot{
		SnapshotBase:         snapshotBase(target, score),
		OnlineCount:          r.OnlineCount,
		OfflineCount:         r.OfflineCount,
		SuspectCount:         r.SuspectCount,
		EmergencyCount:       r.EmergencyCount,
		RecoveryPendingCount: r.RecoveryPendingCount,
		RestoringCount:       r.RestoringCount,
		SingleUserCount:      r.SingleUserCount,
		SuspectPages:         r.SuspectPages,
	}).Error
}

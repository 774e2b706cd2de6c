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

// MaintenanceCheck 维护作业检查：CHECKDB、索引维护、统计信息与失败作业
type MaintenanceCheck struct{}

// MaintenanceResult 维护状态采集结果
type MaintenanceResult struct {
	DaysSinceCheckDB    float64
	DaysSinceIndexMaint float64
	OutdatedStatsCount  int
	FailedJobs24H       int
}

// Name 检查项名称
func (c *MaintenanceCheck) Name() string { return model.CollectorMaintenance }

// DefaultQuery 内置查询：DBCC最后成功时间、统计信息陈旧度与作业历史
func (c *MaintenanceCheck) DefaultQuery(majorVersion int) string {
	return `
DECLARE @checkdb TABLE (db_name SYSNAME, last_checkdb DATETIME NULL);
DECLARE @name SYSNAME;
DECLARE dbs CURSOR LOCAL FAST_FORWARD FOR
    SELECT name FROM sys.databases WHERE database_id > 4 AND state_desc = 'ONLINE';
OPEN dbs;
FETCH NEXT FROM dbs INTO @name;
WHILE @@FETCH_STATUS = 0
BEGIN
    DECLARE @info TABLE (ParentObject NVARCHAR(255), Object NVARCHAR(255), Field NVARCHAR(255), Value NVARCHAR(255));
    DELETE FROM @info;
    INSERT INTO @info EXEC ('DBCC DBINFO(''' + @name + ''') WITH TABLERESULTS, NO_INFOMSGS');
    INSERT INTO @checkdb
    SELECT @name, NULLIF(CONVERT(DATETIME, MAX(Value)), '1900-01-01')
    FROM @info WHERE Field = 'dbi_dbccLastKnownGood';
    FETCH NEXT FROM dbs INTO @name;
END
CLOSE dbs; DEALLOCATE dbs;
SELECT
    ISNULL(MAX(DATEDIFF(HOUR, last_checkdb, GETDATE()) / 24.0), 9999) AS days_since_checkdb,
    (SELECT ISNULL(MIN(DATEDIFF(HOUR, sh.run_time, GETDATE()) / 24.0), 9999)
     FROM (SELECT MAX(msdb.dbo.agent_datetime(h.run_date, h.run_time)) AS run_time
           FROM msdb.dbo.sysjobhistory h
           JOIN msdb.dbo.sysjobs j ON j.job_id = h.job_id
           WHERE h.run_status = 1 AND h.step_id = 0
             AND (j.name LIKE '%index%' OR j.name LIKE '%reorg%' OR j.name LIKE '%rebuild%')) sh
     WHERE sh.run_time IS NOT NULL) AS days_since_index_maint,
    (SELECT COUNT(*)
     FROM sys.stats st
     CROSS APPLY sys.dm_db_stats_properties(st.object_id, st.stats_id) sp
     WHERE sp.last_updated < DATEADD(DAY, -7, GETDATE())
       AND sp.modification_counter > 1000) AS outdated_stats,
    (SELECT COUNT(DISTINCT j.job_id)
     FROM msdb.dbo.sysjobhistory h
     JOIN msdb.dbo.sysjobs j ON j.job_id = h.job_id
     WHERE h.run_status = 0 AND h.step_id = 0
       AND msdb.dbo.agent_datetime(h.run_date, h.run_time) > DATEADD(HOUR, -24, GETDATE())) AS failed_jobs
FROM @checkdb`
}

// Collect 采集单实例维护状态
func (c *MaintenanceCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var checkdb, indexMaint sql.NullFloat64
	var outdatedStats, failedJobs sql.NullInt64

	row := conn.QueryRowContext(ctx, query)
	if err := row.Scan(&checkdb, &indexMaint, &outdatedStats, &failedJobs); err != nil {
		return nil, fmt.Errorf("collect maintenance state: %w", err)
	}

	return &MaintenanceResult{
		DaysSinceCheckDB:    checkdb.Float64,
		DaysSinceIndexMaint: indexMaint.Float64,
		OutdatedStatsCount:  int(outdatedStats.Int64),
		FailedJobs24H:       int(failedJobs.Int64),
	}, nil
}

// Score 基础分取CHECKDB陈旧度，失败作业与陈旧统计作扣分项
func (c *MaintenanceCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*MaintenanceResult)

	score := scoring.EvaluateScore(r.DaysSinceCheckDB, rules, "days_since_checkdb")
	score = scoring.ApplyPenalties(score, float64(r.FailedJobs24H), rules, "failed_jobs")
	score = scoring.ApplyPenalties(score, float64(r.OutdatedStatsCount), rules, "outdated_stats")
	return score
}

// Persist 写入快照行
func (c *MaintenanceCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*MaintenanceResult)
	return db.Create(&model.MaintenanceSnapshot{
		SnapshotBase:        snapshotBase(target, score),
		DaysSinceCheckDB:    r.DaysSinceCheckDB,
		DaysSinceIndexMaint: r.DaysSinceIndexMaint,
		OutdatedStatsCount:  r.OutdatedStatsCount,
		FailedJobs24H:       r.FailedJobs24H,
	}).Error
}

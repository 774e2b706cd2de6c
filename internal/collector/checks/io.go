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

// IOCheck 存储延迟检查：文件级IO延迟与挂起IO
type IOCheck struct{}

// IOResult IO采集结果
type IOResult struct {
	AvgReadLatencyMS  float64
	AvgWriteLatencyMS float64
	PendingIORequests int
	WorstDatabase     string
	WorstLatencyMS    float64
}

// Name 检查项名称
func (c *IOCheck) Name() string { return model.CollectorIO }

// DefaultQuery 内置查询：虚拟文件统计聚合 + 最差库
func (c *IOCheck) DefaultQuery(majorVersion int) string {
	return `
WITH io AS (
    SELECT DB_NAME(vfs.database_id) AS database_name,
        SUM(vfs.io_stall_read_ms) * 1.0 / NULLIF(SUM(vfs.num_of_reads), 0) AS read_latency_ms,
        SUM(vfs.io_stall_write_ms) * 1.0 / NULLIF(SUM(vfs.num_of_writes), 0) AS write_latency_ms
    FROM sys.dm_io_virtual_file_stats(NULL, NULL) vfs
    GROUP BY vfs.database_id
)
SELECT
    (SELECT AVG(read_latency_ms) FROM io) AS avg_read_ms,
    (SELECT AVG(write_latency_ms) FROM io) AS avg_write_ms,
    (SELECT COUNT(*) FROM sys.dm_io_pending_io_requests) AS pending_io,
    w.database_name AS worst_database,
    w.worst_ms
FROM (
    SELECT TOP 1 database_name,
        CASE WHEN ISNULL(read_latency_ms, 0) > ISNULL(write_latency_ms, 0)
            THEN ISNULL(read_latency_ms, 0) ELSE ISNULL(write_latency_ms, 0) END AS worst_ms
    FROM io
    ORDER BY 2 DESC
) w`
}

// Collect 采集单实例IO指标
func (c *IOCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var readMS, writeMS, worstMS sql.NullFloat64
	var pending sql.NullInt64
	var worstDB sql.NullString

	row := conn.QueryRowContext(ctx, query)
	if err := row.Scan(&readMS, &writeMS, &pending, &worstDB, &worstMS); err != nil {
		return nil, fmt.Errorf("collect io metrics: %w", err)
	}

	return &IOResult{
		AvgReadLatencyMS:  readMS.Float64,
		AvgWriteLatencyMS: writeMS.Float64,
		PendingIORequests: int(pending.Int64),
		WorstDatabase:     worstDB.String,
		WorstLatencyMS:    worstMS.Float64,
	}, nil
}

// Score 以最差文件延迟评分，挂起IO追加惩罚
func (c *IOCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*IOResult)

	score := scoring.EvaluateScore(r.WorstLatencyMS, rules, "avg_latency_ms")
	score = scoring.ApplyCaps(score, r.WorstLatencyMS, rules, "avg_latency_ms")
	score = scoring.ApplyPenalties(score, float64(r.PendingIORequests), rules, "pending_io")
	return score
}

// Persist 写入快照行
func (c *IOCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*IOResult)
	return db.Create(&model.IOSnapshot{
		SnapshotBase:      snapshotBase(target, score),
		AvgReadLatencyMS:  r.AvgReadLatencyMS,
		AvgWriteLatencyMS: r.AvgWriteLatencyMS,
		PendingIORequests: r.PendingIORequests,
		WorstDatabase:     r.WorstDatabase,
		WorstLatencyMS:    r.WorstLatencyMS,
	}).Error
}

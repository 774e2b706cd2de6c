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

// TempDBCheck TempDB检查：文件配置、分配争用、写延迟与剩余空间
type TempDBCheck struct{}

// TempDBResult TempDB采集结果
type TempDBResult struct {
	DataFileCount     int
	EqualFileSizes    bool
	ContentionWaitMS  float64
	AvgWriteLatencyMS float64
	FreeSpacePct      float64
}

// Name 检查项名称
func (c *TempDBCheck) Name() string { return model.CollectorTempDB }

// DefaultQuery 内置查询：文件布局、PAGELATCH争用与虚拟文件统计
func (c *TempDBCheck) DefaultQuery(majorVersion int) string {
	return `
SELECT
    (SELECT COUNT(*) FROM tempdb.sys.database_files WHERE type = 0) AS data_file_count,
    (SELECT CASE WHEN COUNT(DISTINCT size) <= 1 THEN 1 ELSE 0 END
     FROM tempdb.sys.database_files WHERE type = 0) AS equal_file_sizes,
    ISNULL((SELECT SUM(wait_time_ms)
            FROM sys.dm_os_wait_stats
            WHERE wait_type IN ('PAGELATCH_UP', 'PAGELATCH_EX', 'PAGELATCH_SH')), 0) AS contention_wait_ms,
    ISNULL((SELECT SUM(io_stall_write_ms) * 1.0 / NULLIF(SUM(num_of_writes), 0)
            FROM sys.dm_io_virtual_file_stats(2, NULL) fs
            JOIN tempdb.sys.database_files df ON df.file_id = fs.file_id
            WHERE df.type = 0), 0) AS avg_write_latency_ms,
    ISNULL((SELECT SUM(unallocated_extent_page_count) * 100.0 / NULLIF(SUM(total_page_count), 0)
            FROM tempdb.sys.dm_db_file_space_usage), 0) AS free_space_pct`
}

// Collect 采集单实例TempDB状态
func (c *TempDBCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var fileCount, equalSizes sql.NullInt64
	var contention, writeLatency, freePct sql.NullFloat64

	row := conn.QueryRowContext(ctx, query)
	if err := row.Scan(&fileCount, &equalSizes, &contention, &writeLatency, &freePct); err != nil {
		return nil, fmt.Errorf("collect tempdb state: %w", err)
	}

	return &TempDBResult{
		DataFileCount:     int(fileCount.Int64),
		EqualFileSizes:    equalSizes.Int64 == 1,
		ContentionWaitMS:  contention.Float64,
		AvgWriteLatencyMS: writeLatency.Float64,
		FreeSpacePct:      freePct.Float64,
	}, nil
}

// configScore 文件配置子分，满分20
func (c *TempDBCheck) configScore(r *TempDBResult) int {
	switch {
	case r.EqualFileSizes && r.DataFileCount >= 4:
		return 20
	case r.DataFileCount >= 4:
		return 15
	case r.EqualFileSizes && r.DataFileCount > 1:
		return 10
	default:
		return 5
	}
}

// contentionScore 分配争用子分，满分40
func (c *TempDBCheck) contentionScore(r *TempDBResult) int {
	switch {
	case r.ContentionWaitMS == 0:
		return 40
	case r.ContentionWaitMS < 100:
		return 30
	case r.ContentionWaitMS < 500:
		return 15
	default:
		return 0
	}
}

// latencyScore 写延迟子分，满分30
func (c *TempDBCheck) latencyScore(r *TempDBResult) int {
	switch {
	case r.AvgWriteLatencyMS <= 20:
		return 30
	case r.AvgWriteLatencyMS <= 50:
		return 20
	case r.AvgWriteLatencyMS <= 100:
		return 10
	default:
		return 0
	}
}

// freeSpaceScore 剩余空间子分，满分10
func (c *TempDBCheck) freeSpaceScore(r *TempDBResult) int {
	switch {
	case r.FreeSpacePct >= 20:
		return 10
	case r.FreeSpacePct >= 10:
		return 5
	default:
		return 0
	}
}

// Score 四个子分求和后截断到[0,100]
func (c *TempDBCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*TempDBResult)
	return scoring.Clamp(c.configScore(r) + c.contentionScore(r) + c.latencyScore(r) + c.freeSpaceScore(r))
}

// Persist 写入快照行，子分落库便于排查
func (c *TempDBCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*TempDBResult)
	return db.Create(&model.TempDBSnapshot{
		SnapshotBase:      snapshotBase(target, score),
		DataFileCount:     r.DataFileCount,
		EqualFileSizes:    r.EqualFileSizes,
		ContentionWaitMS:  r.ContentionWaitMS,
		AvgWriteLatencyMS: r.AvgWriteLatencyMS,
		FreeSpacePct:      r.FreeSpacePct,
		ConfigScore:       c.configScore(r),
		ContentionScore:   c.contentionScore(r),
		LatencyScore:      c.latencyScore(r),
		FreeSpaceScore:    c.freeSpaceScore(r),
	}).Error
}

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

// DisksCheck 卷空间检查：物理剩余与"真实剩余"（物理剩余+可增长文件内可回收空间）
type DisksCheck struct{}

// VolumeInfo 单卷信息
type VolumeInfo struct {
	MountPoint       string
	FreePct          float64
	RealFreePct      float64
	HasGrowableFiles bool
}

// DisksResult 磁盘采集结果
type DisksResult struct {
	Volumes []VolumeInfo
}

// Name 检查项名称
func (c *DisksCheck) Name() string { return model.CollectorDisks }

// DefaultQuery 内置查询：卷统计 + 文件可增长空间归集
// sys.dm_os_volume_stats 要求 2008R2 以上；更旧版本退化为仅文件视角
func (c *DisksCheck) DefaultQuery(majorVersion int) string {
	if majorVersion < 11 {
		return `
SELECT LEFT(mf.physical_name, 3) AS mount_point,
    CAST(100.0 AS float) AS free_pct,
    CAST(100.0 AS float) AS real_free_pct,
    CAST(MAX(CASE WHEN mf.growth > 0 THEN 1 ELSE 0 END) AS bit) AS has_growable
FROM sys.master_files mf
GROUP BY LEFT(mf.physical_name, 3)`
	}
	return `
SELECT vs.volume_mount_point AS mount_point,
    CAST(MIN(vs.available_bytes) * 100.0 / NULLIF(MIN(vs.total_bytes), 0) AS float) AS free_pct,
    CAST((MIN(vs.available_bytes)
        + SUM(CASE WHEN mf.growth > 0 AND mf.max_size > 0
              THEN CAST(mf.max_size - mf.size AS bigint) * 8192
              ELSE 0 END)) * 100.0 / NULLIF(MIN(vs.total_bytes), 0) AS float) AS real_free_pct,
    CAST(MAX(CASE WHEN mf.growth > 0 THEN 1 ELSE 0 END) AS bit) AS has_growable
FROM sys.master_files mf
CROSS APPLY sys.dm_os_volume_stats(mf.database_id, mf.file_id) vs
GROUP BY vs.volume_mount_point`
}

// Collect 采集全部卷信息
func (c *DisksCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("collect volume stats: %w", err)
	}
	defer rows.Close()

	res := &DisksResult{}
	for rows.Next() {
		var mount sql.NullString
		var freePct, realFreePct sql.NullFloat64
		var hasGrowable sql.NullBool
		if err := rows.Scan(&mount, &freePct, &realFreePct, &hasGrowable); err != nil {
			return nil, fmt.Errorf("scan volume row: %w", err)
		}
		res.Volumes = append(res.Volumes, VolumeInfo{
			MountPoint:       mount.String,
			FreePct:          freePct.Float64,
			RealFreePct:      realFreePct.Float64,
			HasGrowableFiles: hasGrowable.Bool,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate volume rows: %w", err)
	}
	return res, nil
}

// Score 以最差卷剩余百分比评分
// 仅当卷上存在可增长文件且真实剩余≤10%时触发完整告警；否则低剩余卷加分回补而非扣分
func (c *DisksCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*DisksResult)
	if len(r.Volumes) == 0 {
		return 100
	}

	worst := r.Volumes[0]
	for _, v := range r.Volumes[1:] {
		if v.FreePct < worst.FreePct {
			worst = v
		}
	}

	score := scoring.EvaluateScore(worst.FreePct, rules, "free_pct")
	if worst.FreePct < 10 && !volumeAlerted(worst) {
		// 低剩余但文件不可再增长：空间耗尽不会发生，回补而非告警
		score = scoring.Clamp(score + 30)
	}
	return score
}

// volumeAlerted 卷是否构成真实告警：存在可增长文件且真实剩余≤10%
func volumeAlerted(v VolumeInfo) bool {
	return v.HasGrowableFiles && v.RealFreePct <= 10
}

// Persist 写入快照行
func (c *DisksCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*DisksResult)

	snap := &model.DiskSnapshot{
		SnapshotBase: snapshotBase(target, score),
		VolumeCount:  len(r.Volumes),
	}
	for i, v := range r.Volumes {
		if i == 0 || v.FreePct < snap.WorstFreePct {
			snap.WorstVolume = v.MountPoint
			snap.WorstFreePct = v.FreePct
			snap.WorstRealFreePct = v.RealFreePct
		}
		if volumeAlerted(v) {
			snap.AlertedVolumes++
		}
	}
	return db.Create(snap).Error
}

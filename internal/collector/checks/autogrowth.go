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

// AutogrowthCheck 自动增长检查：增长风暴、接近上限与无法增长的文件
type AutogrowthCheck struct{}

// AutogrowthResult 自动增长采集结果
type AutogrowthResult struct {
	GrowthEvents24H    int
	FilesNearMaxSize   int
	PercentGrowthFiles int
	FilesCannotGrow    int
}

// Name 检查项名称
func (c *AutogrowthCheck) Name() string { return model.CollectorAutogrowth }

// DefaultQuery 内置查询：默认跟踪中的增长事件 + 文件增长配置
func (c *AutogrowthCheck) DefaultQuery(majorVersion int) string {
	return `
DECLARE @trace NVARCHAR(520);
SELECT @trace = REVERSE(SUBSTRING(REVERSE(path), CHARINDEX('\', REVERSE(path)), 520)) + 'log.trc'
FROM sys.traces WHERE is_default = 1;
SELECT
    ISNULL((SELECT COUNT(*)
            FROM sys.fn_trace_gettable(@trace, DEFAULT)
            WHERE EventClass IN (92, 93)
              AND StartTime > DATEADD(HOUR, -24, GETDATE())), 0) AS growth_events,
    (SELECT COUNT(*)
     FROM sys.master_files
     WHERE max_size > 0
       AND size * 100.0 / max_size > 90) AS files_near_max,
    (SELECT COUNT(*)
     FROM sys.master_files
     WHERE is_percent_growth = 1 AND growth > 0) AS percent_growth_files,
    (SELECT COUNT(*)
     FROM sys.master_files
     WHERE growth = 0
        OR (max_size > 0 AND size >= max_size)) AS files_cannot_grow`
}

// Collect 采集单实例自动增长状态
func (c *AutogrowthCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var growthEvents, nearMax, percentGrowth, cannotGrow sql.NullInt64

	row := conn.QueryRowContext(ctx, query)
	if err := row.Scan(&growthEvents, &nearMax, &percentGrowth, &cannotGrow); err != nil {
		return nil, fmt.Errorf("collect autogrowth state: %w", err)
	}

	return &AutogrowthResult{
		GrowthEvents24H:    int(growthEvents.Int64),
		FilesNearMaxSize:   int(nearMax.Int64),
		PercentGrowthFiles: int(percentGrowth.Int64),
		FilesCannotGrow:    int(cannotGrow.Int64),
	}, nil
}

// Score 增长事件计基础分；无法增长的文件施加封顶；接近上限与百分比增长作扣分
func (c *AutogrowthCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*AutogrowthResult)

	score := scoring.EvaluateScore(float64(r.GrowthEvents24H), rules, "growth_events")
	score = scoring.ApplyCaps(score, float64(r.FilesCannotGrow), rules, "files_cannot_grow")
	if r.FilesNearMaxSize > 0 {
		score = scoring.Clamp(score - 10*r.FilesNearMaxSize)
	}
	if r.PercentGrowthFiles > 0 {
		score = scoring.Clamp(score - 5)
	}
	return score
}

// Persist 写入快照行
func (c *AutogrowthCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*AutogrowthResult)
	return db.Create(&model.AutogrowthSnapshot{
		SnapshotBase:       snapshotBase(target, score),
		GrowthEvents24H:    r.GrowthEvents24H,
		FilesNearMaxSize:   r.FilesNearMaxSize,
		PercentGrowthFiles: r.PercentGrowthFiles,
		FilesCannotGrow:    r.FilesCannotGrow,
	}).Error
}

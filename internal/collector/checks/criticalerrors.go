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

// CriticalErrorsCheck 严重错误检查：错误日志中严重级别20+与损坏类错误
type CriticalErrorsCheck struct{}

// CriticalErrorsResult 严重错误采集结果
type CriticalErrorsResult struct {
	Severity20PlusCount int
	CorruptionErrors    int
	LastErrorMessage    string
}

// Name 检查项名称
func (c *CriticalErrorsCheck) Name() string { return model.CollectorCriticalErrors }

// DefaultQuery 内置查询：最近24小时错误日志扫描
func (c *CriticalErrorsCheck) DefaultQuery(majorVersion int) string {
	return `
DECLARE @since DATETIME = DATEADD(HOUR, -24, GETDATE());
DECLARE @errlog TABLE (log_date DATETIME, process_info NVARCHAR(64), error_text NVARCHAR(MAX));
INSERT INTO @errlog EXEC sys.xp_readerrorlog 0, 1, N'Severity: 2', NULL, @since;
DECLARE @corruption TABLE (log_date DATETIME, process_info NVARCHAR(64), error_text NVARCHAR(MAX));
INSERT INTO @corruption EXEC sys.xp_readerrorlog 0, 1, N'Error: 82', NULL, @since;
SELECT
    (SELECT COUNT(*) FROM @errlog) AS severity20_count,
    (SELECT COUNT(*) FROM @corruption
     WHERE error_text LIKE '%Error: 823%'
        OR error_text LIKE '%Error: 824%'
        OR error_text LIKE '%Error: 825%') AS corruption_errors,
    ISNULL((SELECT TOP 1 error_text FROM @errlog ORDER BY log_date DESC), '') AS last_error`
}

// Collect 采集单实例严重错误
func (c *CriticalErrorsCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (collector.Result, error) {
	var severity, corruption sql.NullInt64
	var lastErr sql.NullString

	row := conn.QueryRowContext(ctx, query)
	if err := row.Scan(&severity, &corruption, &lastErr); err != nil {
		return nil, fmt.Errorf("collect critical errors: %w", err)
	}

	return &CriticalErrorsResult{
		Severity20PlusCount: int(severity.Int64),
		CorruptionErrors:    int(corruption.Int64),
		LastErrorMessage:    lastErr.String,
	}, nil
}

// Score 损坏类错误一票否决记0；其余按严重级别20+条数评分
func (c *CriticalErrorsCheck) Score(result collector.Result, rules []model.ThresholdRule) int {
	r := result.(*CriticalErrorsResult)

	if r.CorruptionErrors > 0 {
		return 0
	}
	return scoring.EvaluateScore(float64(r.Severity20PlusCount), rules, "severity20_count")
}

// Persist 写入快照行
func (c *CriticalErrorsCheck) Persist(db *gorm.DB, target *inventory.Target, result collector.Result, score int) error {
	r := result.(*CriticalErrorsResult)
	return db.Create(&model.CriticalErrorSnapshot{
		SnapshotBase:        snapshotBase(target, score),
		Severity20PlusCount: r.Severity20PlusCount,
		CorruptionErrors:    r.CorruptionErrors,
		LastErrorMessage:    r.LastErrorMessage,
	}).Error
}

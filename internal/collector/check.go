package collector

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

// Result 单实例采集结果（各检查项自定义具体类型）
type Result interface{}

// Check 健康检查项：13个类别各实现一份
// 运行骨架（锁、日志、并发、计数）由Runner统一承担，检查项只提供差异部分
type Check interface {
	// Name 检查项名称，与collector_configs.name对应
	Name() string
	// DefaultQuery 内置诊断查询（按目标SQL大版本返回变体），库内未配置时使用
	DefaultQuery(majorVersion int) string
	// Collect 对单实例执行查询并产出类型化结果
	Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (Result, error)
	// Score 按阈值规则与检查项自有公式计算0-100分
	Score(result Result, rules []model.ThresholdRule) int
	// Persist 写入一行快照
	Persist(db *gorm.DB, target *inventory.Target, result Result, score int) error
}

// PostProcessor 可选的采集后处理（跨实例对账，如AlwaysOn副本数据同步）
type PostProcessor interface {
	PostProcess(ctx context.Context, db *gorm.DB) error
}

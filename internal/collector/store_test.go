package collector

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

// testDB 打开每个测试独立的内存库并迁移采集相关表
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.CollectorConfig{},
		&model.ThresholdRule{},
		&model.VersionedQuery{},
		&model.CheckException{},
		&model.ExecutionLog{},
	))
	return db
}

func TestGetConfigMissingReturnsNil(t *testing.T) {
	store := NewStore(testDB(t))

	cfg, err := store.GetConfig("nonexistent")
	assert.NoError(t, err)
	assert.Nil(t, cfg, "缺失配置应返回nil而非错误")
}

func TestSelectQueryVersionRange(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)

	require.NoError(t, db.Create(&model.VersionedQuery{
		Collector: model.CollectorCPU, MinVersion: 11, MaxVersion: 13,
		Priority: 10, QueryText: "modern", Active: true,
	}).Error)
	require.NoError(t, db.Create(&model.VersionedQuery{
		Collector: model.CollectorCPU, MinVersion: 9, MaxVersion: 10,
		Priority: 10, QueryText: "legacy", Active: true,
	}).Error)

	q, err := store.SelectQuery(model.CollectorCPU, 12)
	require.NoError(t, err)
	assert.Equal(t, "modern", q)

	q, err = store.SelectQuery(model.CollectorCPU, 10)
	require.NoError(t, err)
	assert.Equal(t, "legacy", q)

	// 区间外版本无匹配，返回空串由内置查询兜底
	q, err = store.SelectQuery(model.CollectorCPU, 16)
	require.NoError(t, err)
	assert.Equal(t, "", q)
}

func TestSelectQueryLowestPriorityWins(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)

	require.NoError(t, db.Create(&model.VersionedQuery{
		Collector: model.CollectorMemory, MinVersion: 11, MaxVersion: 16,
		Priority: 20, QueryText: "fallback", Active: true,
	}).Error)
	require.NoError(t, db.Create(&model.VersionedQuery{
		Collector: model.CollectorMemory, MinVersion: 13, MaxVersion: 16,
		Priority: 5, QueryText: "specialized", Active: true,
	}).Error)
	// 停用行即使priority更低也不参与选取
	require.NoError(t, db.Create(&model.VersionedQuery{
		Collector: model.CollectorMemory, MinVersion: 13, MaxVersion: 16,
		Priority: 1, QueryText: "disabled", Active: false,
	}).Error)

	q, err := store.SelectQuery(model.CollectorMemory, 15)
	require.NoError(t, err)
	assert.Equal(t, "specialized", q)

	q, err = store.SelectQuery(model.CollectorMemory, 12)
	require.NoError(t, err)
	assert.Equal(t, "fallback", q)
}

func TestActiveRulesFiltersAndOrders(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)

	require.NoError(t, db.Create(&model.ThresholdRule{
		Collector: model.CollectorDisks, RuleGroup: "free_pct", Operator: "<",
		Threshold: 10, Value: 40, Action: model.ActionScore, EvalOrder: 2, Active: true,
	}).Error)
	require.NoError(t, db.Create(&model.ThresholdRule{
		Collector: model.CollectorDisks, RuleGroup: "free_pct", Operator: "<",
		Threshold: 5, Value: 0, Action: model.ActionScore, EvalOrder: 1, Active: true,
	}).Error)
	require.NoError(t, db.Create(&model.ThresholdRule{
		Collector: model.CollectorDisks, RuleGroup: "free_pct", Operator: "<",
		Threshold: 20, Value: 70, Action: model.ActionScore, EvalOrder: 3, Active: false,
	}).Error)
	require.NoError(t, db.Create(&model.ThresholdRule{
		Collector: model.CollectorCPU, RuleGroup: "sql_cpu_pct", Operator: ">=",
		Threshold: 95, Value: 20, Action: model.ActionScore, EvalOrder: 1, Active: true,
	}).Error)

	rules, err := store.ActiveRules(model.CollectorDisks)
	require.NoError(t, err)
	require.Len(t, rules, 2, "停用规则与其他采集器规则应被剔除")
	assert.Equal(t, 1, rules[0].EvalOrder)
	assert.Equal(t, 2, rules[1].EvalOrder)
}

func TestExecutionLogLifecycle(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)

	start := time.Now()
	entry, err := store.StartExecutionLog(model.CollectorBackups, start)
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)
	assert.Equal(t, model.ExecutionStatusRunning, entry.Status)

	entry.Status = model.ExecutionStatusSuccess
	entry.EndTime = start.Add(3 * time.Second)
	entry.DurationMS = 3000
	entry.TotalInstances = 12
	entry.SuccessCount = 10
	entry.ErrorCount = 1
	entry.SkippedCount = 1
	require.NoError(t, store.CompleteExecutionLog(entry))

	logs, err := store.ListExecutionLogs(model.CollectorBackups, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ExecutionStatusSuccess, logs[0].Status)
	assert.Equal(t, 10, logs[0].SuccessCount)
	assert.Equal(t, 1, logs[0].SkippedCount)
}

func TestSeedDefaults(t *testing.T) {
	db := testDB(t)

	require.NoError(t, SeedDefaults(db))

	var configCount int64
	require.NoError(t, db.Model(&model.CollectorConfig{}).Count(&configCount).Error)
	assert.Equal(t, int64(len(model.AllCollectors)), configCount)

	cfg := model.CollectorConfig{}
	require.NoError(t, db.Where("name = ?", model.CollectorCPU).First(&cfg).Error)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 300, cfg.IntervalSeconds)

	var ruleCount int64
	require.NoError(t, db.Model(&model.ThresholdRule{}).
		Where("collector = ?", model.CollectorDisks).Count(&ruleCount).Error)
	assert.Equal(t, int64(3), ruleCount)

	// 管理端修改后重复播种不得覆盖
	require.NoError(t, db.Model(&model.CollectorConfig{}).
		Where("name = ?", model.CollectorCPU).
		Update("interval_seconds", 120).Error)
	require.NoError(t, db.Where("collector = ?", model.CollectorDisks).
		Delete(&model.ThresholdRule{}, "rule_group = ?", "free_pct").Error)
	require.NoError(t, db.Create(&model.ThresholdRule{
		Collector: model.CollectorDisks, RuleGroup: "free_pct", Operator: "<",
		Threshold: 15, Value: 50, Action: model.ActionScore, EvalOrder: 1, Active: true,
	}).Error)

	require.NoError(t, SeedDefaults(db))

	require.NoError(t, db.Where("name = ?", model.CollectorCPU).First(&cfg).Error)
	assert.Equal(t, 120, cfg.IntervalSeconds, "重复播种不应覆盖已有配置")

	require.NoError(t, db.Model(&model.ThresholdRule{}).
		Where("collector = ?", model.CollectorDisks).Count(&ruleCount).Error)
	assert.Equal(t, int64(1), ruleCount, "已有规则集不应被默认规则覆盖")
}

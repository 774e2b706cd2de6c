package consolidator

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

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
		&model.CPUSnapshot{},
		&model.MemorySnapshot{},
		&model.IOSnapshot{},
		&model.DiskSnapshot{},
		&model.BackupSnapshot{},
		&model.AlwaysOnSnapshot{},
		&model.LogChainSnapshot{},
		&model.DatabaseStateSnapshot{},
		&model.CriticalErrorSnapshot{},
		&model.MaintenanceSnapshot{},
		&model.TempDBSnapshot{},
		&model.AutogrowthSnapshot{},
		&model.HealthScore{},
	))
	return db
}

// allHealthy 全类别满分的基线
func allHealthy() map[string]int {
	scores := make(map[string]int)
	for category := range categoryWeights {
		scores[category] = 100
	}
	return scores
}

func TestWeightsSumToHundred(t *testing.T) {
	sum := 0
	for _, w := range categoryWeights {
		sum += w
	}
	assert.Equal(t, 100, sum, "十二个类别权重合计必须恰为100")
	assert.Len(t, categoryWeights, 12)
}

func TestWeightedTotalAllHealthy(t *testing.T) {
	final, contributions := WeightedTotal(allHealthy())
	assert.Equal(t, 100, final)
	assert.InDelta(t, 18.0, contributions[model.CollectorBackups], 0.001)
	assert.InDelta(t, 3.0, contributions[model.CollectorDatabaseStates], 0.001)
}

func TestPropagateAutogrowthScalesDisksAndIO(t *testing.T) {
	scores := allHealthy()
	scores[model.CollectorAutogrowth] = 30
	scores[model.CollectorDisks] = 100
	scores[model.CollectorIO] = 80

	adjusted := Propagate(scores)

	// 因子 0.7 + 0.3*0.30 = 0.79
	assert.Equal(t, 79, adjusted[model.CollectorDisks])
	assert.Equal(t, 63, adjusted[model.CollectorIO], "80*0.79=63.2四舍五入")
	// 其余类别不受影响
	assert.Equal(t, 100, adjusted[model.CollectorBackups])

	// 自动增长50及以上不触发
	scores[model.CollectorAutogrowth] = 50
	adjusted = Propagate(scores)
	assert.Equal(t, 100, adjusted[model.CollectorDisks])
}

func TestPropagateLogChainCapsBackups(t *testing.T) {
	scores := allHealthy()
	scores[model.CollectorLogChain] = 40

	adjusted := Propagate(scores)
	assert.Equal(t, 60, adjusted[model.CollectorBackups], "日志链恶化时备份分封顶60")

	// 备份分本就低于60时不抬高
	scores[model.CollectorBackups] = 30
	adjusted = Propagate(scores)
	assert.Equal(t, 30, adjusted[model.CollectorBackups])
}

func TestPropagateCatastrophicDatabaseStates(t *testing.T) {
	scores := allHealthy()
	scores[model.CollectorDatabaseStates] = 0

	adjusted := Propagate(scores)
	for category, score := range adjusted {
		if category == model.CollectorDatabaseStates {
			assert.Equal(t, 0, score)
			continue
		}
		assert.LessOrEqual(t, score, 50, "灾难级状态下类别 %s 应被封顶50", category)
	}
}

func TestPropagateOrderLogChainBeforeCatastrophe(t *testing.T) {
	// 日志链先把备份压到60，随后灾难级封顶再压到50
	scores := allHealthy()
	scores[model.CollectorLogChain] = 40
	scores[model.CollectorDatabaseStates] = 10

	adjusted := Propagate(scores)
	assert.Equal(t, 50, adjusted[model.CollectorBackups])
}

func TestPropagateDoesNotMutateInput(t *testing.T) {
	scores := allHealthy()
	scores[model.CollectorAutogrowth] = 30

	_ = Propagate(scores)
	assert.Equal(t, 100, scores[model.CollectorDisks], "联动调整不得修改输入")
}

func TestConsolidateTargetTimeSeries(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	target := &inventory.Target{Name: "sqlprod01", Environment: "production", HostingSite: "dc1"}
	c := New(config.ConsolidatorConfig{FreshnessWindow: time.Hour}, config.InventoryConfig{}, db, nil, nil)

	base := model.SnapshotBase{
		InstanceName: "sqlprod01",
		Environment:  "production",
		HostingSite:  "dc1",
		CollectedAt:  now.Add(-5 * time.Minute),
	}

	// 新鲜的备份快照40分；CPU有一条超窗旧快照，应回落到兜底分而非0
	fresh := base
	fresh.Score = 40
	require.NoError(t, db.Create(&model.BackupSnapshot{SnapshotBase: fresh}).Error)

	stale := base
	stale.Score = 10
	stale.CollectedAt = now.Add(-3 * time.Hour)
	require.NoError(t, db.Create(&model.CPUSnapshot{SnapshotBase: stale}).Error)

	record, err := c.ConsolidateTarget(target, now)
	require.NoError(t, err)
	assert.Equal(t, 40, record.BackupsScore)
	assert.Equal(t, staleCategoryScore, record.CPUScore, "超窗快照应回落到类别兜底分")
	// 仅备份类别失分：100 - 18*(1-0.40) = 89.2 ≈ 89
	assert.Equal(t, 89, record.FinalScore)
	assert.Equal(t, model.HealthStatusHealthy, record.Status)

	contributions := map[string]float64{}
	require.NoError(t, json.Unmarshal([]byte(record.Contributions), &contributions))
	assert.InDelta(t, 7.2, contributions[model.CollectorBackups], 0.001)

	// 再跑一轮追加新行而非覆盖（时间序列）
	_, err = c.ConsolidateTarget(target, now.Add(time.Minute))
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&model.HealthScore{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestConsolidateTargetSkipsWhenNothingFresh(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	target := &inventory.Target{Name: "sqlprod02"}
	c := New(config.ConsolidatorConfig{FreshnessWindow: time.Hour}, config.InventoryConfig{}, db, nil, nil)

	_, err := c.ConsolidateTarget(target, now)
	assert.ErrorIs(t, err, errNoFreshData)

	var count int64
	require.NoError(t, db.Model(&model.HealthScore{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "无新鲜数据时不应写汇总行")
}

func TestConsolidateTargetPropagationEndToEnd(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	target := &inventory.Target{Name: "sqlprod03"}
	c := New(config.ConsolidatorConfig{FreshnessWindow: time.Hour}, config.InventoryConfig{}, db, nil, nil)

	base := func(score int) model.SnapshotBase {
		return model.SnapshotBase{
			InstanceName: "sqlprod03",
			CollectedAt:  now.Add(-time.Minute),
			Score:        score,
		}
	}

	require.NoError(t, db.Create(&model.AutogrowthSnapshot{SnapshotBase: base(30)}).Error)
	require.NoError(t, db.Create(&model.DiskSnapshot{SnapshotBase: base(100)}).Error)
	require.NoError(t, db.Create(&model.IOSnapshot{SnapshotBase: base(100)}).Error)

	record, err := c.ConsolidateTarget(target, now)
	require.NoError(t, err)
	assert.Equal(t, 79, record.DisksScore, "自动增长30分应使磁盘分缩放到79")
	assert.Equal(t, 79, record.IOScore)
	assert.Equal(t, 30, record.AutogrowthScore)
}

package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
	"github.com/sqlhealthpro/sqlhealthpro/internal/connection"
	"github.com/sqlhealthpro/sqlhealthpro/internal/inventory"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

// fakeCheck 测试用检查项：不依赖真实SQL Server连接
type fakeCheck struct {
	name string
}

func (c *fakeCheck) Name() string                 { return c.name }
func (c *fakeCheck) DefaultQuery(int) string      { return "SELECT 1" }
func (c *fakeCheck) Score(Result, []model.ThresholdRule) int { return 100 }

func (c *fakeCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (Result, error) {
	return struct{}{}, nil
}

func (c *fakeCheck) Persist(db *gorm.DB, target *inventory.Target, result Result, score int) error {
	return nil
}

// blockingPublisher 在发布时阻塞，使运行停在释放单飞锁之前
type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPublisher) PublishRunEvent(event RunEvent) {
	p.entered <- struct{}{}
	<-p.release
}

// fakeConnector 以预设结果代替真实连接工厂
type fakeConnector struct {
	err error
}

func (c *fakeConnector) Connect(ctx context.Context, target *inventory.Target, timeout time.Duration) (*sql.DB, error) {
	if c.err != nil {
		return nil, c.err
	}
	// 句柄只为满足接口，检查项桩不会对其发查询
	return sql.Open("sqlite", ":memory:")
}

// failingCheck 采集阶段固定报错的检查项桩
type failingCheck struct {
	name string
}

func (c *failingCheck) Name() string                          { return c.name }
func (c *failingCheck) DefaultQuery(int) string               { return "SELECT 1" }
func (c *failingCheck) Score(Result, []model.ThresholdRule) int { return 100 }

func (c *failingCheck) Collect(ctx context.Context, conn *sql.DB, target *inventory.Target, query string) (Result, error) {
	return nil, fmt.Errorf("invalid column name 'cntr_value'")
}

func (c *failingCheck) Persist(db *gorm.DB, target *inventory.Target, result Result, score int) error {
	return nil
}

func newTestRunnerWithInventory(t *testing.T, db *gorm.DB, events EventPublisher, connector Connector, targetsJSON string) *Runner {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(targetsJSON))
	}))
	t.Cleanup(srv.Close)

	appCfg := &config.Config{
		Inventory: config.InventoryConfig{
			URL:      srv.URL,
			Timeout:  time.Second,
			CacheTTL: time.Minute,
		},
		SQLServer: config.SQLServerConfig{
			ConnectTimeout: time.Second,
			CommandTimeout: time.Second,
		},
	}

	provider := inventory.NewProvider(appCfg.Inventory)
	return NewRunner(appCfg, NewStore(db), provider, connector, events)
}

func newTestRunner(t *testing.T, db *gorm.DB, events EventPublisher) *Runner {
	t.Helper()

	cfg := config.SQLServerConfig{
		ConnectTimeout: time.Second,
		CommandTimeout: time.Second,
	}
	factory := connection.NewFactory(cfg, connection.NewConfigSecretResolver(nil))
	return newTestRunnerWithInventory(t, db, events, factory, "[]")
}

func TestExecuteSingleFlight(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&model.CollectorConfig{
		Name: "cpu", Enabled: true, IntervalSeconds: 300, TimeoutSeconds: 5, ParallelDegree: 2,
	}).Error)

	pub := &blockingPublisher{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	runner := newTestRunner(t, db, pub)
	check := &fakeCheck{name: "cpu"}

	done := make(chan bool, 1)
	go func() {
		done <- runner.Execute(context.Background(), check)
	}()

	// 第一轮运行停在事件发布处，单飞锁仍被持有
	<-pub.entered
	assert.True(t, runner.IsRunning("cpu"))

	// 运行期间的并发触发直接丢弃，不排队
	assert.False(t, runner.Execute(context.Background(), check), "运行中触发应被丢弃")

	close(pub.release)
	assert.True(t, <-done)
	assert.False(t, runner.IsRunning("cpu"))

	// 丢弃的触发不产生执行日志行
	var count int64
	require.NoError(t, db.Model(&model.ExecutionLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "被丢弃的触发不应写执行日志")

	// 锁释放后再次触发正常运行
	assert.True(t, runner.Execute(context.Background(), check))
	require.NoError(t, db.Model(&model.ExecutionLog{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestExecuteDisabledCollectorIsNoop(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&model.CollectorConfig{
		Name: "memory", Enabled: false, IntervalSeconds: 300, TimeoutSeconds: 5, ParallelDegree: 2,
	}).Error)

	runner := newTestRunner(t, db, nil)

	assert.True(t, runner.Execute(context.Background(), &fakeCheck{name: "memory"}))

	var count int64
	require.NoError(t, db.Model(&model.ExecutionLog{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "停用采集器不应产生执行日志")
}

func TestExecuteUnconfiguredCollectorIsNoop(t *testing.T) {
	db := testDB(t)
	runner := newTestRunner(t, db, nil)

	assert.True(t, runner.Execute(context.Background(), &fakeCheck{name: "phantom"}))

	var count int64
	require.NoError(t, db.Model(&model.ExecutionLog{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestExecuteRecordsExecutionLog(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&model.CollectorConfig{
		Name: "io", Enabled: true, IntervalSeconds: 300, TimeoutSeconds: 5, ParallelDegree: 4,
	}).Error)

	runner := newTestRunner(t, db, nil)
	require.True(t, runner.Execute(context.Background(), &fakeCheck{name: "io"}))

	var logs []model.ExecutionLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ExecutionStatusSuccess, logs[0].Status)
	assert.Equal(t, 0, logs[0].TotalInstances, "空清单时实例数为0")
	assert.False(t, logs[0].EndTime.IsZero())
}

const singleTargetJSON = `[{"name":"sqlprod01","environment":"prod","hosting_site":"dc1","major_version":15}]`

func TestExecuteKeepsInstanceErrorOnSuccessfulRun(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&model.CollectorConfig{
		Name: "memory", Enabled: true, IntervalSeconds: 300, TimeoutSeconds: 5, ParallelDegree: 2,
	}).Error)

	runner := newTestRunnerWithInventory(t, db, nil, &fakeConnector{}, singleTargetJSON)
	require.True(t, runner.Execute(context.Background(), &failingCheck{name: "memory"}))

	var logs []model.ExecutionLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	// 实例级错误不改变本轮成功状态，但首个错误信息必须落到日志行
	assert.Equal(t, model.ExecutionStatusSuccess, logs[0].Status)
	assert.Equal(t, 1, logs[0].ErrorCount)
	assert.Equal(t, 0, logs[0].SuccessCount)
	assert.Contains(t, logs[0].ErrorMsg, "sqlprod01:", "错误信息应带实例名前缀")
	assert.Contains(t, logs[0].ErrorMsg, "cntr_value")
}

func TestExecuteCountsSecretFailureAsInstanceError(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&model.CollectorConfig{
		Name: "cpu", Enabled: true, IntervalSeconds: 300, TimeoutSeconds: 5, ParallelDegree: 2,
	}).Error)

	connector := &fakeConnector{
		err: fmt.Errorf("%w for sqlprod01: invalid credential pattern", connection.ErrSecretResolution),
	}
	runner := newTestRunnerWithInventory(t, db, nil, connector, singleTargetJSON)
	require.True(t, runner.Execute(context.Background(), &fakeCheck{name: "cpu"}))

	var logs []model.ExecutionLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	// 凭据解析失败是配置错误，不能按目标不可达静默跳过
	assert.Equal(t, 1, logs[0].ErrorCount)
	assert.Equal(t, 0, logs[0].SkippedCount)
	assert.Contains(t, logs[0].ErrorMsg, "secret resolution failed")
}

func TestExecuteCountsUnreachableTargetAsSkipped(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&model.CollectorConfig{
		Name: "cpu", Enabled: true, IntervalSeconds: 300, TimeoutSeconds: 5, ParallelDegree: 2,
	}).Error)

	connector := &fakeConnector{err: errors.New("dial tcp 10.0.0.1:1433: i/o timeout")}
	runner := newTestRunnerWithInventory(t, db, nil, connector, singleTargetJSON)
	require.True(t, runner.Execute(context.Background(), &fakeCheck{name: "cpu"}))

	var logs []model.ExecutionLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].SkippedCount)
	assert.Equal(t, 0, logs[0].ErrorCount)
	assert.Empty(t, logs[0].ErrorMsg, "不可达目标跳过时不记错误信息")
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
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
		&model.WaitsSnapshot{},
		&model.HealthScore{},
	))
	return db
}

func TestArchiveRunOncePrunesExpiredRows(t *testing.T) {
	db := testDB(t)
	baseDir := t.TempDir()

	now := time.Now()
	old := model.SnapshotBase{InstanceName: "sqlprod01", CollectedAt: now.Add(-60 * 24 * time.Hour), Score: 90}
	fresh := model.SnapshotBase{InstanceName: "sqlprod01", CollectedAt: now.Add(-time.Hour), Score: 95}
	require.NoError(t, db.Create(&model.CPUSnapshot{SnapshotBase: old}).Error)
	require.NoError(t, db.Create(&model.CPUSnapshot{SnapshotBase: fresh}).Error)
	require.NoError(t, db.Create(&model.HealthScore{
		InstanceName: "sqlprod01", ComputedAt: now.Add(-60 * 24 * time.Hour),
		FinalScore: 88, Status: model.HealthStatusHealthy,
	}).Error)

	svc := NewArchiveService(config.ArchiveConfig{
		Enabled:        true,
		Interval:       time.Hour,
		Retention:      30 * 24 * time.Hour,
		StorageBackend: "local",
		Prefix:         "sqlhealth",
		Local:          config.LocalArchiveConfig{BaseDir: baseDir},
	}, config.StorageConfig{}, db)

	svc.RunOnce(context.Background())

	// 超期行被清除，窗口内数据保留
	var cpuCount int64
	require.NoError(t, db.Model(&model.CPUSnapshot{}).Count(&cpuCount).Error)
	assert.Equal(t, int64(1), cpuCount, "仅超期快照应被清除")

	var scoreCount int64
	require.NoError(t, db.Model(&model.HealthScore{}).Count(&scoreCount).Error)
	assert.Equal(t, int64(0), scoreCount)

	// 导出文件存在且为有效JSON数组
	matches, err := filepath.Glob(filepath.Join(baseDir, "sqlhealth", "cpu_snapshots", "*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "sqlprod01", rows[0]["instance_name"])
}

func TestArchiveRunOnceNoExpiredRowsWritesNothing(t *testing.T) {
	db := testDB(t)
	baseDir := t.TempDir()

	require.NoError(t, db.Create(&model.CPUSnapshot{SnapshotBase: model.SnapshotBase{
		InstanceName: "sqlprod01", CollectedAt: time.Now(), Score: 100,
	}}).Error)

	svc := NewArchiveService(config.ArchiveConfig{
		Enabled:        true,
		Interval:       time.Hour,
		Retention:      30 * 24 * time.Hour,
		StorageBackend: "local",
		Local:          config.LocalArchiveConfig{BaseDir: baseDir},
	}, config.StorageConfig{}, db)

	svc.RunOnce(context.Background())

	var count int64
	require.NoError(t, db.Model(&model.CPUSnapshot{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	entries, err := os.ReadDir(baseDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "无超期数据时不应产生归档文件")
}

func TestLocalArchiveWriter(t *testing.T) {
	baseDir := t.TempDir()
	w := &localArchiveWriter{cfg: config.ArchiveConfig{
		Prefix: "sqlhealth",
		Local:  config.LocalArchiveConfig{BaseDir: baseDir},
	}}

	obj, err := w.Write(context.Background(), "cpu_snapshots/20260901_000000.json", []byte(`[{"a":1}]`))
	require.NoError(t, err)
	assert.Equal(t, int64(9), obj.Size)
	assert.Contains(t, obj.URI, "cpu_snapshots")
	assert.Contains(t, obj.Checksum, "sha256:")

	_, err = os.Stat(filepath.Join(baseDir, "sqlhealth", "cpu_snapshots", "20260901_000000.json"))
	assert.NoError(t, err)
}

package checks

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

func rule(group, op string, threshold float64, value int, action string, order int) model.ThresholdRule {
	return model.ThresholdRule{
		RuleGroup: group,
		Operator:  op,
		Threshold: threshold,
		Value:     value,
		Action:    action,
		EvalOrder: order,
		Active:    true,
	}
}

func TestAllChecksRegistered(t *testing.T) {
	checks := All()
	assert.Len(t, checks, len(model.AllCollectors), "注册检查项数量应与采集器常量一致")

	seen := make(map[string]bool)
	for _, c := range checks {
		assert.False(t, seen[c.Name()], "检查项重复注册: %s", c.Name())
		seen[c.Name()] = true
	}
	for _, name := range model.AllCollectors {
		assert.True(t, seen[name], "缺少检查项: %s", name)
	}
}

func TestBackupsSLAByWorkloadClass(t *testing.T) {
	// OLTP：全备20小时未超24小时窗口，日志3小时超2小时窗口，违约记0
	res := &BackupsResult{
		WorkloadClass:      "oltp",
		FullBackupAgeHours: 20,
		LogBackupAgeHours:  3,
	}
	evaluateBackupSLA(res, true)
	assert.False(t, res.FullBackupBreached)
	assert.True(t, res.LogBackupBreached)
	assert.Equal(t, 0, (&BackupsCheck{}).Score(res, nil))

	// 相同备份龄在数仓口径下不违约：全备窗口7天，日志不做SLA
	res = &BackupsResult{
		WorkloadClass:      "warehouse",
		FullBackupAgeHours: 20,
		LogBackupAgeHours:  3,
	}
	evaluateBackupSLA(res, true)
	assert.False(t, res.FullBackupBreached)
	assert.False(t, res.LogBackupBreached)
	assert.Equal(t, 100, (&BackupsCheck{}).Score(res, nil))

	// 从未做过全备的库一票否决
	res = &BackupsResult{WorkloadClass: "oltp", DatabasesWithoutFull: 1}
	evaluateBackupSLA(res, false)
	assert.True(t, res.FullBackupBreached)
	assert.Equal(t, 0, (&BackupsCheck{}).Score(res, nil))
}

func TestAlwaysOnScore(t *testing.T) {
	c := &AlwaysOnCheck{}

	// 未启用视为不适用
	assert.Equal(t, 100, c.Score(&AlwaysOnResult{Enabled: false}, nil))

	// 挂起副本一票否决
	assert.Equal(t, 0, c.Score(&AlwaysOnResult{
		Enabled: true, DatabaseCount: 3, SynchronizedCount: 3, SuspendedCount: 1,
	}, nil))

	// 未全同步记50
	assert.Equal(t, 50, c.Score(&AlwaysOnResult{
		Enabled: true, DatabaseCount: 3, SynchronizedCount: 2,
	}, nil))

	// 全同步但发送队列150MB超过100MB告警线，扣30记70
	assert.Equal(t, 70, c.Score(&AlwaysOnResult{
		Enabled: true, DatabaseCount: 3, SynchronizedCount: 3,
		MaxSendQueueKB: 150000,
	}, nil))

	// 发送与重做队列同时超限，叠加扣分记50
	assert.Equal(t, 50, c.Score(&AlwaysOnResult{
		Enabled: true, DatabaseCount: 3, SynchronizedCount: 3,
		MaxSendQueueKB: 150000, MaxRedoQueueKB: 200000,
	}, nil))
}

func TestDatabaseStatesScore(t *testing.T) {
	c := &DatabaseStatesCheck{}

	assert.Equal(t, 0, c.Score(&DatabaseStatesResult{SuspectCount: 1}, nil))
	assert.Equal(t, 0, c.Score(&DatabaseStatesResult{EmergencyCount: 1}, nil))
	assert.Equal(t, 40, c.Score(&DatabaseStatesResult{SuspectPages: 2}, nil))
	assert.Equal(t, 40, c.Score(&DatabaseStatesResult{RecoveryPendingCount: 1}, nil))
	assert.Equal(t, 80, c.Score(&DatabaseStatesResult{RestoringCount: 1}, nil))
	assert.Equal(t, 80, c.Score(&DatabaseStatesResult{SingleUserCount: 1}, nil))

	// OFFLINE视为人为下线，不扣分
	assert.Equal(t, 100, c.Score(&DatabaseStatesResult{OnlineCount: 10, OfflineCount: 1}, nil),
		"仅OFFLINE库不应扣分")
}

func TestTempDBSubScores(t *testing.T) {
	c := &TempDBCheck{}

	// 文件数≥4但大小不等(15) + 无争用(40) + 延迟15ms(30) + 剩余8%(5) = 90
	res := &TempDBResult{
		DataFileCount:     8,
		EqualFileSizes:    false,
		ContentionWaitMS:  0,
		AvgWriteLatencyMS: 15,
		FreeSpacePct:      8,
	}
	assert.Equal(t, 90, c.Score(res, nil))
	assert.Equal(t, 15, c.configScore(res))
	assert.Equal(t, 40, c.contentionScore(res))
	assert.Equal(t, 30, c.latencyScore(res))
	assert.Equal(t, 5, c.freeSpaceScore(res))

	// 理想配置满分
	assert.Equal(t, 100, c.Score(&TempDBResult{
		DataFileCount: 8, EqualFileSizes: true, AvgWriteLatencyMS: 5, FreeSpacePct: 50,
	}, nil))

	// 单文件重争用高延迟耗尽空间
	assert.Equal(t, 5, c.Score(&TempDBResult{
		DataFileCount: 1, ContentionWaitMS: 2000, AvgWriteLatencyMS: 300, FreeSpacePct: 2,
	}, nil))
}

func TestDisksRealFreeCompensation(t *testing.T) {
	c := &DisksCheck{}
	rules := []model.ThresholdRule{
		rule("free_pct", "<", 5, 0, model.ActionScore, 1),
		rule("free_pct", "<", 10, 40, model.ActionScore, 2),
		rule("free_pct", "<", 20, 70, model.ActionScore, 3),
	}

	// 物理剩余8%且文件可增长、真实剩余也告急：维持40
	assert.Equal(t, 40, c.Score(&DisksResult{Volumes: []VolumeInfo{
		{MountPoint: "D:\\", FreePct: 8, RealFreePct: 8, HasGrowableFiles: true},
	}}, rules))

	// 物理剩余8%但文件已达max_size无法再增长：空间不会被耗尽，回补30记70
	assert.Equal(t, 70, c.Score(&DisksResult{Volumes: []VolumeInfo{
		{MountPoint: "D:\\", FreePct: 8, RealFreePct: 8, HasGrowableFiles: false},
	}}, rules))

	// 可增长但真实剩余充足（max_size预留已计入）同样回补
	assert.Equal(t, 70, c.Score(&DisksResult{Volumes: []VolumeInfo{
		{MountPoint: "D:\\", FreePct: 8, RealFreePct: 35, HasGrowableFiles: true},
	}}, rules))

	// 以最差卷评分
	assert.Equal(t, 70, c.Score(&DisksResult{Volumes: []VolumeInfo{
		{MountPoint: "C:\\", FreePct: 50, RealFreePct: 50},
		{MountPoint: "D:\\", FreePct: 15, RealFreePct: 15, HasGrowableFiles: true},
	}}, rules))

	// 无卷信息视为不适用
	assert.Equal(t, 100, c.Score(&DisksResult{}, rules))
}

func TestLogChainScore(t *testing.T) {
	c := &LogChainCheck{}
	rules := []model.ThresholdRule{
		rule("broken_chains", ">=", 1, 0, model.ActionScore, 1),
		rule("oldest_log_hours", ">", 6, -20, model.ActionPenalty, 1),
	}

	// 无FULL恢复模式库不适用
	assert.Equal(t, 100, c.Score(&LogChainResult{}, rules))

	// 断链一票否决
	assert.Equal(t, 0, c.Score(&LogChainResult{FullRecoveryDatabases: 5, BrokenChains: 1}, rules))

	// 链完整但最旧日志备份8小时：扣20
	assert.Equal(t, 80, c.Score(&LogChainResult{
		FullRecoveryDatabases: 5, OldestLogBackupHours: 8,
	}, rules))
}

func TestCriticalErrorsScore(t *testing.T) {
	c := &CriticalErrorsCheck{}
	rules := []model.ThresholdRule{
		rule("severity20_count", ">=", 5, 20, model.ActionScore, 1),
		rule("severity20_count", ">=", 1, 60, model.ActionScore, 2),
	}

	// 损坏类错误一票否决，不看其他规则
	assert.Equal(t, 0, c.Score(&CriticalErrorsResult{CorruptionErrors: 1}, rules))
	assert.Equal(t, 60, c.Score(&CriticalErrorsResult{Severity20PlusCount: 2}, rules))
	assert.Equal(t, 20, c.Score(&CriticalErrorsResult{Severity20PlusCount: 7}, rules))
	assert.Equal(t, 100, c.Score(&CriticalErrorsResult{}, rules))
}

func TestMaintenanceScore(t *testing.T) {
	c := &MaintenanceCheck{}
	rules := []model.ThresholdRule{
		rule("days_since_checkdb", ">", 30, 40, model.ActionScore, 1),
		rule("days_since_checkdb", ">", 14, 70, model.ActionScore, 2),
		rule("failed_jobs", ">", 0, -20, model.ActionPenalty, 1),
		rule("outdated_stats", ">", 50, -10, model.ActionPenalty, 2),
	}

	assert.Equal(t, 100, c.Score(&MaintenanceResult{DaysSinceCheckDB: 3}, rules))
	assert.Equal(t, 70, c.Score(&MaintenanceResult{DaysSinceCheckDB: 20}, rules))
	assert.Equal(t, 40, c.Score(&MaintenanceResult{DaysSinceCheckDB: 45}, rules))

	// CHECKDB 45天 + 失败作业 + 陈旧统计叠加扣分
	assert.Equal(t, 10, c.Score(&MaintenanceResult{
		DaysSinceCheckDB: 45, FailedJobs24H: 2, OutdatedStatsCount: 80,
	}, rules))
}

func TestAutogrowthScore(t *testing.T) {
	c := &AutogrowthCheck{}
	rules := []model.ThresholdRule{
		rule("growth_events", ">=", 20, 20, model.ActionScore, 1),
		rule("growth_events", ">=", 10, 50, model.ActionScore, 2),
		rule("growth_events", ">=", 1, 80, model.ActionScore, 3),
		rule("files_cannot_grow", ">", 0, 40, model.ActionCap, 1),
	}

	assert.Equal(t, 100, c.Score(&AutogrowthResult{}, rules))
	assert.Equal(t, 80, c.Score(&AutogrowthResult{GrowthEvents24H: 3}, rules))
	assert.Equal(t, 50, c.Score(&AutogrowthResult{GrowthEvents24H: 12}, rules))
	assert.Equal(t, 20, c.Score(&AutogrowthResult{GrowthEvents24H: 40}, rules))

	// 无增长事件但存在无法增长的文件：封顶40
	assert.Equal(t, 40, c.Score(&AutogrowthResult{FilesCannotGrow: 1}, rules))

	// 接近上限文件每个扣10，百分比增长配置再扣5
	assert.Equal(t, 65, c.Score(&AutogrowthResult{
		GrowthEvents24H: 3, FilesNearMaxSize: 1, PercentGrowthFiles: 2,
	}, rules))
}

func TestWaitsScore(t *testing.T) {
	c := &WaitsCheck{}
	rules := []model.ThresholdRule{
		rule("signal_wait_pct", ">=", 40, 40, model.ActionScore, 1),
		rule("signal_wait_pct", ">=", 25, 70, model.ActionScore, 2),
		rule("top_wait_pct", ">=", 60, -10, model.ActionPenalty, 1),
	}

	assert.Equal(t, 100, c.Score(&WaitsResult{SignalWaitPct: 10, TopWaitPct: 30}, rules))
	assert.Equal(t, 70, c.Score(&WaitsResult{SignalWaitPct: 30, TopWaitPct: 30}, rules))
	assert.Equal(t, 40, c.Score(&WaitsResult{SignalWaitPct: 55, TopWaitPct: 30}, rules))

	// 单一等待类型占比过高叠加扣分
	assert.Equal(t, 60, c.Score(&WaitsResult{SignalWaitPct: 30, TopWaitPct: 75}, rules))
}

func TestCPUScore(t *testing.T) {
	c := &CPUCheck{}
	rules := []model.ThresholdRule{
		rule("sql_cpu_pct", ">=", 95, 20, model.ActionScore, 1),
		rule("sql_cpu_pct", ">=", 85, 50, model.ActionScore, 2),
		rule("sql_cpu_pct", ">=", 75, 80, model.ActionScore, 3),
		rule("runnable_tasks", ">", 20, -10, model.ActionPenalty, 1),
	}

	assert.Equal(t, 100, c.Score(&CPUResult{SQLProcessPct: 40, OtherProcessPct: 10}, rules))
	// SQL与其他进程合计90%
	assert.Equal(t, 50, c.Score(&CPUResult{SQLProcessPct: 70, OtherProcessPct: 20}, rules))
	assert.Equal(t, 10, c.Score(&CPUResult{
		SQLProcessPct: 90, OtherProcessPct: 7, RunnableTasks: 30,
	}, rules))
}

func TestMemoryWeightedScore(t *testing.T) {
	c := &MemoryCheck{}
	rules := []model.ThresholdRule{
		rule("ple_seconds", "<", 60, 0, model.ActionScore, 1),
		rule("ple_seconds", "<", 120, 30, model.ActionScore, 2),
		rule("ple_seconds", "<", 300, 60, model.ActionScore, 3),
		rule("pending_grants", ">", 10, 0, model.ActionScore, 1),
		rule("pending_grants", ">", 0, 50, model.ActionScore, 2),
		rule("memory_utilization", ">=", 98, 60, model.ActionScore, 1),
		rule("memory_utilization", ">=", 95, 80, model.ActionScore, 2),
		rule("pending_grants", ">", 10, 50, model.ActionCap, 1),
		rule("stolen_memory_pct", ">", 40, -15, model.ActionPenalty, 1),
	}

	// 全健康：0.6*100 + 0.25*100 + 0.15*100 = 100
	assert.Equal(t, 100, c.Score(&MemoryResult{
		PageLifeExpectancy: 3600, MemoryUtilizationPct: 80,
	}, rules))

	// PLE 90秒：0.6*30 + 0.25*100 + 0.15*100 = 58
	assert.Equal(t, 58, c.Score(&MemoryResult{
		PageLifeExpectancy: 90, MemoryUtilizationPct: 80,
	}, rules))

	// 挂起授予12个：grants子分0，加权0.6*100+0.15*100=75，再被封顶规则压到50
	assert.Equal(t, 50, c.Score(&MemoryResult{
		PageLifeExpectancy: 3600, PendingMemoryGrants: 12, MemoryUtilizationPct: 80,
	}, rules))
}

func TestPLETargetScaling(t *testing.T) {
	// 目标内存每4GB对应300秒参考线，下限300秒
	assert.Equal(t, 300, pleTargetSeconds(0))
	assert.Equal(t, 300, pleTargetSeconds(2048))
	assert.Equal(t, 300, pleTargetSeconds(4096))
	assert.Equal(t, 600, pleTargetSeconds(8192))
	assert.Equal(t, 2400, pleTargetSeconds(32768))
}

func TestIOScore(t *testing.T) {
	c := &IOCheck{}
	rules := []model.ThresholdRule{
		rule("avg_latency_ms", ">=", 100, 0, model.ActionScore, 1),
		rule("avg_latency_ms", ">=", 50, 40, model.ActionScore, 2),
		rule("avg_latency_ms", ">=", 20, 70, model.ActionScore, 3),
		rule("pending_io", ">", 10, -10, model.ActionPenalty, 1),
	}

	assert.Equal(t, 100, c.Score(&IOResult{WorstLatencyMS: 8}, rules))
	assert.Equal(t, 70, c.Score(&IOResult{WorstLatencyMS: 35}, rules))
	assert.Equal(t, 40, c.Score(&IOResult{WorstLatencyMS: 60}, rules))
	assert.Equal(t, 0, c.Score(&IOResult{WorstLatencyMS: 200}, rules))
	assert.Equal(t, 30, c.Score(&IOResult{WorstLatencyMS: 60, PendingIORequests: 15}, rules))
}

func TestVersionVariantQueries(t *testing.T) {
	// AlwaysOn与磁盘卷查询在SQL 2008（10）上使用降级语句
	ao := &AlwaysOnCheck{}
	assert.NotEqual(t, ao.DefaultQuery(10), ao.DefaultQuery(13))
	assert.NotContains(t, ao.DefaultQuery(10), "dm_hadr_database_replica_states")

	disks := &DisksCheck{}
	assert.NotEqual(t, disks.DefaultQuery(10), disks.DefaultQuery(13))
	assert.NotContains(t, disks.DefaultQuery(10), "dm_os_volume_stats")
}

package model

import "time"

// SnapshotBase 快照公共字段（各类别快照按时间序列只追加）
type SnapshotBase struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	InstanceName string    `json:"instance_name" gorm:"type:varchar(256);not null;index:,composite:inst_time"`
	Environment  string    `json:"environment" gorm:"type:varchar(64)"`
	HostingSite  string    `json:"hosting_site" gorm:"type:varchar(64)"`
	CollectedAt  time.Time `json:"collected_at" gorm:"not null;index:,composite:inst_time"`
	Score        int       `json:"score" gorm:"not null"`
}

// CPUSnapshot CPU采集快照
type CPUSnapshot struct {
	SnapshotBase
	SQLProcessPct   float64 `json:"sql_process_pct"`
	OtherProcessPct float64 `json:"other_process_pct"`
	IdlePct         float64 `json:"idle_pct"`
	RunnableTasks   int     `json:"runnable_tasks"`
}

// TableName 表名
func (CPUSnapshot) TableName() string { return "cpu_snapshots" }

// MemorySnapshot 内存采集快照
type MemorySnapshot struct {
	SnapshotBase
	PageLifeExpectancy   int     `json:"page_life_expectancy"`
	PLETargetSeconds     int     `json:"ple_target_seconds"`
	PendingMemoryGrants  int     `json:"pending_memory_grants"`
	TotalServerMemoryMB  float64 `json:"total_server_memory_mb"`
	TargetServerMemoryMB float64 `json:"target_server_memory_mb"`
	StolenMemoryPct      float64 `json:"stolen_memory_pct"`
	MemoryUtilizationPct float64 `json:"memory_utilization_pct"`
}

// TableName 表名
func (MemorySnapshot) TableName() string { return "memory_snapshots" }

// IOSnapshot IO采集快照
type IOSnapshot struct {
	SnapshotBase
	AvgReadLatencyMS  float64 `json:"avg_read_latency_ms"`
	AvgWriteLatencyMS float64 `json:"avg_write_latency_ms"`
	PendingIORequests int     `json:"pending_io_requests"`
	WorstDatabase     string  `json:"worst_database" gorm:"type:varchar(256)"`
	WorstLatencyMS    float64 `json:"worst_latency_ms"`
}

// TableName 表名
func (IOSnapshot) TableName() string { return "io_snapshots" }

// DiskSnapshot 磁盘空间采集快照
type DiskSnapshot struct {
	SnapshotBase
	VolumeCount      int     `json:"volume_count"`
	WorstVolume      string  `json:"worst_volume" gorm:"type:varchar(256)"`
	WorstFreePct     float64 `json:"worst_free_pct"`
	WorstRealFreePct float64 `json:"worst_real_free_pct"`
	AlertedVolumes   int     `json:"alerted_volumes"`
}

// TableName 表名
func (DiskSnapshot) TableName() string { return "disk_snapshots" }

// BackupSnapshot 备份SLA采集快照
type BackupSnapshot struct {
	SnapshotBase
	WorkloadClass        string  `json:"workload_class" gorm:"type:varchar(32)"`
	FullBackupAgeHours   float64 `json:"full_backup_age_hours"`
	LogBackupAgeHours    float64 `json:"log_backup_age_hours"`
	FullBackupBreached   bool    `json:"full_backup_breached"`
	LogBackupBreached    bool    `json:"log_backup_breached"`
	DatabasesWithoutFull int     `json:"databases_without_full"`
}

// TableName 表名
func (BackupSnapshot) TableName() string { return "backup_snapshots" }

// AlwaysOnSnapshot AlwaysOn可用性组采集快照
type AlwaysOnSnapshot struct {
	SnapshotBase
	Enabled           bool  `json:"enabled"`
	DatabaseCount     int   `json:"database_count"`
	SynchronizedCount int   `json:"synchronized_count"`
	SuspendedCount    int   `json:"suspended_count"`
	MaxSendQueueKB    int64 `json:"max_send_queue_kb"`
	MaxRedoQueueKB    int64 `json:"max_redo_queue_kb"`
}

// TableName 表名
func (AlwaysOnSnapshot) TableName() string { return "alwayson_snapshots" }

// LogChainSnapshot 日志链采集快照
type LogChainSnapshot struct {
	SnapshotBase
	FullRecoveryDatabases int     `json:"full_recovery_databases"`
	BrokenChains          int     `json:"broken_chains"`
	OldestLogBackupHours  float64 `json:"oldest_log_backup_hours"`
}

// TableName 表名
func (LogChainSnapshot) TableName() string { return "logchain_snapshots" }

// DatabaseStateSnapshot 数据库状态采集快照
type DatabaseStateSnapshot struct {
	SnapshotBase
	OnlineCount          int `json:"online_count"`
	OfflineCount         int `json:"offline_count"`
	SuspectCount         int `json:"suspect_count"`
	EmergencyCount       int `json:"emergency_count"`
	RecoveryPendingCount int `json:"recovery_pending_count"`
	RestoringCount       int `json:"restoring_count"`
	SingleUserCount      int `json:"single_user_count"`
	SuspectPages         int `json:"suspect_pages"`
}

// TableName 表名
func (DatabaseStateSnapshot) TableName() string { return "dbstate_snapshots" }

// CriticalErrorSnapshot 严重错误采集快照
type CriticalErrorSnapshot struct {
	SnapshotBase
	Severity20PlusCount int    `json:"severity20_plus_count"`
	CorruptionErrors    int    `json:"corruption_errors"`
	LastErrorMessage    string `json:"last_error_message" gorm:"type:text"`
}

// TableName 表名
func (CriticalErrorSnapshot) TableName() string { return "criticalerror_snapshots" }

// MaintenanceSnapshot 维护作业采集快照
type MaintenanceSnapshot struct {
	SnapshotBase
	DaysSinceCheckDB    float64 `json:"days_since_checkdb"`
	DaysSinceIndexMaint float64 `json:"days_since_index_maint"`
	OutdatedStatsCount  int     `json:"outdated_stats_count"`
	FailedJobs24H       int     `json:"failed_jobs_24h"`
}

// TableName 表名
func (MaintenanceSnapshot) TableName() string { return "maintenance_snapshots" }

// TempDBSnapshot TempDB配置与健康采集快照
type TempDBSnapshot struct {
	SnapshotBase
	DataFileCount     int     `json:"data_file_count"`
	EqualFileSizes    bool    `json:"equal_file_sizes"`
	ContentionWaitMS  float64 `json:"contention_wait_ms"`
	AvgWriteLatencyMS float64 `json:"avg_write_latency_ms"`
	FreeSpacePct      float64 `json:"free_space_pct"`
	ConfigScore       int     `json:"config_score"`
	ContentionScore   int     `json:"contention_score"`
	LatencyScore      int     `json:"latency_score"`
	FreeSpaceScore    int     `json:"free_space_score"`
}

// TableName 表名
func (TempDBSnapshot) TableName() string { return "tempdb_snapshots" }

// AutogrowthSnapshot 自动增长采集快照
type AutogrowthSnapshot struct {
	SnapshotBase
	GrowthEvents24H    int `json:"growth_events_24h"`
	FilesNearMaxSize   int `json:"files_near_max_size"`
	PercentGrowthFiles int `json:"percent_growth_files"`
	FilesCannotGrow    int `json:"files_cannot_grow"`
}

// TableName 表名
func (AutogrowthSnapshot) TableName() string { return "autogrowth_snapshots" }

// WaitsSnapshot 等待统计采集快照
type WaitsSnapshot struct {
	SnapshotBase
	TopWaitType   string  `json:"top_wait_type" gorm:"type:varchar(128)"`
	TopWaitPct    float64 `json:"top_wait_pct"`
	SignalWaitPct float64 `json:"signal_wait_pct"`
	AvgWaitTimeMS float64 `json:"avg_wait_time_ms"`
}

// TableName 表名
func (WaitsSnapshot) TableName() string { return "waits_snapshots" }

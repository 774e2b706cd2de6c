package model

import "time"

// CollectorConfig 采集器运行配置（每个采集器一行）
type CollectorConfig struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Name            string    `json:"name" gorm:"type:varchar(64);not null;uniqueIndex"`
	Enabled         bool      `json:"enabled" gorm:"not null;default:true"`
	IntervalSeconds int       `json:"interval_seconds" gorm:"not null;default:300"`
	TimeoutSeconds  int       `json:"timeout_seconds" gorm:"not null;default:30"`
	ParallelDegree  int       `json:"parallel_degree" gorm:"not null;default:8"`
	LastExecution   time.Time `json:"last_execution"`
	LastDurationMS  int64     `json:"last_duration_ms"`
	LastInstances   int       `json:"last_instances"`
	LastError       string    `json:"last_error" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (CollectorConfig) TableName() string {
	return "collector_configs"
}

// 采集器名称枚举（与快照表一一对应）
const (
	CollectorCPU            = "cpu"
	CollectorMemory         = "memory"
	CollectorIO             = "io"
	CollectorDisks          = "disks"
	CollectorBackups        = "backups"
	CollectorAlwaysOn       = "alwayson"
	CollectorLogChain       = "logchain"
	CollectorDatabaseStates = "dbstates"
	CollectorCriticalErrors = "criticalerrors"
	CollectorMaintenance    = "maintenance"
	CollectorTempDB         = "tempdb"
	CollectorAutogrowth     = "autogrowth"
	CollectorWaits          = "waits"
)

// AllCollectors 全部采集器名称（按汇总权重表顺序，waits在末尾不参与汇总）
var AllCollectors = []string{
	CollectorBackups,
	CollectorAlwaysOn,
	CollectorLogChain,
	CollectorDatabaseStates,
	CollectorCPU,
	CollectorMemory,
	CollectorIO,
	CollectorDisks,
	CollectorCriticalErrors,
	CollectorMaintenance,
	CollectorTempDB,
	CollectorAutogrowth,
	CollectorWaits,
}

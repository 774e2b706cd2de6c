package model

import "time"

// HealthScore 实例汇总健康分（每轮汇总每实例一行，时间序列）
type HealthScore struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	InstanceName string    `json:"instance_name" gorm:"type:varchar(256);not null;index:,composite:inst_time"`
	Environment  string    `json:"environment" gorm:"type:varchar(64)"`
	HostingSite  string    `json:"hosting_site" gorm:"type:varchar(64)"`
	ComputedAt   time.Time `json:"computed_at" gorm:"not null;index:,composite:inst_time"`

	// 各类别单项分（经跨类别联动调整后的值）
	BackupsScore        int `json:"backups_score"`
	AlwaysOnScore       int `json:"alwayson_score"`
	LogChainScore       int `json:"logchain_score"`
	DatabaseStatesScore int `json:"dbstates_score"`
	CPUScore            int `json:"cpu_score"`
	MemoryScore         int `json:"memory_score"`
	IOScore             int `json:"io_score"`
	DisksScore          int `json:"disks_score"`
	CriticalErrorsScore int `json:"criticalerrors_score"`
	MaintenanceScore    int `json:"maintenance_score"`
	TempDBScore         int `json:"tempdb_score"`
	AutogrowthScore     int `json:"autogrowth_score"`

	// Contributions 各类别加权贡献明细，JSON编码 map[category]float64
	Contributions string `json:"contributions" gorm:"type:text"`

	FinalScore int    `json:"final_score" gorm:"not null"`
	Status     string `json:"status" gorm:"type:varchar(16);not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (HealthScore) TableName() string {
	return "health_scores"
}

// 健康状态枚举
const (
	HealthStatusHealthy  = "healthy"
	HealthStatusWarning  = "warning"
	HealthStatusCritical = "critical"
)

// HealthStatusFor 按汇总分映射健康状态：>=80 healthy，>=60 warning，其余 critical
func HealthStatusFor(score int) string {
	switch {
	case score >= 80:
		return HealthStatusHealthy
	case score >= 60:
		return HealthStatusWarning
	default:
		return HealthStatusCritical
	}
}

package model

import "time"

// ExecutionLog 采集执行日志（运行开始时创建，结束时补全，只追加）
type ExecutionLog struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Collector      string    `json:"collector" gorm:"type:varchar(64);not null;index"`
	Status         string    `json:"status" gorm:"type:varchar(16);not null;default:'running'"`
	StartTime      time.Time `json:"start_time" gorm:"index"`
	EndTime        time.Time `json:"end_time"`
	DurationMS     int64     `json:"duration_ms"`
	TotalInstances int       `json:"total_instances"`
	SuccessCount   int       `json:"success_count"`
	ErrorCount     int       `json:"error_count"`
	SkippedCount   int       `json:"skipped_count"`
	ErrorMsg       string    `json:"error_msg" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (ExecutionLog) TableName() string {
	return "execution_logs"
}

// 执行状态枚举
const (
	ExecutionStatusRunning = "running"
	ExecutionStatusSuccess = "success"
	ExecutionStatusFailed  = "failed"
)

package model

import "time"

// ThresholdRule 阈值规则（按组内evaluation_order顺序求值）
// Score规则首个命中生效；Cap/Penalty规则全部命中均生效
type ThresholdRule struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Collector string    `json:"collector" gorm:"type:varchar(64);not null;index"`
	RuleGroup string    `json:"rule_group" gorm:"type:varchar(64);not null;index"`
	Operator  string    `json:"operator" gorm:"type:varchar(4);not null"`
	Threshold float64   `json:"threshold" gorm:"not null"`
	Value     int       `json:"value" gorm:"not null"` // Score结果分 / Cap上限 / Penalty负增量
	Action    string    `json:"action" gorm:"type:varchar(16);not null;default:'score'"`
	EvalOrder int       `json:"eval_order" gorm:"not null;default:0"`
	Active    bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (ThresholdRule) TableName() string {
	return "threshold_rules"
}

// 规则动作枚举
const (
	ActionScore   = "score"
	ActionCap     = "cap"
	ActionPenalty = "penalty"
)

// VersionedQuery 按SQL大版本区间维护的查询变体
type VersionedQuery struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Collector  string    `json:"collector" gorm:"type:varchar(64);not null;index"`
	Name       string    `json:"name" gorm:"type:varchar(128);not null"`
	MinVersion int       `json:"min_version" gorm:"not null;default:0"`
	MaxVersion int       `json:"max_version" gorm:"not null;default:99"`
	Priority   int       `json:"priority" gorm:"not null;default:100"`
	QueryText  string    `json:"query_text" gorm:"type:text;not null"`
	Active     bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (VersionedQuery) TableName() string {
	return "versioned_queries"
}

// CheckException 检查豁免规则（仅抑制评分/告警，不删除数据）
type CheckException struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	Collector     string     `json:"collector" gorm:"type:varchar(64);not null;index"`
	ExceptionType string     `json:"exception_type" gorm:"type:varchar(64)"`
	ServerPattern string     `json:"server_pattern" gorm:"type:varchar(256);not null"`
	Active        bool       `json:"active" gorm:"not null;default:true"`
	ExpiresAt     *time.Time `json:"expires_at"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (CheckException) TableName() string {
	return "check_exceptions"
}

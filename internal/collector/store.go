package collector

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

// Store 采集配置服务：运行配置、阈值规则、版本化查询、豁免与执行日志
type Store struct {
	db *gorm.DB
}

// NewStore 创建配置服务
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层gorm实例（快照写入用）
func (s *Store) DB() *gorm.DB {
	return s.db
}

// GetConfig 按名称读取采集器配置；不存在时返回nil
func (s *Store) GetConfig(name string) (*model.CollectorConfig, error) {
	var cfg model.CollectorConfig
	err := s.db.Where("name = ?", name).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load collector config %s: %w", name, err)
	}
	return &cfg, nil
}

// ListConfigs 列出全部采集器配置
func (s *Store) ListConfigs() ([]model.CollectorConfig, error) {
	var configs []model.CollectorConfig
	if err := s.db.Order("name").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("list collector configs: %w", err)
	}
	return configs, nil
}

// UpdateConfig 更新采集器配置（管理界面调用）
func (s *Store) UpdateConfig(cfg *model.CollectorConfig) error {
	return s.db.Model(&model.CollectorConfig{}).
		Where("name = ?", cfg.Name).
		Updates(map[string]interface{}{
			"enabled":          cfg.Enabled,
			"interval_seconds": cfg.IntervalSeconds,
			"timeout_seconds":  cfg.TimeoutSeconds,
			"parallel_degree":  cfg.ParallelDegree,
		}).Error
}

// MarkLaunched 运行启动时立即回写last_execution，防止下个tick重复触发
func (s *Store) MarkLaunched(name string, at time.Time) error {
	return s.db.Model(&model.CollectorConfig{}).
		Where("name = ?", name).
		Update("last_execution", at).Error
}

// MarkCompleted 运行结束时回写执行元数据
func (s *Store) MarkCompleted(name string, durationMS int64, instances int, lastError string) error {
	return s.db.Model(&model.CollectorConfig{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{
			"last_duration_ms": durationMS,
			"last_instances":   instances,
			"last_error":       lastError,
		}).Error
}

// ActiveRules 读取采集器的生效阈值规则（一轮运行只读一次，所有实例共享）
func (s *Store) ActiveRules(collector string) ([]model.ThresholdRule, error) {
	var rules []model.ThresholdRule
	err := s.db.Where("collector = ? AND active = ?", collector, true).
		Order("rule_group, eval_order").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("load threshold rules for %s: %w", collector, err)
	}
	return rules, nil
}

// SelectQuery 选取目标版本兼容的查询变体：版本区间包含目标版本的生效行中取priority最小者
// 未配置任何兼容变体时返回空串，由检查项内置查询兜底
func (s *Store) SelectQuery(collector string, majorVersion int) (string, error) {
	var queries []model.VersionedQuery
	err := s.db.Where("collector = ? AND active = ? AND min_version <= ? AND max_version >= ?",
		collector, true, majorVersion, majorVersion).
		Find(&queries).Error
	if err != nil {
		return "", fmt.Errorf("load versioned queries for %s: %w", collector, err)
	}
	if len(queries) == 0 {
		return "", nil
	}
	sort.Slice(queries, func(i, j int) bool {
		return queries[i].Priority < queries[j].Priority
	})
	return queries[0].QueryText, nil
}

// ActiveExceptions 读取采集器的生效豁免规则
func (s *Store) ActiveExceptions(collector string) ([]model.CheckException, error) {
	var exceptions []model.CheckException
	err := s.db.Where("collector = ? AND active = ?", collector, true).
		Find(&exceptions).Error
	if err != nil {
		return nil, fmt.Errorf("load exceptions for %s: %w", collector, err)
	}
	return exceptions, nil
}

// StartExecutionLog 运行开始时创建执行日志行
func (s *Store) StartExecutionLog(collector string, startTime time.Time) (*model.ExecutionLog, error) {
	entry := &model.ExecutionLog{
		ID:        uuid.New().String(),
		Collector: collector,
		Status:    model.ExecutionStatusRunning,
		StartTime: startTime,
	}
	if err := s.db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("create execution log for %s: %w", collector, err)
	}
	return entry, nil
}

// CompleteExecutionLog 运行结束时补全执行日志行
func (s *Store) CompleteExecutionLog(entry *model.ExecutionLog) error {
	return s.db.Model(&model.ExecutionLog{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"status":          entry.Status,
			"end_time":        entry.EndTime,
			"duration_ms":     entry.DurationMS,
			"total_instances": entry.TotalInstances,
			"success_count":   entry.SuccessCount,
			"error_count":     entry.ErrorCount,
			"skipped_count":   entry.SkippedCount,
			"error_msg":       entry.ErrorMsg,
		}).Error
}

// ListRules 列出采集器的全部阈值规则（含停用行，管理界面用）
func (s *Store) ListRules(collector string) ([]model.ThresholdRule, error) {
	q := s.db.Order("collector, rule_group, eval_order")
	if collector != "" {
		q = q.Where("collector = ?", collector)
	}
	var rules []model.ThresholdRule
	if err := q.Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("list threshold rules: %w", err)
	}
	return rules, nil
}

// CreateRule 新增阈值规则
func (s *Store) CreateRule(rule *model.ThresholdRule) error {
	if err := s.db.Create(rule).Error; err != nil {
		return fmt.Errorf("create threshold rule: %w", err)
	}
	return nil
}

// UpdateRule 按ID更新阈值规则
func (s *Store) UpdateRule(rule *model.ThresholdRule) error {
	result := s.db.Model(&model.ThresholdRule{}).
		Where("id = ?", rule.ID).
		Updates(map[string]interface{}{
			"collector":  rule.Collector,
			"rule_group": rule.RuleGroup,
			"operator":   rule.Operator,
			"threshold":  rule.Threshold,
			"value":      rule.Value,
			"action":     rule.Action,
			"eval_order": rule.EvalOrder,
			"active":     rule.Active,
		})
	if result.Error != nil {
		return fmt.Errorf("update threshold rule %d: %w", rule.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteRule 按ID删除阈值规则
func (s *Store) DeleteRule(id uint) error {
	result := s.db.Delete(&model.ThresholdRule{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete threshold rule %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListQueries 列出采集器的全部查询变体
func (s *Store) ListQueries(collector string) ([]model.VersionedQuery, error) {
	q := s.db.Order("collector, priority")
	if collector != "" {
		q = q.Where("collector = ?", collector)
	}
	var queries []model.VersionedQuery
	if err := q.Find(&queries).Error; err != nil {
		return nil, fmt.Errorf("list versioned queries: %w", err)
	}
	return queries, nil
}

// CreateQuery 新增查询变体
func (s *Store) CreateQuery(query *model.VersionedQuery) error {
	if err := s.db.Create(query).Error; err != nil {
		return fmt.Errorf("create versioned query: %w", err)
	}
	return nil
}

// UpdateQuery 按ID更新查询变体
func (s *Store) UpdateQuery(query *model.VersionedQuery) error {
	result := s.db.Model(&model.VersionedQuery{}).
		Where("id = ?", query.ID).
		Updates(map[string]interface{}{
			"collector":   query.Collector,
			"name":        query.Name,
			"min_version": query.MinVersion,
			"max_version": query.MaxVersion,
			"priority":    query.Priority,
			"query_text":  query.QueryText,
			"active":      query.Active,
		})
	if result.Error != nil {
		return fmt.Errorf("update versioned query %d: %w", query.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteQuery 按ID删除查询变体
func (s *Store) DeleteQuery(id uint) error {
	result := s.db.Delete(&model.VersionedQuery{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete versioned query %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListExceptions 列出采集器的全部豁免规则（含停用与过期行）
func (s *Store) ListExceptions(collector string) ([]model.CheckException, error) {
	q := s.db.Order("collector, server_pattern")
	if collector != "" {
		q = q.Where("collector = ?", collector)
	}
	var exceptions []model.CheckException
	if err := q.Find(&exceptions).Error; err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	return exceptions, nil
}

// CreateException 新增豁免规则
func (s *Store) CreateException(exc *model.CheckException) error {
	if err := s.db.Create(exc).Error; err != nil {
		return fmt.Errorf("create exception: %w", err)
	}
	return nil
}

// UpdateException 按ID更新豁免规则
func (s *Store) UpdateException(exc *model.CheckException) error {
	result := s.db.Model(&model.CheckException{}).
		Where("id = ?", exc.ID).
		Updates(map[string]interface{}{
			"collector":      exc.Collector,
			"exception_type": exc.ExceptionType,
			"server_pattern": exc.ServerPattern,
			"active":         exc.Active,
			"expires_at":     exc.ExpiresAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update exception %d: %w", exc.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteException 按ID删除豁免规则
func (s *Store) DeleteException(id uint) error {
	result := s.db.Delete(&model.CheckException{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete exception %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListExecutionLogs 按时间倒序列出执行日志
func (s *Store) ListExecutionLogs(collector string, limit int) ([]model.ExecutionLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.Order("start_time DESC").Limit(limit)
	if collector != "" {
		q = q.Where("collector = ?", collector)
	}
	var logs []model.ExecutionLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	return logs, nil
}

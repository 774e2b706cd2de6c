package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sqlhealthpro/sqlhealthpro/internal/collector"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
	"github.com/sqlhealthpro/sqlhealthpro/internal/orchestrator"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// CollectorHandler 采集器管理处理器
type CollectorHandler struct {
	store        *collector.Store
	runner       *collector.Runner
	orchestrator *orchestrator.Orchestrator
	startTime    time.Time
}

// NewCollectorHandler 创建采集器管理处理器
func NewCollectorHandler(store *collector.Store, runner *collector.Runner, orch *orchestrator.Orchestrator) *CollectorHandler {
	return &CollectorHandler{
		store:        store,
		runner:       runner,
		orchestrator: orch,
		startTime:    time.Now(),
	}
}

// updateConfigRequest 采集器配置更新请求
type updateConfigRequest struct {
	Enabled         *bool `json:"enabled"`
	IntervalSeconds *int  `json:"interval_seconds"`
	TimeoutSeconds  *int  `json:"timeout_seconds"`
	ParallelDegree  *int  `json:"parallel_degree"`
}

// ListConfigs 列出采集器配置
// @Summary 列出全部采集器运行配置
// @Description 返回13个采集器的启用状态、执行间隔与最近执行元数据
// @Tags collector
// @Produce json
// @Success 200 {array} model.CollectorConfig "配置列表"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/v1/collectors [get]
func (h *CollectorHandler) ListConfigs(c *gin.Context) {
	configs, err := h.store.ListConfigs()
	if err != nil {
		logger.Error("Failed to list collector configs", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "读取采集器配置失败: " + err.Error(),
		})
		return
	}

	// 附带运行中标记
	type configView struct {
		model.CollectorConfig
		Running bool `json:"running"`
	}
	views := make([]configView, 0, len(configs))
	for _, cfg := range configs {
		views = append(views, configView{
			CollectorConfig: cfg,
			Running:         h.runner.IsRunning(cfg.Name),
		})
	}

	c.JSON(http.StatusOK, views)
}

// UpdateConfig 更新采集器配置
// @Summary 更新采集器运行配置
// @Description 更新启用状态、执行间隔、超时与并发度；省略的字段保持原值
// @Tags collector
// @Accept json
// @Produce json
// @Param name path string true "采集器名称"
// @Param request body updateConfigRequest true "配置更新请求"
// @Success 200 {object} model.CollectorConfig "更新后的配置"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 404 {object} ErrorResponse "采集器不存在"
// @Router /api/v1/collectors/{name} [put]
func (h *CollectorHandler) UpdateConfig(c *gin.Context) {
	name := strings.ToLower(c.Param("name"))

	var request updateConfigRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		logger.Error("Invalid request parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}

	cfg, err := h.store.GetConfig(name)
	if err != nil {
		logger.Error("Failed to load collector config", "collector", name, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LOAD_FAILED",
			Message: "读取采集器配置失败: " + err.Error(),
		})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "COLLECTOR_NOT_FOUND",
			Message: "采集器不存在: " + name,
		})
		return
	}

	if request.Enabled != nil {
		cfg.Enabled = *request.Enabled
	}
	if request.IntervalSeconds != nil {
		if *request.IntervalSeconds < 30 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "VALIDATION_FAILED",
				Message: "执行间隔不能小于30秒",
			})
			return
		}
		cfg.IntervalSeconds = *request.IntervalSeconds
	}
	if request.TimeoutSeconds != nil {
		if *request.TimeoutSeconds < 5 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "VALIDATION_FAILED",
				Message: "超时时间不能小于5秒",
			})
			return
		}
		cfg.TimeoutSeconds = *request.TimeoutSeconds
	}
	if request.ParallelDegree != nil {
		if *request.ParallelDegree < 1 || *request.ParallelDegree > 64 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "VALIDATION_FAILED",
				Message: "并发度必须在1到64之间",
			})
			return
		}
		cfg.ParallelDegree = *request.ParallelDegree
	}

	if err := h.store.UpdateConfig(cfg); err != nil {
		logger.Error("Failed to update collector config", "collector", name, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "UPDATE_FAILED",
			Message: "更新采集器配置失败: " + err.Error(),
		})
		return
	}

	logger.Info("Collector config updated", "collector", name,
		"enabled", cfg.Enabled, "interval_seconds", cfg.IntervalSeconds)
	c.JSON(http.StatusOK, cfg)
}

// Trigger 手工触发采集
// @Summary 手工触发一次采集
// @Description 立即执行指定采集器；运行中或未知采集器返回冲突错误
// @Tags collector
// @Produce json
// @Param name path string true "采集器名称"
// @Success 202 {object} SuccessResponse "已触发"
// @Failure 404 {object} ErrorResponse "采集器不存在"
// @Failure 409 {object} ErrorResponse "采集器正在运行"
// @Router /api/v1/collectors/{name}/trigger [post]
func (h *CollectorHandler) Trigger(c *gin.Context) {
	name := strings.ToLower(c.Param("name"))

	if err := h.orchestrator.Trigger(c.Request.Context(), name); err != nil {
		if strings.Contains(err.Error(), "unknown collector") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "COLLECTOR_NOT_FOUND",
				Message: "采集器不存在: " + name,
			})
			return
		}
		logger.Warn("Manual trigger rejected", "collector", name, "error", err)
		c.JSON(http.StatusConflict, ErrorResponse{
			Code:    "ALREADY_RUNNING",
			Message: "采集器正在运行: " + name,
		})
		return
	}

	logger.Info("Collector triggered manually", "collector", name)
	c.JSON(http.StatusAccepted, SuccessResponse{
		Code:    "TRIGGERED",
		Message: "采集已触发",
		Data:    gin.H{"collector": name},
	})
}

// ListExecutions 列出执行日志
// @Summary 列出采集执行日志
// @Description 按开始时间倒序返回执行日志；collector参数可选
// @Tags collector
// @Produce json
// @Param collector query string false "采集器名称"
// @Param limit query int false "返回条数上限（默认100，最大500）"
// @Success 200 {array} model.ExecutionLog "执行日志列表"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/v1/executions [get]
func (h *CollectorHandler) ListExecutions(c *gin.Context) {
	name := strings.ToLower(c.Query("collector"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := h.store.ListExecutionLogs(name, limit)
	if err != nil {
		logger.Error("Failed to list execution logs", "collector", name, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "读取执行日志失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, logs)
}

// Health 健康检查
// @Summary 服务健康检查
// @Description 返回服务运行状态
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "健康状态"
// @Router /api/v1/health [get]
func (h *CollectorHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).String(),
	})
}

// GetStats 获取运行统计
// @Summary 获取采集运行统计
// @Description 返回各采集器启用数、运行中数与最近执行概览
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "运行统计"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/v1/stats [get]
func (h *CollectorHandler) GetStats(c *gin.Context) {
	configs, err := h.store.ListConfigs()
	if err != nil {
		logger.Error("Failed to load stats", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "STATS_FAILED",
			Message: "读取运行统计失败: " + err.Error(),
		})
		return
	}

	enabled := 0
	running := 0
	failing := 0
	for _, cfg := range configs {
		if cfg.Enabled {
			enabled++
		}
		if h.runner.IsRunning(cfg.Name) {
			running++
		}
		if cfg.LastError != "" {
			failing++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"collectors": len(configs),
		"enabled":    enabled,
		"running":    running,
		"failing":    failing,
		"uptime":     time.Since(h.startTime).String(),
	})
}

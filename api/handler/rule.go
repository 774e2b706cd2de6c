package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/internal/collector"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
	"github.com/sqlhealthpro/sqlhealthpro/internal/scoring"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// RuleHandler 阈值规则处理器
type RuleHandler struct {
	store *collector.Store
}

// NewRuleHandler 创建阈值规则处理器
func NewRuleHandler(store *collector.Store) *RuleHandler {
	return &RuleHandler{store: store}
}

// validateRule 规则字段校验
func validateRule(rule *model.ThresholdRule) string {
	if rule.Collector == "" || rule.RuleGroup == "" {
		return "collector与rule_group不能为空"
	}
	if !scoring.ValidOperator(rule.Operator) {
		return "不支持的比较运算符: " + rule.Operator
	}
	switch rule.Action {
	case model.ActionScore, model.ActionCap:
		if rule.Value < 0 || rule.Value > 100 {
			return "score/cap规则的结果分必须在0到100之间"
		}
	case model.ActionPenalty:
		if rule.Value > 0 {
			return "penalty规则的增量必须为非正数"
		}
	default:
		return "不支持的规则动作: " + rule.Action
	}
	return ""
}

// ListRules 列出阈值规则
// @Summary 列出阈值规则
// @Description 按collector过滤（可选），返回含停用行的全部规则
// @Tags rules
// @Produce json
// @Param collector query string false "采集器名称"
// @Success 200 {array} model.ThresholdRule "规则列表"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/v1/rules [get]
func (h *RuleHandler) ListRules(c *gin.Context) {
	name := strings.ToLower(c.Query("collector"))
	rules, err := h.store.ListRules(name)
	if err != nil {
		logger.Error("Failed to list threshold rules", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "读取阈值规则失败: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule 新增阈值规则
// @Summary 新增阈值规则
// @Description 新增一条score/cap/penalty规则；新规则自下一轮运行生效
// @Tags rules
// @Accept json
// @Produce json
// @Param request body model.ThresholdRule true "规则"
// @Success 201 {object} model.ThresholdRule "创建的规则"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/rules [post]
func (h *RuleHandler) CreateRule(c *gin.Context) {
	var rule model.ThresholdRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		logger.Error("Invalid request parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}
	if rule.Action == "" {
		rule.Action = model.ActionScore
	}
	if msg := validateRule(&rule); msg != "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_FAILED",
			Message: msg,
		})
		return
	}

	if err := h.store.CreateRule(&rule); err != nil {
		logger.Error("Failed to create threshold rule", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "CREATE_FAILED",
			Message: "创建阈值规则失败: " + err.Error(),
		})
		return
	}

	logger.Info("Threshold rule created", "id", rule.ID,
		"collector", rule.Collector, "rule_group", rule.RuleGroup)
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule 更新阈值规则
// @Summary 更新阈值规则
// @Description 按ID整体更新规则字段
// @Tags rules
// @Accept json
// @Produce json
// @Param id path int true "规则ID"
// @Param request body model.ThresholdRule true "规则"
// @Success 200 {object} model.ThresholdRule "更新后的规则"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 404 {object} ErrorResponse "规则不存在"
// @Router /api/v1/rules/{id} [put]
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "规则ID无效: " + c.Param("id"),
		})
		return
	}

	var rule model.ThresholdRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		logger.Error("Invalid request parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}
	rule.ID = uint(id)
	if msg := validateRule(&rule); msg != "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_FAILED",
			Message: msg,
		})
		return
	}

	if err := h.store.UpdateRule(&rule); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "RULE_NOT_FOUND",
				Message: "规则不存在: " + c.Param("id"),
			})
			return
		}
		logger.Error("Failed to update threshold rule", "id", rule.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "UPDATE_FAILED",
			Message: "更新阈值规则失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除阈值规则
// @Summary 删除阈值规则
// @Description 按ID删除规则
// @Tags rules
// @Produce json
// @Param id path int true "规则ID"
// @Success 200 {object} SuccessResponse "删除成功"
// @Failure 404 {object} ErrorResponse "规则不存在"
// @Router /api/v1/rules/{id} [delete]
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "规则ID无效: " + c.Param("id"),
		})
		return
	}

	if err := h.store.DeleteRule(uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "RULE_NOT_FOUND",
				Message: "规则不存在: " + c.Param("id"),
			})
			return
		}
		logger.Error("Failed to delete threshold rule", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "DELETE_FAILED",
			Message: "删除阈值规则失败: " + err.Error(),
		})
		return
	}

	logger.Info("Threshold rule deleted", "id", id)
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "DELETED",
		Message: "规则已删除",
	})
}

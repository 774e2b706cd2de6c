package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/internal/consolidator"
	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// ScoreHandler 健康分查询处理器
type ScoreHandler struct {
	db *gorm.DB
}

// NewScoreHandler 创建健康分查询处理器
func NewScoreHandler(db *gorm.DB) *ScoreHandler {
	return &ScoreHandler{db: db}
}

// ListLatestScores 列出各实例最新健康分
// @Summary 列出各实例最新健康分
// @Description 返回每个实例最近一轮汇总的健康分；status参数可按健康状态过滤
// @Tags scores
// @Produce json
// @Param status query string false "健康状态过滤（healthy/warning/critical）"
// @Success 200 {array} model.HealthScore "最新健康分列表"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/v1/scores [get]
func (h *ScoreHandler) ListLatestScores(c *gin.Context) {
	status := strings.ToLower(c.Query("status"))

	latest := h.db.Model(&model.HealthScore{}).
		Select("MAX(id)").
		Group("instance_name")
	q := h.db.Where("id IN (?)", latest).Order("final_score, instance_name")
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var scores []model.HealthScore
	if err := q.Find(&scores).Error; err != nil {
		logger.Error("Failed to list latest health scores", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "读取健康分失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, scores)
}

// GetScoreHistory 查询实例健康分历史
// @Summary 查询单实例健康分时间序列
// @Description 按汇总时间倒序返回指定实例的健康分历史
// @Tags scores
// @Produce json
// @Param instance path string true "实例名（FQDN或FQDN\\instance）"
// @Param limit query int false "返回条数上限（默认100，最大1000）"
// @Success 200 {array} model.HealthScore "健康分历史"
// @Failure 404 {object} ErrorResponse "实例无健康分记录"
// @Router /api/v1/scores/{instance} [get]
func (h *ScoreHandler) GetScoreHistory(c *gin.Context) {
	instance := c.Param("instance")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var scores []model.HealthScore
	err := h.db.Where("instance_name = ?", instance).
		Order("computed_at DESC").
		Limit(limit).
		Find(&scores).Error
	if err != nil {
		logger.Error("Failed to load score history", "instance", instance, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LOAD_FAILED",
			Message: "读取健康分历史失败: " + err.Error(),
		})
		return
	}
	if len(scores) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "INSTANCE_NOT_FOUND",
			Message: "实例无健康分记录: " + instance,
		})
		return
	}

	c.JSON(http.StatusOK, scores)
}

// GetWeights 查询汇总权重表
// @Summary 查询类别汇总权重表
// @Description 返回12个计分类别的固定权重（合计100）
// @Tags scores
// @Produce json
// @Success 200 {object} map[string]int "类别权重"
// @Router /api/v1/scores/weights [get]
func (h *ScoreHandler) GetWeights(c *gin.Context) {
	c.JSON(http.StatusOK, consolidator.Weights())
}

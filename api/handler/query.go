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
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// QueryHandler 版本化查询处理器
type QueryHandler struct {
	store *collector.Store
}

// NewQueryHandler 创建版本化查询处理器
func NewQueryHandler(store *collector.Store) *QueryHandler {
	return &QueryHandler{store: store}
}

// validateQuery 查询变体字段校验
func validateQuery(query *model.VersionedQuery) string {
	if query.Collector == "" || query.Name == "" {
		return "collector与name不能为空"
	}
	if strings.TrimSpace(query.QueryText) == "" {
		return "query_text不能为空"
	}
	if query.MinVersion < 0 || query.MaxVersion < query.MinVersion {
		return "版本区间无效: min_version必须≤max_version"
	}
	return ""
}

// ListQueries 列出查询变体
// @Summary 列出版本化查询变体
// @Description 按collector过滤（可选），返回含停用行的全部查询变体
// @Tags queries
// @Produce json
// @Param collector query string false "采集器名称"
// @Success 200 {array} model.VersionedQuery "查询变体列表"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/v1/queries [get]
func (h *QueryHandler) ListQueries(c *gin.Context) {
	name := strings.ToLower(c.Query("collector"))
	queries, err := h.store.ListQueries(name)
	if err != nil {
		logger.Error("Failed to list versioned queries", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "读取查询变体失败: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, queries)
}

// CreateQuery 新增查询变体
// @Summary 新增版本化查询变体
// @Description 新增一个SQL大版本区间的查询变体；同版本命中多行时priority最小者生效
// @Tags queries
// @Accept json
// @Produce json
// @Param request body model.VersionedQuery true "查询变体"
// @Success 201 {object} model.VersionedQuery "创建的查询变体"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/queries [post]
func (h *QueryHandler) CreateQuery(c *gin.Context) {
	var query model.VersionedQuery
	if err := c.ShouldBindJSON(&query); err != nil {
		logger.Error("Invalid request parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}
	if query.MaxVersion == 0 {
		query.MaxVersion = 99
	}
	if query.Priority == 0 {
		query.Priority = 100
	}
	if msg := validateQuery(&query); msg != "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_FAILED",
			Message: msg,
		})
		return
	}

	if err := h.store.CreateQuery(&query); err != nil {
		logger.Error("Failed to create versioned query", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "CREATE_FAILED",
			Message: "创建查询变体失败: " + err.Error(),
		})
		return
	}

	logger.Info("Versioned query created", "id", query.ID,
		"collector", query.Collector, "name", query.Name)
	c.JSON(http.StatusCreated, query)
}

// UpdateQuery 更新查询变体
// @Summary 更新版本化查询变体
// @Description 按ID整体更新查询变体字段
// @Tags queries
// @Accept json
// @Produce json
// @Param id path int true "查询变体ID"
// @Param request body model.VersionedQuery true "查询变体"
// @Success 200 {object} model.VersionedQuery "更新后的查询变体"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 404 {object} ErrorResponse "查询变体不存在"
// @Router /api/v1/queries/{id} [put]
func (h *QueryHandler) UpdateQuery(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "查询变体ID无效: " + c.Param("id"),
		})
		return
	}

	var query model.VersionedQuery
	if err := c.ShouldBindJSON(&query); err != nil {
		logger.Error("Invalid request parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}
	query.ID = uint(id)
	if msg := validateQuery(&query); msg != "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_FAILED",
			Message: msg,
		})
		return
	}

	if err := h.store.UpdateQuery(&query); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "QUERY_NOT_FOUND",
				Message: "查询变体不存在: " + c.Param("id"),
			})
			return
		}
		logger.Error("Failed to update versioned query", "id", query.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "UPDATE_FAILED",
			Message: "更新查询变体失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, query)
}

// DeleteQuery 删除查询变体
// @Summary 删除版本化查询变体
// @Description 按ID删除查询变体；删除后版本区间无覆盖时由内置查询兜底
// @Tags queries
// @Produce json
// @Param id path int true "查询变体ID"
// @Success 200 {object} SuccessResponse "删除成功"
// @Failure 404 {object} ErrorResponse "查询变体不存在"
// @Router /api/v1/queries/{id} [delete]
func (h *QueryHandler) DeleteQuery(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "查询变体ID无效: " + c.Param("id"),
		})
		return
	}

	if err := h.store.DeleteQuery(uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "QUERY_NOT_FOUND",
				Message: "查询变体不存在: " + c.Param("id"),
			})
			return
		}
		logger.Error("Failed to delete versioned query", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "DELETE_FAILED",
			Message: "删除查询变体失败: " + err.Error(),
		})
		return
	}

	logger.Info("Versioned query deleted", "id", id)
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "DELETED",
		Message: "查询变体已删除",
	})
}

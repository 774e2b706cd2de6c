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

// ExceptionHandler 检查豁免处理器
type ExceptionHandler struct {
	store *collector.Store
}

// NewExceptionHandler 创建检查豁免处理器
func NewExceptionHandler(store *collector.Store) *ExceptionHandler {
	return &ExceptionHandler{store: store}
}

// ListExceptions 列出豁免规则
// @Summary 列出检查豁免规则
// @Description 按collector过滤（可选），返回含停用与过期行的全部豁免规则
// @Tags exceptions
// @Produce json
// @Param collector query string false "采集器名称"
// @Success 200 {array} model.CheckException "豁免规则列表"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/v1/exceptions [get]
func (h *ExceptionHandler) ListExceptions(c *gin.Context) {
	name := strings.ToLower(c.Query("collector"))
	exceptions, err := h.store.ListExceptions(name)
	if err != nil {
		logger.Error("Failed to list exceptions", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "读取豁免规则失败: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, exceptions)
}

// CreateException 新增豁免规则
// @Summary 新增检查豁免规则
// @Description 豁免仅抑制评分与告警，采集数据照常写入
// @Tags exceptions
// @Accept json
// @Produce json
// @Param request body model.CheckException true "豁免规则"
// @Success 201 {object} model.CheckException "创建的豁免规则"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/exceptions [post]
func (h *ExceptionHandler) CreateException(c *gin.Context) {
	var exc model.CheckException
	if err := c.ShouldBindJSON(&exc); err != nil {
		logger.Error("Invalid request parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}
	if exc.Collector == "" || exc.ServerPattern == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_FAILED",
			Message: "collector与server_pattern不能为空",
		})
		return
	}

	if err := h.store.CreateException(&exc); err != nil {
		logger.Error("Failed to create exception", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "CREATE_FAILED",
			Message: "创建豁免规则失败: " + err.Error(),
		})
		return
	}

	logger.Info("Exception created", "id", exc.ID,
		"collector", exc.Collector, "server_pattern", exc.ServerPattern)
	c.JSON(http.StatusCreated, exc)
}

// UpdateException 更新豁免规则
// @Summary 更新检查豁免规则
// @Description 按ID整体更新豁免规则字段
// @Tags exceptions
// @Accept json
// @Produce json
// @Param id path int true "豁免规则ID"
// @Param request body model.CheckException true "豁免规则"
// @Success 200 {object} model.CheckException "更新后的豁免规则"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 404 {object} ErrorResponse "豁免规则不存在"
// @Router /api/v1/exceptions/{id} [put]
func (h *ExceptionHandler) UpdateException(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "豁免规则ID无效: " + c.Param("id"),
		})
		return
	}

	var exc model.CheckException
	if err := c.ShouldBindJSON(&exc); err != nil {
		logger.Error("Invalid request parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}
	exc.ID = uint(id)
	if exc.Collector == "" || exc.ServerPattern == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_FAILED",
			Message: "collector与server_pattern不能为空",
		})
		return
	}

	if err := h.store.UpdateException(&exc); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "EXCEPTION_NOT_FOUND",
				Message: "豁免规则不存在: " + c.Param("id"),
			})
			return
		}
		logger.Error("Failed to update exception", "id", exc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "UPDATE_FAILED",
			Message: "更新豁免规则失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, exc)
}

// DeleteException 删除豁免规则
// @Summary 删除检查豁免规则
// @Description 按ID删除豁免规则
// @Tags exceptions
// @Produce json
// @Param id path int true "豁免规则ID"
// @Success 200 {object} SuccessResponse "删除成功"
// @Failure 404 {object} ErrorResponse "豁免规则不存在"
// @Router /api/v1/exceptions/{id} [delete]
func (h *ExceptionHandler) DeleteException(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "豁免规则ID无效: " + c.Param("id"),
		})
		return
	}

	if err := h.store.DeleteException(uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "EXCEPTION_NOT_FOUND",
				Message: "豁免规则不存在: " + c.Param("id"),
			})
			return
		}
		logger.Error("Failed to delete exception", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "DELETE_FAILED",
			Message: "删除豁免规则失败: " + err.Error(),
		})
		return
	}

	logger.Info("Exception deleted", "id", id)
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "DELETED",
		Message: "豁免规则已删除",
	})
}

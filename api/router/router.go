package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/api/handler"
	"github.com/sqlhealthpro/sqlhealthpro/internal/collector"
	"github.com/sqlhealthpro/sqlhealthpro/internal/notify"
	"github.com/sqlhealthpro/sqlhealthpro/internal/orchestrator"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// SetupRouter 设置路由
func SetupRouter(store *collector.Store, runner *collector.Runner, orch *orchestrator.Orchestrator, db *gorm.DB, hub *notify.Hub) *gin.Engine {
	// 设置Gin模式
	gin.SetMode(gin.ReleaseMode)

	// 创建路由引擎
	r := gin.New()

	// 添加中间件
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	// 创建处理器
	collectorHandler := handler.NewCollectorHandler(store, runner, orch)
	ruleHandler := handler.NewRuleHandler(store)
	queryHandler := handler.NewQueryHandler(store)
	exceptionHandler := handler.NewExceptionHandler(store)
	scoreHandler := handler.NewScoreHandler(db)

	// 根路径
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "SQL Health Pro",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	// API v1 路由组
	v1 := r.Group("/api/v1")
	{
		// 健康检查与统计
		v1.GET("/health", collectorHandler.Health)
		v1.GET("/stats", collectorHandler.GetStats)

		// 采集器配置与触发
		collectors := v1.Group("/collectors")
		{
			collectors.GET("", collectorHandler.ListConfigs)
			collectors.PUT("/:name", collectorHandler.UpdateConfig)
			collectors.POST("/:name/trigger", collectorHandler.Trigger)
		}

		// 执行日志
		v1.GET("/executions", collectorHandler.ListExecutions)

		// 阈值规则管理
		rules := v1.Group("/rules")
		{
			rules.GET("", ruleHandler.ListRules)
			rules.POST("", ruleHandler.CreateRule)
			rules.PUT("/:id", ruleHandler.UpdateRule)
			rules.DELETE("/:id", ruleHandler.DeleteRule)
		}

		// 版本化查询管理
		queries := v1.Group("/queries")
		{
			queries.GET("", queryHandler.ListQueries)
			queries.POST("", queryHandler.CreateQuery)
			queries.PUT("/:id", queryHandler.UpdateQuery)
			queries.DELETE("/:id", queryHandler.DeleteQuery)
		}

		// 检查豁免管理
		exceptions := v1.Group("/exceptions")
		{
			exceptions.GET("", exceptionHandler.ListExceptions)
			exceptions.POST("", exceptionHandler.CreateException)
			exceptions.PUT("/:id", exceptionHandler.UpdateException)
			exceptions.DELETE("/:id", exceptionHandler.DeleteException)
		}

		// 健康分查询
		scores := v1.Group("/scores")
		{
			scores.GET("", scoreHandler.ListLatestScores)
			scores.GET("/weights", scoreHandler.GetWeights)
			scores.GET("/:instance", scoreHandler.GetScoreHistory)
		}

		// 实时事件推送
		v1.GET("/ws/events", gin.WrapH(hub))
	}

	// 404处理
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		requestID := c.GetString("request_id")
		method := c.Request.Method
		path := c.Request.URL.Path
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()

		logger.Info("HTTP Request",
			"request_id", requestID,
			"method", method,
			"path", path,
			"status", statusCode,
			"duration", duration,
			"client_ip", clientIP,
		)

		if statusCode >= 400 {
			logger.Error("HTTP Error",
				"request_id", requestID,
				"method", method,
				"path", path,
				"status", statusCode,
				"duration", duration,
				"client_ip", clientIP,
			)
		}
	}
}

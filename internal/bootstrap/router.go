package bootstrap

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	httpHandler "exam-coordinator/internal/handler/http"
	wsHandler "exam-coordinator/internal/handler/websocket"
	"exam-coordinator/internal/middleware"
)

// RouterDeps 汇总路由所需的处理器与中间件参数。
type RouterDeps struct {
	Log               *logrus.Logger
	RedisClient       *redis.Client
	KeyPrefix         string
	JWTSecret         string
	RateLimitMax      int
	RateLimitWindow   time.Duration
	CORSAllowedOrigin string

	Sessions    *httpHandler.SessionHandler
	Roster      *httpHandler.RosterHandler
	Submissions *httpHandler.SubmissionHandler
	WebSocket   *wsHandler.WebSocketHandler
}

// NewRouter 创建 Gin 引擎并注册全部路由
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(deps.Log))
	router.Use(corsMiddleware(deps.CORSAllowedOrigin))

	api := router.Group("/api")
	api.Use(middleware.Auth(deps.JWTSecret))
	// 认证之后再限流，已登录用户按 user_id 计数
	api.Use(middleware.RateLimit(deps.RedisClient, deps.KeyPrefix, deps.RateLimitMax, deps.RateLimitWindow))

	teacher := middleware.RequireRole(middleware.RoleTeacher)
	student := middleware.RequireRole(middleware.RoleStudent)

	sessions := api.Group("/sessions")
	{
		sessions.POST("", teacher, deps.Sessions.Create)
		sessions.POST("/join", student, deps.Roster.Join)
		sessions.GET("/:id", deps.Sessions.Get)
		sessions.POST("/:id/open", teacher, deps.Sessions.Open)
		sessions.POST("/:id/start", teacher, deps.Sessions.Start)
		sessions.POST("/:id/close", teacher, deps.Sessions.Close)
		sessions.POST("/:id/leave", student, deps.Roster.Leave)
		sessions.GET("/:id/roster", deps.Roster.Roster)
		sessions.POST("/:id/submissions", student, deps.Submissions.Submit)
		sessions.GET("/:id/leaderboard", deps.Submissions.Leaderboard)
	}
	api.GET("/codes/:code", deps.Sessions.ResolveCode)

	wsRoutes := router.Group("/ws").Use(middleware.Auth(deps.JWTSecret))
	{
		wsRoutes.GET("/sessions/:id", deps.WebSocket.HandleConnection)
	}

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	return router
}

func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		// token 可能出现在查询串中，不记录 RawQuery
		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
		})

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}

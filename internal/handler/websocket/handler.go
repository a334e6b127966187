package websocket

import (
	"context"
	"net/http"
	"time"

	"exam-coordinator/internal/domain"
	httpHandler "exam-coordinator/internal/handler/http"
	"exam-coordinator/internal/hub"
	"exam-coordinator/internal/middleware"
	"exam-coordinator/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// seedTimeout 限制为新订阅者加载持久化状态的耗时
const seedTimeout = 5 * time.Second

// WebSocketHandler 负责处理 WebSocket 升级请求并订阅会话主题
type WebSocketHandler struct {
	upgrader  websocket.Upgrader
	hub       *hub.Hub
	lifecycle *service.LifecycleService
	roster    *service.RosterService
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空时不检查 Origin。
func NewWebSocketHandler(h *hub.Hub, lifecycle *service.LifecycleService, roster *service.RosterService, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if lifecycle == nil || roster == nil {
		panic("services cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || origin == "" || origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader:  upgrader,
		hub:       h,
		lifecycle: lifecycle,
		roster:    roster,
	}
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /ws/sessions/{id}
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		httpHandler.ErrorResponse(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return
	}
	sessionID := c.Param("id")
	logCtx := logrus.WithFields(logrus.Fields{"user_id": identity.UserID, "session_id": sessionID})

	// 1. 升级前校验会话，出错时仍可返回普通 HTTP 响应
	session, err := h.lifecycle.Get(c.Request.Context(), sessionID)
	if err != nil {
		httpHandler.HandleServiceError(c, err)
		return
	}
	if identity.IsTeacher() && session.TeacherID != identity.UserID {
		logCtx.Warn("WS Handler: Teacher is not the session owner")
		httpHandler.HandleServiceError(c, service.ErrNotSessionOwner)
		return
	}

	// 2. 订阅主题；主题为空时从持久化状态补齐
	sub, err := h.hub.Subscribe(sessionID, func() ([]domain.Event, error) {
		ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
		defer cancel()
		return h.lifecycle.CurrentEvents(ctx, sessionID)
	})
	if err != nil {
		logCtx.WithError(err).Error("WS Handler: Failed to subscribe")
		httpHandler.HandleServiceError(c, err)
		return
	}

	// 3. 升级 HTTP 连接到 WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 方法会自动发送 HTTP 错误响应
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		h.hub.Unsubscribe(sub)
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	// 4. 学生的连接状态计入名单的 connected 标志
	var presence hub.Presence
	if identity.Role == middleware.RoleStudent {
		presence = h.roster
	}
	hub.NewClient(h.hub, sub, conn, identity.UserID, presence).Run()
}

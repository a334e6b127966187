package http

import (
	"context"
	"net/http"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionHandler 封装了会话生命周期相关的 HTTP 处理逻辑
type SessionHandler struct {
	lifecycle *service.LifecycleService
	registry  *service.AccessCodeRegistry
}

// NewSessionHandler 创建 SessionHandler 实例
func NewSessionHandler(lifecycle *service.LifecycleService, registry *service.AccessCodeRegistry) *SessionHandler {
	if lifecycle == nil || registry == nil {
		panic("services cannot be nil for SessionHandler")
	}
	return &SessionHandler{lifecycle: lifecycle, registry: registry}
}

// CreateSessionRequest 定义创建会话请求的结构体
type CreateSessionRequest struct {
	DurationSeconds int `json:"duration_seconds" binding:"required,min=1"`
	MaxParticipants int `json:"max_participants" binding:"omitempty,min=1"`
}

// ResolveCodeResponse 定义访问码解析结果
type ResolveCodeResponse struct {
	SessionID string       `json:"session_id"`
	State     domain.State `json:"state"`
}

// Create 处理教师创建会话的请求
func (h *SessionHandler) Create(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateSession: Invalid request body")
		ErrorResponse(c, http.StatusBadRequest, "invalid_input", "Invalid request body: "+err.Error())
		return
	}

	session, err := h.lifecycle.Create(c.Request.Context(), identity.UserID, service.CreateSessionInput{
		DurationSeconds: req.DurationSeconds,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, session)
}

// Get 返回会话详情
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, session)
}

// Open 开放等候室
func (h *SessionHandler) Open(c *gin.Context) {
	h.transition(c, h.lifecycle.Open)
}

// Start 开始考试
func (h *SessionHandler) Start(c *gin.Context) {
	h.transition(c, h.lifecycle.Start)
}

// Close 提前结束考试
func (h *SessionHandler) Close(c *gin.Context) {
	h.transition(c, h.lifecycle.Close)
}

// ResolveCode 将访问码解析为会话
func (h *SessionHandler) ResolveCode(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID, err := h.registry.Resolve(ctx, c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	session, err := h.lifecycle.Get(ctx, sessionID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, ResolveCodeResponse{SessionID: session.ID, State: session.State})
}

type transitionFunc func(ctx context.Context, teacherID uint, sessionID string) (*domain.Session, error)

func (h *SessionHandler) transition(c *gin.Context, fn transitionFunc) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	session, err := fn(c.Request.Context(), identity.UserID, c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, session)
}

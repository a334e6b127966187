package http

import (
	"net/http"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RosterHandler 封装了等候室相关的 HTTP 处理逻辑
type RosterHandler struct {
	registry *service.AccessCodeRegistry
	roster   *service.RosterService
}

// NewRosterHandler 创建 RosterHandler 实例
func NewRosterHandler(registry *service.AccessCodeRegistry, roster *service.RosterService) *RosterHandler {
	if registry == nil || roster == nil {
		panic("services cannot be nil for RosterHandler")
	}
	return &RosterHandler{registry: registry, roster: roster}
}

// JoinRequest 定义加入等候室请求的结构体。
// 显示名和头像缺省时使用 JWT 中的 name 和 avatar。
type JoinRequest struct {
	AccessCode  string `json:"access_code" binding:"required"`
	DisplayName string `json:"display_name" binding:"omitempty,max=100"`
	Avatar      string `json:"avatar" binding:"omitempty,max=255"`
}

// JoinResponse 定义加入成功的响应结构体
type JoinResponse struct {
	SessionID string                `json:"session_id"`
	Roster    domain.RosterSnapshot `json:"roster"`
}

// Join 处理学生通过访问码加入等候室
func (h *RosterHandler) Join(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Join: Invalid request body")
		ErrorResponse(c, http.StatusBadRequest, "invalid_input", "Invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	sessionID, err := h.registry.Resolve(ctx, req.AccessCode)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	student := service.Student{ID: identity.UserID, DisplayName: identity.Name, AvatarRef: identity.Avatar}
	if req.DisplayName != "" {
		student.DisplayName = req.DisplayName
	}
	if req.Avatar != "" {
		student.AvatarRef = req.Avatar
	}

	snapshot, err := h.roster.Join(ctx, sessionID, student)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, JoinResponse{SessionID: sessionID, Roster: snapshot})
}

// Leave 处理学生离开等候室
func (h *RosterHandler) Leave(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	if err := h.roster.Leave(c.Request.Context(), c.Param("id"), identity.UserID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Roster 返回会话当前的名单快照
func (h *RosterHandler) Roster(c *gin.Context) {
	snapshot, err := h.roster.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, snapshot)
}

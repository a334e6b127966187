package http

import (
	"encoding/json"
	"net/http"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SubmissionHandler 封装了提交与排行榜相关的 HTTP 处理逻辑
type SubmissionHandler struct {
	submissions *service.SubmissionService
}

// NewSubmissionHandler 创建 SubmissionHandler 实例
func NewSubmissionHandler(submissions *service.SubmissionService) *SubmissionHandler {
	if submissions == nil {
		panic("SubmissionService cannot be nil for SubmissionHandler")
	}
	return &SubmissionHandler{submissions: submissions}
}

// SubmitRequest 定义提交请求的结构体，answers 原样转发给评分服务
type SubmitRequest struct {
	Answers json.RawMessage `json:"answers" binding:"required"`
}

// LeaderboardResponse 定义排行榜响应
type LeaderboardResponse struct {
	SessionID string                    `json:"session_id"`
	Entries   []domain.LeaderboardEntry `json:"entries"`
}

// Submit 处理学生提交答案
func (h *SubmissionHandler) Submit(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Submit: Invalid request body")
		ErrorResponse(c, http.StatusBadRequest, "invalid_input", "Invalid request body: "+err.Error())
		return
	}

	submission, err := h.submissions.Submit(c.Request.Context(), c.Param("id"), identity.UserID, req.Answers)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, submission)
}

// Leaderboard 返回会话的排行榜
func (h *SubmissionHandler) Leaderboard(c *gin.Context) {
	sessionID := c.Param("id")
	entries, err := h.submissions.Leaderboard(c.Request.Context(), sessionID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, LeaderboardResponse{SessionID: sessionID, Entries: entries})
}

package http

import (
	"errors"
	"net/http"

	"exam-coordinator/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// retryAfterSeconds 是依赖暂时不可用时建议客户端等待的秒数
const retryAfterSeconds = "2"

// HandleServiceError 将服务层错误映射为 HTTP 状态码和错误码。
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrAccessCodeNotFound):
		ErrorResponse(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		ErrorResponse(c, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, service.ErrAlreadyStarted):
		ErrorResponse(c, http.StatusConflict, "already_started", err.Error())
	case errors.Is(err, service.ErrRoomFull):
		ErrorResponse(c, http.StatusConflict, "room_full", err.Error())
	case errors.Is(err, service.ErrSessionNotJoinable):
		ErrorResponse(c, http.StatusConflict, "session_not_joinable", err.Error())
	case errors.Is(err, service.ErrDuplicateSubmission):
		ErrorResponse(c, http.StatusConflict, "duplicate_submission", err.Error())
	case errors.Is(err, service.ErrSubmissionWindowClosed):
		ErrorResponse(c, http.StatusGone, "submission_window_closed", err.Error())
	case errors.Is(err, service.ErrNotSessionOwner):
		ErrorResponse(c, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		ErrorResponse(c, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, service.ErrTransientDependency):
		logrus.WithError(err).Warn("Dependency unavailable")
		c.Header("Retry-After", retryAfterSeconds)
		ErrorResponse(c, http.StatusServiceUnavailable, "dependency_unavailable", service.ErrTransientDependency.Error())
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

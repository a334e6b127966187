package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"exam-coordinator/internal/service"
	"exam-coordinator/internal/tasks"
)

// SessionExpirer 由 service.LifecycleService 实现。
type SessionExpirer interface {
	Expire(ctx context.Context, sessionID string, startedAt time.Time) (bool, error)
}

// SessionArchiver 由 service.LifecycleService 实现。
type SessionArchiver interface {
	Archive(ctx context.Context, sessionID string) error
}

// RosterSweeper 由 service.RosterService 实现。
type RosterSweeper interface {
	SweepStale(ctx context.Context, timeout time.Duration) (int, error)
}

func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	retryCount, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     retryCount,
		"max_retry": maxRetry,
	})
}

// retryable 决定失败的任务是否值得重试：只有暂时性依赖失败才重试。
func retryable(err error) error {
	if errors.Is(err, service.ErrTransientDependency) {
		return err
	}
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// ExpireHandler 处理考试到时自动关闭任务。
type ExpireHandler struct {
	sessions SessionExpirer
}

// NewExpireHandler 创建 Handler 实例
func NewExpireHandler(sessions SessionExpirer) *ExpireHandler {
	if sessions == nil {
		panic("SessionExpirer cannot be nil for ExpireHandler")
	}
	return &ExpireHandler{sessions: sessions}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *ExpireHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	var payload tasks.SessionExpirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("session_id", payload.SessionID)

	closed, err := h.sessions.Expire(ctx, payload.SessionID, payload.StartedAt)
	if err != nil {
		logCtx.WithError(err).Error("Failed to expire session")
		return retryable(err)
	}
	if closed {
		logCtx.Info("Session closed on expiry")
	} else {
		logCtx.Debug("Expiry ignored, session no longer running")
	}
	return nil
}

// ArchiveHandler 处理已关闭会话的归档任务。
type ArchiveHandler struct {
	sessions SessionArchiver
}

// NewArchiveHandler 创建 Handler 实例
func NewArchiveHandler(sessions SessionArchiver) *ArchiveHandler {
	if sessions == nil {
		panic("SessionArchiver cannot be nil for ArchiveHandler")
	}
	return &ArchiveHandler{sessions: sessions}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *ArchiveHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	var payload tasks.SessionArchivePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("session_id", payload.SessionID)

	if err := h.sessions.Archive(ctx, payload.SessionID); err != nil {
		logCtx.WithError(err).Error("Failed to archive session")
		return retryable(err)
	}
	return nil
}

// SweepHandler 处理周期性的失联学生清理任务。
type SweepHandler struct {
	roster  RosterSweeper
	timeout time.Duration
}

// NewSweepHandler 创建 Handler 实例，timeout 为判定失联的时长。
func NewSweepHandler(roster RosterSweeper, timeout time.Duration) *SweepHandler {
	if roster == nil {
		panic("RosterSweeper cannot be nil for SweepHandler")
	}
	return &SweepHandler{roster: roster, timeout: timeout}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *SweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	removed, err := h.roster.SweepStale(ctx, h.timeout)
	if err != nil {
		logCtx.WithError(err).WithField("removed", removed).Error("Roster sweep failed")
		return retryable(err)
	}
	logCtx.WithField("removed", removed).Debug("Roster sweep finished")
	return nil
}

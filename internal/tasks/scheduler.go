package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// AsynqScheduler 使用 asynq 的延时任务实现 service.Scheduler。
type AsynqScheduler struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewAsynqScheduler 创建 AsynqScheduler 实例。
func NewAsynqScheduler(redisOpt asynq.RedisConnOpt) *AsynqScheduler {
	return &AsynqScheduler{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}
}

// ScheduleExpiry 安排在 at 时刻自动关闭会话。
func (s *AsynqScheduler) ScheduleExpiry(ctx context.Context, sessionID string, startedAt, at time.Time) error {
	payload, err := NewSessionExpirePayload(sessionID, startedAt)
	if err != nil {
		return fmt.Errorf("encode expire payload: %w", err)
	}
	return s.enqueue(ctx, asynq.NewTask(TypeSessionExpire, payload), ExpireTaskID(sessionID), at)
}

// CancelExpiry 删除尚未执行的自动关闭任务，任务不存在时视为成功。
func (s *AsynqScheduler) CancelExpiry(_ context.Context, sessionID string) error {
	err := s.inspector.DeleteTask(QueueCritical, ExpireTaskID(sessionID))
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return fmt.Errorf("delete expire task: %w", err)
}

// ScheduleArchive 安排在 at 时刻归档会话。
func (s *AsynqScheduler) ScheduleArchive(ctx context.Context, sessionID string, at time.Time) error {
	payload, err := NewSessionArchivePayload(sessionID)
	if err != nil {
		return fmt.Errorf("encode archive payload: %w", err)
	}
	return s.enqueue(ctx, asynq.NewTask(TypeSessionArchive, payload), ArchiveTaskID(sessionID), at)
}

// Close 关闭底层的 Redis 连接。
func (s *AsynqScheduler) Close() error {
	if err := s.inspector.Close(); err != nil {
		return err
	}
	return s.client.Close()
}

func (s *AsynqScheduler) enqueue(ctx context.Context, task *asynq.Task, taskID string, at time.Time) error {
	info, err := s.client.EnqueueContext(ctx, task,
		asynq.TaskID(taskID),
		asynq.ProcessAt(at),
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(5),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// 同一会话的任务已在队列中
			logrus.WithField("task_id", taskID).Debug("Task already scheduled")
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	logrus.WithFields(logrus.Fields{"task_id": info.ID, "task_type": info.Type, "process_at": at}).Debug("Task scheduled")
	return nil
}

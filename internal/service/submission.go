package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// SubmissionService 接收学生提交、调用评分服务并维护排行榜。
type SubmissionService struct {
	sessions    repository.SessionRepository
	submissions repository.SubmissionRepository
	grader      Grader
	grace       time.Duration
	now         func() time.Time
}

// NewSubmissionService 创建 SubmissionService 实例。
func NewSubmissionService(
	sessions repository.SessionRepository,
	submissions repository.SubmissionRepository,
	grader Grader,
	grace time.Duration,
) *SubmissionService {
	if sessions == nil || submissions == nil {
		panic("repositories cannot be nil for SubmissionService")
	}
	if grader == nil {
		panic("Grader cannot be nil for SubmissionService")
	}
	return &SubmissionService{
		sessions:    sessions,
		submissions: submissions,
		grader:      grader,
		grace:       grace,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit 记录学生的唯一一次提交。
// 提交时刻取服务端收到请求的时间；评分失败时不写入任何记录，学生可以重试。
func (s *SubmissionService) Submit(ctx context.Context, sessionID string, studentID uint, answers []byte) (*domain.Submission, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "student_id": studentID})

	if len(answers) == 0 || !json.Valid(answers) {
		return nil, ErrInvalidInput
	}
	receivedAt := s.now()

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, mapRepoError("load session", err, ErrSessionNotFound)
	}
	if !s.windowOpen(session, receivedAt) {
		logCtx.WithField("state", session.State).Warn("Submission rejected: window closed")
		return nil, ErrSubmissionWindowClosed
	}

	_, err = s.submissions.Find(ctx, sessionID, studentID)
	switch {
	case err == nil:
		return nil, ErrDuplicateSubmission
	case !errors.Is(err, repository.ErrSubmissionNotFound):
		return nil, transient("find submission", err)
	}

	result, err := s.grader.Grade(ctx, sessionID, studentID, answers)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		logCtx.WithError(err).Error("Grading failed")
		return nil, transient("grade submission", err)
	}

	submission := &domain.Submission{
		SessionID:      sessionID,
		StudentID:      studentID,
		Answers:        datatypes.JSON(answers),
		Score:          result.Score,
		CorrectCount:   result.CorrectCount,
		IncorrectCount: result.IncorrectCount,
		SubmittedAt:    receivedAt,
	}
	if err := s.submissions.Create(ctx, submission); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.Warn("Concurrent duplicate submission rejected")
			return nil, ErrDuplicateSubmission
		}
		return nil, transient("save submission", err)
	}
	logCtx.WithField("score", submission.Score).Info("Submission recorded")
	return submission, nil
}

// Leaderboard 返回会话当前的排行榜，每次调用都根据已有提交重新计算。
func (s *SubmissionService) Leaderboard(ctx context.Context, sessionID string) ([]domain.LeaderboardEntry, error) {
	if _, err := s.sessions.FindByID(ctx, sessionID); err != nil {
		return nil, mapRepoError("load session", err, ErrSessionNotFound)
	}
	submissions, err := s.submissions.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, transient("list submissions", err)
	}
	return Rank(submissions), nil
}

// windowOpen 判断提交窗口：RUNNING 期间开放，关闭后再保留一个宽限期。
// 计时器滞后时，RUNNING 会话在到期时刻加宽限期之后同样视为关闭。
func (s *SubmissionService) windowOpen(session *domain.Session, at time.Time) bool {
	switch session.State {
	case domain.StateRunning:
		if session.StartedAt == nil {
			return true
		}
		return !at.After(session.ExpiresAt().Add(s.grace))
	case domain.StateClosed:
		return session.ClosedAt != nil && !at.After(session.ClosedAt.Add(s.grace))
	}
	return false
}

package service

import (
	"errors"
	"fmt"

	"exam-coordinator/internal/repository"
)

var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrAccessCodeNotFound     = errors.New("invalid or expired access code")
	ErrInvalidTransition      = errors.New("invalid session state transition")
	ErrAlreadyStarted         = errors.New("session already started")
	ErrRoomFull               = errors.New("room is full")
	ErrSessionNotJoinable     = errors.New("session is not open for joining")
	ErrDuplicateSubmission    = errors.New("submission already exists for this student")
	ErrSubmissionWindowClosed = errors.New("submission window is closed")
	ErrTransientDependency    = errors.New("dependency temporarily unavailable")
	ErrNotSessionOwner        = errors.New("only the session owner can perform this action")
	ErrInvalidInput           = errors.New("invalid input")
)

// transient 将协作方 (数据库、Redis、评分服务) 的失败包装为可重试错误，保留原始原因。
func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransientDependency, op, err)
}

// mapRepoError 将仓库层错误映射到服务层定义的错误。
// notFound 为记录不存在时返回的业务错误。
func mapRepoError(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}
	if notFound != nil && errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return transient(op, err)
}

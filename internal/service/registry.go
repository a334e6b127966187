package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/repository"

	"github.com/sirupsen/logrus"
)

const (
	accessCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	accessCodeLength   = 6
	maxCodeAttempts    = 10
)

// AccessCodeRegistry 负责生成、解析和释放访问码。
// 访问码的唯一性由 CodeStore 的原子预留保证，只在非 CLOSED 会话之间唯一。
type AccessCodeRegistry struct {
	codes    repository.CodeStore
	sessions repository.SessionRepository
	generate func() (string, error)
}

// NewAccessCodeRegistry 创建 AccessCodeRegistry 实例。
func NewAccessCodeRegistry(codes repository.CodeStore, sessions repository.SessionRepository) *AccessCodeRegistry {
	if codes == nil {
		panic("CodeStore cannot be nil for AccessCodeRegistry")
	}
	if sessions == nil {
		panic("SessionRepository cannot be nil for AccessCodeRegistry")
	}
	return &AccessCodeRegistry{codes: codes, sessions: sessions, generate: randomAccessCode}
}

// Register 为会话生成并预留一个新的访问码。
func (r *AccessCodeRegistry) Register(ctx context.Context, sessionID string) (string, error) {
	logCtx := logrus.WithField("session_id", sessionID)

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := r.generate()
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		ok, err := r.codes.Reserve(ctx, code, sessionID)
		if err != nil {
			logCtx.WithError(err).Error("Failed to reserve access code")
			return "", transient("reserve access code", err)
		}
		if ok {
			logCtx.WithField("access_code", code).Debugf("Reserved access code after %d attempt(s)", attempt)
			return code, nil
		}
		logCtx.WithField("access_code", code).Warnf("Access code already in use, retrying (attempt %d)", attempt)
	}
	logCtx.Errorf("Failed to reserve a unique access code after %d attempts", maxCodeAttempts)
	return "", fmt.Errorf("failed to reserve a unique access code after %d attempts", maxCodeAttempts)
}

// Resolve 将访问码解析为会话 ID，大小写不敏感。
// 访问码未被持有或对应会话已关闭时返回 ErrAccessCodeNotFound。
func (r *AccessCodeRegistry) Resolve(ctx context.Context, code string) (string, error) {
	code = domain.NormalizeAccessCode(code)
	logCtx := logrus.WithField("access_code", code)
	if !domain.ValidAccessCode(code) {
		return "", ErrAccessCodeNotFound
	}

	sessionID, err := r.codes.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return "", ErrAccessCodeNotFound
		}
		logCtx.WithError(err).Error("Failed to look up access code")
		return "", transient("lookup access code", err)
	}

	// 持久化层是事实来源：预留可能在关闭时释放失败而残留
	session, err := r.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			logCtx.WithField("session_id", sessionID).Warn("Access code points to a missing session")
			return "", ErrAccessCodeNotFound
		}
		return "", transient("load session", err)
	}
	if !session.State.Active() || session.AccessCode != code {
		logCtx.WithField("session_id", sessionID).Warn("Access code points to an inactive session, releasing")
		if err := r.codes.Release(ctx, code, sessionID); err != nil {
			logCtx.WithError(err).Warn("Failed to release stale access code")
		}
		return "", ErrAccessCodeNotFound
	}
	return sessionID, nil
}

// Release 释放会话持有的访问码，之后该码可被新会话重新使用。
func (r *AccessCodeRegistry) Release(ctx context.Context, code, sessionID string) error {
	if err := r.codes.Release(ctx, domain.NormalizeAccessCode(code), sessionID); err != nil {
		return transient("release access code", err)
	}
	return nil
}

func randomAccessCode() (string, error) {
	b := make([]byte, accessCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i := range b {
		b[i] = accessCodeAlphabet[int(b[i])%len(accessCodeAlphabet)]
	}
	return string(b), nil
}

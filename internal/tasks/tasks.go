package tasks

import (
	"encoding/json"
	"time"
)

// 定义任务类型常量
const (
	TypeSessionExpire  = "session:expire"  // 考试到时自动关闭
	TypeSessionArchive = "session:archive" // 宽限期结束后归档
	TypeRosterSweep    = "roster:sweep"    // 周期性清理失联学生
)

// 队列名称
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// SessionExpirePayload 定义了自动关闭任务的数据结构。
// StartedAt 用于识别任务属于哪一次开始，过期的任务在处理时被忽略。
type SessionExpirePayload struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// SessionArchivePayload 定义了归档任务的数据结构。
type SessionArchivePayload struct {
	SessionID string `json:"session_id"`
}

// NewSessionExpirePayload 序列化自动关闭任务的 payload。
func NewSessionExpirePayload(sessionID string, startedAt time.Time) ([]byte, error) {
	return json.Marshal(SessionExpirePayload{SessionID: sessionID, StartedAt: startedAt})
}

// NewSessionArchivePayload 序列化归档任务的 payload。
func NewSessionArchivePayload(sessionID string) ([]byte, error) {
	return json.Marshal(SessionArchivePayload{SessionID: sessionID})
}

// ExpireTaskID 返回会话自动关闭任务的唯一 ID，同一会话不会重复入队。
func ExpireTaskID(sessionID string) string { return "expire:" + sessionID }

// ArchiveTaskID 返回会话归档任务的唯一 ID。
func ArchiveTaskID(sessionID string) string { return "archive:" + sessionID }

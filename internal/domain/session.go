package domain

import (
	"strings"
	"time"
)

// State 表示考试会话的生命周期状态。
type State string

const (
	StatePending State = "PENDING" // 已创建，尚未开放加入
	StateWaiting State = "WAITING" // 等候室开放，学生可加入
	StateRunning State = "RUNNING" // 考试进行中，不再接受加入
	StateClosed  State = "CLOSED"  // 终态，宽限期内仍接受提交
)

// transitions 是生命周期的转换表：key 为当前状态，value 为允许的下一个状态。
var transitions = map[State]State{
	StatePending: StateWaiting,
	StateWaiting: StateRunning,
	StateRunning: StateClosed,
}

// CanTransition 判断 from -> to 是否为合法转换。
func CanTransition(from, to State) bool {
	next, ok := transitions[from]
	return ok && next == to
}

// Rank 返回状态在生命周期中的顺序，用于判断状态是否"更新"。
func (s State) Rank() int {
	switch s {
	case StatePending:
		return 0
	case StateWaiting:
		return 1
	case StateRunning:
		return 2
	case StateClosed:
		return 3
	}
	return -1
}

// Valid 判断状态值是否为已知状态。
func (s State) Valid() bool { return s.Rank() >= 0 }

// Active 表示会话是否仍持有访问码 (非 CLOSED)。
func (s State) Active() bool { return s.Valid() && s != StateClosed }

// Session 表示一场实时考试。
type Session struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	TeacherID       uint       `gorm:"index;not null" json:"teacher_id"`
	AccessCode      string     `gorm:"index;size:8;not null" json:"access_code"` // 仅在非 CLOSED 会话间唯一，由 Redis 预留保证
	State           State      `gorm:"size:16;index;not null" json:"state"`
	DurationSeconds int        `gorm:"not null" json:"duration_seconds"`
	MaxParticipants int        `gorm:"not null" json:"max_participants"`
	RosterVersion   uint64     `gorm:"not null;default:0" json:"roster_version"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
}

// Duration 返回配置的考试时长。
func (s *Session) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

// ExpiresAt 返回考试自然结束的时刻；未开始时返回零值。
func (s *Session) ExpiresAt() time.Time {
	if s.StartedAt == nil {
		return time.Time{}
	}
	return s.StartedAt.Add(s.Duration())
}

// NormalizeAccessCode 去除首尾空白并统一为大写，访问码比较不区分大小写。
func NormalizeAccessCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidAccessCode 检查访问码是否为 6–8 位字母数字。
func ValidAccessCode(code string) bool {
	if len(code) < 6 || len(code) > 8 {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

package domain

import "time"

// EventKind 区分通知总线上的事件类型。
type EventKind string

const (
	EventRosterDelta EventKind = "ROSTER_DELTA"
	EventLifecycle   EventKind = "LIFECYCLE"
)

// Event 是通知总线在单个会话主题上投递的消息。
// ROSTER_DELTA 携带 Version + Snapshot；LIFECYCLE 携带 State + Instant + RosterVersion。
type Event struct {
	Type      EventKind `json:"type"`
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"` // 主题内的发布序号，由总线分配

	Version  uint64          `json:"version,omitempty"`
	Snapshot *RosterSnapshot `json:"snapshot,omitempty"`

	State         State      `json:"state,omitempty"`
	Instant       *time.Time `json:"instant,omitempty"`
	RosterVersion uint64     `json:"roster_version,omitempty"`
}

// NewRosterDelta 构造 ROSTER_DELTA 事件。
func NewRosterDelta(snapshot RosterSnapshot) Event {
	s := snapshot
	return Event{
		Type:      EventRosterDelta,
		SessionID: snapshot.SessionID,
		Version:   snapshot.Version,
		Snapshot:  &s,
	}
}

// NewLifecycle 构造 LIFECYCLE 事件。
func NewLifecycle(sessionID string, state State, instant time.Time, rosterVersion uint64) Event {
	t := instant
	return Event{
		Type:          EventLifecycle,
		SessionID:     sessionID,
		State:         state,
		Instant:       &t,
		RosterVersion: rosterVersion,
	}
}

// Supersedes 判断 e 是否应替换同类型的已保留事件 prev。
// 快照只向更高版本前进，生命周期状态不回退。
func (e Event) Supersedes(prev Event) bool {
	switch e.Type {
	case EventRosterDelta:
		return e.Version > prev.Version
	case EventLifecycle:
		return e.State.Rank() > prev.State.Rank()
	}
	return false
}

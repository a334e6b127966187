package domain

import "time"

// Participant 是等候室中的一名学生，归其所在会话的 Roster 独占。
type Participant struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	SessionID   string    `gorm:"size:36;not null;uniqueIndex:idx_participant_session_student" json:"session_id"`
	StudentID   uint      `gorm:"not null;uniqueIndex:idx_participant_session_student" json:"student_id"`
	DisplayName string    `gorm:"size:100" json:"display_name"`
	AvatarRef   string    `gorm:"size:255" json:"avatar_ref,omitempty"`
	JoinedAt    time.Time `gorm:"not null" json:"joined_at"`
	Connected   bool      `gorm:"not null;default:false" json:"connected"`
	LastSeenAt  time.Time `gorm:"index;not null" json:"last_seen_at"`
}

// RosterSnapshot 是某一版本下的有序参与者列表。
// 版本号在每次成员变化时递增，消费者应丢弃低于已见版本的快照。
type RosterSnapshot struct {
	SessionID    string        `json:"session_id"`
	Version      uint64        `json:"version"`
	Participants []Participant `json:"participants"`
}

// Newer 判断 s 是否比 other 更新。
func (s RosterSnapshot) Newer(other RosterSnapshot) bool {
	return s.Version > other.Version
}

// Contains 判断学生是否在快照中。
func (s RosterSnapshot) Contains(studentID uint) bool {
	for _, p := range s.Participants {
		if p.StudentID == studentID {
			return true
		}
	}
	return false
}

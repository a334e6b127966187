package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Submission 是某名学生在某场考试中的唯一一次提交。
type Submission struct {
	ID             uint           `gorm:"primaryKey" json:"-"`
	SessionID      string         `gorm:"size:36;not null;uniqueIndex:idx_submission_session_student" json:"session_id"`
	StudentID      uint           `gorm:"not null;uniqueIndex:idx_submission_session_student" json:"student_id"`
	Answers        datatypes.JSON `gorm:"not null" json:"answers"`
	Score          float64        `gorm:"not null" json:"score"`
	CorrectCount   int            `gorm:"not null" json:"correct_count"`
	IncorrectCount int            `gorm:"not null" json:"incorrect_count"`
	SubmittedAt    time.Time      `gorm:"index;not null" json:"submitted_at"`
}

// GradeResult 是外部评分服务返回的结果。
type GradeResult struct {
	Score          float64 `json:"score"`
	CorrectCount   int     `json:"correct_count"`
	IncorrectCount int     `json:"incorrect_count"`
}

// LeaderboardEntry 是派生数据，不落库。
type LeaderboardEntry struct {
	Rank       int        `json:"rank"`
	Submission Submission `json:"submission"`
}

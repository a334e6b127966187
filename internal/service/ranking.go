package service

import (
	"sort"

	"exam-coordinator/internal/domain"
)

// Rank 按分数降序、提交时间升序、学生 ID 升序排列提交，名次从 1 开始且不并列。
// 相同输入总是得到相同输出，与输入顺序无关。
func Rank(submissions []domain.Submission) []domain.LeaderboardEntry {
	sorted := make([]domain.Submission, len(submissions))
	copy(sorted, submissions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rankedBefore(sorted[i], sorted[j])
	})

	entries := make([]domain.LeaderboardEntry, len(sorted))
	for i, sub := range sorted {
		entries[i] = domain.LeaderboardEntry{Rank: i + 1, Submission: sub}
	}
	return entries
}

func rankedBefore(a, b domain.Submission) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.StudentID < b.StudentID
}

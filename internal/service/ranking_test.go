package service

import (
	"math/rand"
	"testing"
	"time"

	"exam-coordinator/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestRank_OrdersByScoreThenTimeThenStudent(t *testing.T) {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	subs := []domain.Submission{
		{StudentID: 1, Score: 8, SubmittedAt: base.Add(10 * time.Second)},
		{StudentID: 2, Score: 8, SubmittedAt: base.Add(5 * time.Second)},
		{StudentID: 3, Score: 9, SubmittedAt: base.Add(20 * time.Second)},
		{StudentID: 5, Score: 7, SubmittedAt: base},
		{StudentID: 4, Score: 7, SubmittedAt: base},
	}

	board := Rank(subs)

	var order []uint
	for i, e := range board {
		assert.Equal(t, i+1, e.Rank)
		order = append(order, e.Submission.StudentID)
	}
	assert.Equal(t, []uint{3, 2, 1, 4, 5}, order)
	assert.Equal(t, uint(1), subs[0].StudentID, "input is not reordered")
}

func TestRank_IndependentOfInputOrder(t *testing.T) {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var subs []domain.Submission
	for i := 0; i < 30; i++ {
		subs = append(subs, domain.Submission{
			StudentID:   uint(i + 1),
			Score:       float64(i % 4),
			SubmittedAt: base.Add(time.Duration(i%3) * time.Second),
		})
	}
	want := Rank(subs)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]domain.Submission, len(subs))
		copy(shuffled, subs)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Rank(shuffled))
	}
}

func TestRank_Empty(t *testing.T) {
	assert.Empty(t, Rank(nil))
}

package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/repository"
)

// memStore 是并发安全的内存持久化实现，语义与 gorm 仓库一致。
type memStore struct {
	mu           sync.Mutex
	sessions     map[string]*domain.Session
	participants map[string][]domain.Participant
	submissions  map[string][]domain.Submission
	nextID       uint
	failWith     error // 非 nil 时所有读写都返回该错误
}

func newMemStore() *memStore {
	return &memStore{
		sessions:     make(map[string]*domain.Session),
		participants: make(map[string][]domain.Participant),
		submissions:  make(map[string][]domain.Submission),
	}
}

func (m *memStore) setFailure(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

func (m *memStore) sessionRepo() *memSessions         { return &memSessions{m} }
func (m *memStore) participantRepo() *memParticipants { return &memParticipants{m} }
func (m *memStore) submissionRepo() *memSubmissions   { return &memSubmissions{m} }

// --- sessions ---

type memSessions struct{ *memStore }

func (r *memSessions) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	if _, ok := r.sessions[s.ID]; ok {
		return repository.ErrDuplicateEntry
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessions) FindByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessions) Transition(_ context.Context, id string, from, to domain.State, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	s, ok := r.sessions[id]
	if !ok || s.State != from {
		return repository.ErrConflict
	}
	s.State = to
	t := at
	switch to {
	case domain.StateWaiting:
		s.OpenedAt = &t
	case domain.StateRunning:
		s.StartedAt = &t
	case domain.StateClosed:
		s.ClosedAt = &t
	}
	return nil
}

func (r *memSessions) MarkArchived(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.ArchivedAt == nil {
		t := at
		s.ArchivedAt = &t
	}
	return nil
}

// --- participants ---

type memParticipants struct{ *memStore }

func (r *memParticipants) bump(sessionID string) (uint64, error) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return 0, repository.ErrSessionNotFound
	}
	s.RosterVersion++
	return s.RosterVersion, nil
}

func (r *memParticipants) index(sessionID string, studentID uint) int {
	for i, p := range r.participants[sessionID] {
		if p.StudentID == studentID {
			return i
		}
	}
	return -1
}

func (r *memParticipants) Find(_ context.Context, sessionID string, studentID uint) (*domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	i := r.index(sessionID, studentID)
	if i < 0 {
		return nil, repository.ErrParticipantNotFound
	}
	cp := r.participants[sessionID][i]
	return &cp, nil
}

func (r *memParticipants) Count(_ context.Context, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return 0, r.failWith
	}
	return int64(len(r.participants[sessionID])), nil
}

func (r *memParticipants) Add(_ context.Context, p *domain.Participant) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return 0, r.failWith
	}
	if r.index(p.SessionID, p.StudentID) >= 0 {
		return 0, repository.ErrDuplicateEntry
	}
	v, err := r.bump(p.SessionID)
	if err != nil {
		return 0, err
	}
	r.nextID++
	p.ID = r.nextID
	r.participants[p.SessionID] = append(r.participants[p.SessionID], *p)
	return v, nil
}

func (r *memParticipants) Remove(_ context.Context, sessionID string, studentID uint) (bool, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return false, 0, r.failWith
	}
	i := r.index(sessionID, studentID)
	if i < 0 {
		s, ok := r.sessions[sessionID]
		if !ok {
			return false, 0, repository.ErrSessionNotFound
		}
		return false, s.RosterVersion, nil
	}
	list := r.participants[sessionID]
	r.participants[sessionID] = append(list[:i:i], list[i+1:]...)
	v, err := r.bump(sessionID)
	return true, v, err
}

func (r *memParticipants) RemoveAll(_ context.Context, sessionID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return 0, r.failWith
	}
	delete(r.participants, sessionID)
	return r.bump(sessionID)
}

func (r *memParticipants) SetConnected(_ context.Context, sessionID string, studentID uint, connected bool, seenAt time.Time) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return 0, r.failWith
	}
	i := r.index(sessionID, studentID)
	if i < 0 {
		return 0, repository.ErrParticipantNotFound
	}
	r.participants[sessionID][i].Connected = connected
	r.participants[sessionID][i].LastSeenAt = seenAt
	return r.bump(sessionID)
}

func (r *memParticipants) Touch(_ context.Context, sessionID string, studentID uint, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	i := r.index(sessionID, studentID)
	if i < 0 {
		return repository.ErrParticipantNotFound
	}
	r.participants[sessionID][i].LastSeenAt = seenAt
	return nil
}

func (r *memParticipants) Roster(_ context.Context, sessionID string) (domain.RosterSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return domain.RosterSnapshot{}, r.failWith
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.RosterSnapshot{}, repository.ErrSessionNotFound
	}
	list := make([]domain.Participant, len(r.participants[sessionID]))
	copy(list, r.participants[sessionID])
	return domain.RosterSnapshot{SessionID: sessionID, Version: s.RosterVersion, Participants: list}, nil
}

func (r *memParticipants) FindStale(_ context.Context, before time.Time) ([]domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	var out []domain.Participant
	for sid, list := range r.participants {
		s, ok := r.sessions[sid]
		if !ok || (s.State != domain.StateWaiting && s.State != domain.StateRunning) {
			continue
		}
		for _, p := range list {
			if p.LastSeenAt.Before(before) {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- submissions ---

type memSubmissions struct{ *memStore }

func (r *memSubmissions) Create(_ context.Context, sub *domain.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	for _, existing := range r.submissions[sub.SessionID] {
		if existing.StudentID == sub.StudentID {
			return repository.ErrDuplicateEntry
		}
	}
	r.nextID++
	sub.ID = r.nextID
	r.submissions[sub.SessionID] = append(r.submissions[sub.SessionID], *sub)
	return nil
}

func (r *memSubmissions) Find(_ context.Context, sessionID string, studentID uint) (*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	for _, existing := range r.submissions[sessionID] {
		if existing.StudentID == studentID {
			cp := existing
			return &cp, nil
		}
	}
	return nil, repository.ErrSubmissionNotFound
}

func (r *memSubmissions) ListBySession(_ context.Context, sessionID string) ([]domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	out := make([]domain.Submission, len(r.submissions[sessionID]))
	copy(out, r.submissions[sessionID])
	return out, nil
}

// --- access codes ---

type memCodes struct {
	mu    sync.Mutex
	codes map[string]string
}

func newMemCodes() *memCodes { return &memCodes{codes: make(map[string]string)} }

func (c *memCodes) Reserve(_ context.Context, code, sessionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.codes[code]; ok {
		return false, nil
	}
	c.codes[code] = sessionID
	return true, nil
}

func (c *memCodes) Lookup(_ context.Context, code string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sid, ok := c.codes[code]
	if !ok {
		return "", repository.ErrCodeNotFound
	}
	return sid, nil
}

func (c *memCodes) Release(_ context.Context, code, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes[code] == sessionID {
		delete(c.codes, code)
	}
	return nil
}

// --- bus ---

// recordingBus 按发布顺序记录每个主题上的事件。
type recordingBus struct {
	mu     sync.Mutex
	events map[string][]domain.Event
	closed map[string]bool
}

func newRecordingBus() *recordingBus {
	return &recordingBus{events: make(map[string][]domain.Event), closed: make(map[string]bool)}
}

func (b *recordingBus) Publish(topic string, event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[topic] = append(b.events[topic], event)
}

func (b *recordingBus) CloseTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed[topic] = true
}

func (b *recordingBus) published(topic string) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Event, len(b.events[topic]))
	copy(out, b.events[topic])
	return out
}

func (b *recordingBus) ofKind(topic string, kind domain.EventKind) []domain.Event {
	var out []domain.Event
	for _, e := range b.published(topic) {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

// fakeClock 是可手动推进的时钟。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

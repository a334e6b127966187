package service

import "sync"

// SessionLocks 为每个会话提供独立的互斥锁，跨会话的操作互不阻塞。
// 没有持有者和等待者的锁会被回收，map 不会随历史会话无限增长。
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int // 持有者 + 等待者
}

// NewSessionLocks 创建 SessionLocks 实例。
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock 获取会话锁，返回的函数用于释放。
func (l *SessionLocks) Lock(sessionID string) (unlock func()) {
	l.mu.Lock()
	lk, ok := l.locks[sessionID]
	if !ok {
		lk = &sessionLock{}
		l.locks[sessionID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lk.mu.Unlock()
			l.mu.Lock()
			lk.refs--
			if lk.refs == 0 {
				delete(l.locks, sessionID)
			}
			l.mu.Unlock()
		})
	}
}

// size 返回当前被持有或等待的锁数量。
func (l *SessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

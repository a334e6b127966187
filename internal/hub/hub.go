package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"exam-coordinator/internal/domain"

	"github.com/sirupsen/logrus"
)

// 包级别的 WebSocket 常量，供 client.go 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 30 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// 每个订阅者的默认缓冲区大小
	defaultBufferSize = 64
)

// SeedFunc 从持久化状态加载会话的最新事件，用于为空主题补齐保留事件。
type SeedFunc func() ([]domain.Event, error)

// Subscription 是某个订阅者在一个会话主题上的事件流。
// 通道被关闭表示订阅结束：主题已关闭，或订阅者消费过慢被逐出，应重新订阅获取最新快照。
type Subscription struct {
	topic     string
	events    chan domain.Event
	closeOnce sync.Once
}

// Events 返回只读的事件通道。
func (s *Subscription) Events() <-chan domain.Event { return s.events }

// Topic 返回订阅的会话 ID。
func (s *Subscription) Topic() string { return s.topic }

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.events) })
}

// topic 保存单个会话的发布序号、每种事件的最新一条以及订阅者集合。
type topic struct {
	mu          sync.Mutex
	seq         uint64
	retained    map[domain.EventKind]domain.Event
	subscribers map[*Subscription]struct{}
	closed      bool
	evicted     bool      // 已从 Hub 中移除，持有旧指针的调用方需要重新查找
	lastActive  time.Time // 最近一次发布或订阅者变化
}

// Hub 是按会话划分主题的通知总线。
// 同一主题的事件按发布顺序投递给每个订阅者；不同主题互不影响。
type Hub struct {
	topics   map[string]*topic
	topicsMu sync.RWMutex

	bufferSize int
}

// NewHub 创建并返回一个新的 Hub 实例。bufferSize <= 1 时使用默认值。
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 1 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		topics:     make(map[string]*topic),
		bufferSize: bufferSize,
	}
}

// Publish 向会话主题发布事件。
// 不会比已保留事件更新的事件被丢弃，订阅者永远不会看到版本或状态回退。
func (h *Hub) Publish(key string, event domain.Event) {
	t := h.lockedTopic(key)
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.lastActive = time.Now()

	if prev, ok := t.retained[event.Type]; ok && !event.Supersedes(prev) {
		logrus.WithFields(logrus.Fields{
			"session_id": key,
			"type":       event.Type,
			"version":    event.Version,
			"state":      event.State,
		}).Debug("Hub: dropping stale event")
		return
	}
	t.seq++
	event.Seq = t.seq
	t.retained[event.Type] = event

	for sub := range t.subscribers {
		select {
		case sub.events <- event:
		default:
			// 慢消费者：逐出并关闭通道，客户端重连后会收到最新快照
			delete(t.subscribers, sub)
			sub.close()
			logrus.WithFields(logrus.Fields{"session_id": key, "seq": event.Seq}).
				Warn("Hub: subscriber buffer full, evicting")
		}
	}
}

// Subscribe 订阅会话主题。
// 新订阅者会先收到当前保留的 ROSTER_DELTA 和 LIFECYCLE 事件，然后是后续发布的事件。
// 主题缺少保留事件时调用 seed 从持久化状态补齐；seed 可以为 nil。
func (h *Hub) Subscribe(key string, seed SeedFunc) (*Subscription, error) {
	var seeded []domain.Event
	for {
		t := h.topic(key, true)

		t.mu.Lock()
		missing := len(t.retained) < 2
		t.mu.Unlock()

		if missing && seed != nil && seeded == nil {
			// 在主题锁外加载，避免阻塞发布者
			events, err := seed()
			if err != nil {
				return nil, err
			}
			seeded = events
		}

		if sub, ok := h.attach(t, key, seeded); ok {
			return sub, nil
		}
		// 主题在加载期间被回收，换用新主题重试
	}
}

// attach 在主题上登记订阅者并放入保留事件；主题已被回收时返回 false。
func (h *Hub) attach(t *topic, key string, seeded []domain.Event) (*Subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.evicted {
		return nil, false
	}

	sub := &Subscription{topic: key, events: make(chan domain.Event, h.bufferSize)}
	if t.closed {
		sub.close()
		return sub, true
	}
	for _, e := range seeded {
		prev, ok := t.retained[e.Type]
		if ok && !e.Supersedes(prev) {
			continue
		}
		t.seq++
		e.Seq = t.seq
		t.retained[e.Type] = e
	}

	initial := make([]domain.Event, 0, len(t.retained))
	for _, e := range t.retained {
		initial = append(initial, e)
	}
	sort.Slice(initial, func(i, j int) bool { return initial[i].Seq < initial[j].Seq })
	for _, e := range initial {
		sub.events <- e
	}
	t.subscribers[sub] = struct{}{}
	t.lastActive = time.Now()

	logrus.WithFields(logrus.Fields{"session_id": key, "subscribers": len(t.subscribers)}).Debug("Hub: subscriber added")
	return sub, true
}

// Unsubscribe 取消订阅并关闭事件通道，重复调用是安全的。
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	if t := h.topic(sub.topic, false); t != nil {
		t.mu.Lock()
		delete(t.subscribers, sub)
		t.lastActive = time.Now()
		t.mu.Unlock()
	}
	sub.close()
}

// CloseTopic 关闭会话主题：所有订阅者的通道被关闭，保留事件被丢弃。
func (h *Hub) CloseTopic(key string) {
	h.topicsMu.Lock()
	t, ok := h.topics[key]
	delete(h.topics, key)
	h.topicsMu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for sub := range t.subscribers {
		sub.close()
	}
	t.subscribers = make(map[*Subscription]struct{})
	logrus.WithField("session_id", key).Info("Hub: topic closed")
}

// EvictIdle 移除没有订阅者且空闲超过 maxIdle 的主题，返回移除的数量。
// 被移除主题的后续订阅者会从持久化状态重新补齐。
func (h *Hub) EvictIdle(maxIdle time.Duration) int {
	now := time.Now()

	h.topicsMu.Lock()
	defer h.topicsMu.Unlock()
	evicted := 0
	for key, t := range h.topics {
		t.mu.Lock()
		if len(t.subscribers) == 0 && now.Sub(t.lastActive) >= maxIdle {
			t.evicted = true
			delete(h.topics, key)
			evicted++
		}
		t.mu.Unlock()
	}
	if evicted > 0 {
		logrus.WithFields(logrus.Fields{"evicted": evicted, "remaining": len(h.topics)}).Debug("Hub: idle topics evicted")
	}
	return evicted
}

// Run 每隔 interval 回收一次空闲主题，直到 ctx 结束。
func (h *Hub) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.EvictIdle(maxIdle)
		}
	}
}

// Retained 返回主题当前保留的事件，按发布顺序排列。
func (h *Hub) Retained(key string) []domain.Event {
	t := h.topic(key, false)
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Event, 0, len(t.retained))
	for _, e := range t.retained {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Stats 返回活跃主题数与订阅者总数。
func (h *Hub) Stats() (topics, subscribers int) {
	h.topicsMu.RLock()
	all := make([]*topic, 0, len(h.topics))
	for _, t := range h.topics {
		all = append(all, t)
	}
	h.topicsMu.RUnlock()

	for _, t := range all {
		t.mu.Lock()
		subscribers += len(t.subscribers)
		t.mu.Unlock()
	}
	return len(all), subscribers
}

func (h *Hub) topic(key string, create bool) *topic {
	h.topicsMu.RLock()
	t, ok := h.topics[key]
	h.topicsMu.RUnlock()
	if ok || !create {
		return t
	}

	h.topicsMu.Lock()
	defer h.topicsMu.Unlock()
	if t, ok = h.topics[key]; ok {
		return t
	}
	t = &topic{
		retained:    make(map[domain.EventKind]domain.Event),
		subscribers: make(map[*Subscription]struct{}),
		lastActive:  time.Now(),
	}
	h.topics[key] = t
	return t
}

// lockedTopic 返回已加锁且仍在 Hub 中的主题，调用方负责解锁。
func (h *Hub) lockedTopic(key string) *topic {
	for {
		t := h.topic(key, true)
		t.mu.Lock()
		if !t.evicted {
			return t
		}
		t.mu.Unlock()
	}
}

package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"exam-coordinator/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPresence struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPresence) record(op string) {
	p.mu.Lock()
	p.calls = append(p.calls, op)
	p.mu.Unlock()
}

func (p *recordingPresence) has(op string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if c == op {
			return true
		}
	}
	return false
}

func (p *recordingPresence) MarkConnected(context.Context, string, uint) error {
	p.record("connect")
	return nil
}

func (p *recordingPresence) MarkDisconnected(context.Context, string, uint) error {
	p.record("disconnect")
	return nil
}

func (p *recordingPresence) Heartbeat(context.Context, string, uint) error {
	p.record("heartbeat")
	return nil
}

func TestClient_StreamsEventsAndTracksPresence(t *testing.T) {
	h := NewHub(16)
	presence := &recordingPresence{}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub, err := h.Subscribe("s1", nil)
		if err != nil {
			conn.Close()
			return
		}
		NewClient(h, sub, conn, 7, presence).Run()
	}))
	defer srv.Close()

	h.Publish("s1", lifecycle("s1", domain.StateWaiting, 0))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first domain.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, domain.EventLifecycle, first.Type)
	assert.Equal(t, domain.StateWaiting, first.State)

	h.Publish("s1", delta("s1", 1, 7))
	var second domain.Event
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, domain.EventRosterDelta, second.Type)
	require.NotNil(t, second.Snapshot)
	assert.True(t, second.Snapshot.Contains(7))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "heartbeat"}))
	assert.Eventually(t, func() bool { return presence.has("heartbeat") }, time.Second, 10*time.Millisecond)
	assert.True(t, presence.has("connect"))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return presence.has("disconnect") }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, subscribers := h.Stats()
		return subscribers == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ClosesWhenTopicCloses(t *testing.T) {
	h := NewHub(16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub, _ := h.Subscribe("s1", nil)
		NewClient(h, sub, conn, 1, nil).Run()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		_, subscribers := h.Stats()
		return subscribers == 1
	}, time.Second, 10*time.Millisecond)
	h.CloseTopic("s1")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater))
}

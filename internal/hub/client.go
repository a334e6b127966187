package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Presence 跟踪学生的实时连接，由 RosterService 实现。
type Presence interface {
	MarkConnected(ctx context.Context, sessionID string, studentID uint) error
	MarkDisconnected(ctx context.Context, sessionID string, studentID uint) error
	Heartbeat(ctx context.Context, sessionID string, studentID uint) error
}

// clientMessage 是客户端可以发送的唯一消息格式，目前只有心跳。
type clientMessage struct {
	Type string `json:"type"`
}

const messageTypeHeartbeat = "heartbeat"

// presenceTimeout 限制每次连接状态更新的耗时
const presenceTimeout = 5 * time.Second

// Client 代表一个订阅了会话主题的 WebSocket 客户端。
type Client struct {
	hub      *Hub
	sub      *Subscription
	conn     *websocket.Conn
	userID   uint
	presence Presence // 教师等非成员为 nil
	log      *logrus.Entry
}

// NewClient 创建一个新的 Client 实例。presence 为 nil 时不跟踪连接状态。
func NewClient(hub *Hub, sub *Subscription, conn *websocket.Conn, userID uint, presence Presence) *Client {
	return &Client{
		hub:      hub,
		sub:      sub,
		conn:     conn,
		userID:   userID,
		presence: presence,
		log:      logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": sub.Topic()}),
	}
}

// Run 标记连接建立并启动读写 goroutine。
func (c *Client) Run() {
	c.updatePresence("connect", func(ctx context.Context) error {
		return c.presence.MarkConnected(ctx, c.sub.Topic(), c.userID)
	})
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 读取客户端的心跳与 Pong，连接断开时取消订阅。
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unsubscribe(c.sub)
		c.updatePresence("disconnect", func(ctx context.Context) error {
			return c.presence.MarkDisconnected(ctx, c.sub.Topic(), c.userID)
		})
		c.conn.Close()
		c.log.Info("readPump exited, subscription released")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.heartbeat()
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.log.Debug("WebSocket connection closed normally or read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.WithError(err).Debug("Ignoring malformed client message")
			continue
		}
		if msg.Type == messageTypeHeartbeat {
			c.heartbeat()
		}
	}
}

// WritePump 将订阅到的事件写入 WebSocket 连接，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Info("writePump exited")
	}()

	events := c.sub.Events()
	for {
		select {
		case event, ok := <-events:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 主题关闭或被逐出，客户端应重新连接以获取最新快照
				c.log.Info("Subscription ended, closing connection")
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription ended"))
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.log.WithError(err).Warn("Failed to write event to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

func (c *Client) heartbeat() {
	c.updatePresence("heartbeat", func(ctx context.Context) error {
		return c.presence.Heartbeat(ctx, c.sub.Topic(), c.userID)
	})
}

func (c *Client) updatePresence(op string, fn func(ctx context.Context) error) {
	if c.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		c.log.WithError(err).WithField("op", op).Warn("Failed to update presence")
	}
}

func (c *Client) SessionID() string { return c.sub.Topic() }
func (c *Client) UserID() uint      { return c.userID }

package ws

import (
	"context"
	"net/http"
	"time"

	"livechat/internal/auth"
	"livechat/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20 // 1MB
	sendBuffer     = 256
)

// Client 是一条已认证的 WebSocket 连接。subs 由 Hub 在写锁下维护。
type Client struct {
	connID   string
	username string
	conn     *websocket.Conn
	send     chan []byte
	limiter  *rate.Limiter
	subs     map[string]struct{}
}

func newClient(conn *websocket.Conn, username string, r rate.Limit, burst int) *Client {
	return &Client{
		connID:   uuid.NewString(),
		username: username,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		limiter:  rate.NewLimiter(r, burst),
	}
}

// trySend 非阻塞写入发送缓冲，缓冲已满时返回 false。调用方必须持有 hub 读锁。
func (c *Client) trySend(msg []byte) bool {
	if msg == nil {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 在升级前完成握手认证：token 缺失或无效、用户不存在时返回 401，不升级连接。
func Serve(d *Dispatcher, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if _, err := d.users.Get(c.Request.Context(), claims.Username); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("ws upgrade")
			return
		}
		client := newClient(conn, claims.Username, rate.Limit(cfg.WSEventsPerSecond), cfg.WSEventBurst)
		if !d.hub.Register(client) {
			_ = conn.Close()
			return
		}
		log.Info().Str("conn_id", client.connID).Str("username", client.username).Msg("ws connected")

		go client.writePump()
		client.readPump(c.Request.Context(), d)
	}
}

// readPump 顺序处理该连接的入站事件，连接断开后执行 disconnect。
func (c *Client) readPump(ctx context.Context, d *Dispatcher) {
	defer func() {
		d.Disconnect(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.connID).Msg("ws read")
			}
			return
		}
		d.Dispatch(ctx, c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/d60-Lab/social-core/internal/service"
	"github.com/d60-Lab/social-core/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 32
)

type wsFrame struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// wsSession 一个 websocket 连接对应一个订阅；回调只往 out 投递，写连接在单独 goroutine
type wsSession struct {
	conn *websocket.Conn
	out  chan wsFrame
	// slow 在 out 满时关闭，慢消费者直接断开
	slow chan struct{}
	full bool
}

func newWSSession(conn *websocket.Conn) *wsSession {
	return &wsSession{conn: conn, out: make(chan wsFrame, wsSendBuffer), slow: make(chan struct{})}
}

// push 由订阅回调调用，同一订阅的回调串行执行
func (s *wsSession) push(f wsFrame) {
	if s.full {
		return
	}
	select {
	case s.out <- f:
	default:
		s.full = true
		close(s.slow)
	}
}

// serve 阻塞到连接关闭、订阅结束或消费过慢
func (s *wsSession) serve(sub *service.Subscription) {
	defer sub.Cancel()
	defer s.conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		s.conn.SetReadLimit(512)
		_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case f := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Done():
			s.flush()
			s.closeWith(websocket.ClosePolicyViolation, "subscription ended")
			return
		case <-s.slow:
			s.closeWith(websocket.CloseTryAgainLater, "consumer too slow")
			return
		case <-closed:
			return
		}
	}
}

func (s *wsSession) flush() {
	for {
		select {
		case f := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteJSON(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *wsSession) closeWith(code int, reason string) {
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (h *Handler) upgrade(c *gin.Context) (*wsSession, bool) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil, false
	}
	return newWSSession(conn), true
}

func (s *wsSession) onError(err error) {
	logger.Warn("websocket subscription error", zap.Error(err))
	s.push(wsFrame{Type: "error", Message: http.StatusText(http.StatusInternalServerError)})
}

// StreamConversations 推送会话列表及未读总数
// @Summary 会话列表推送（websocket）
// @Tags 聊天
// @Security BearerAuth
// @Router /ws/chats [get]
func (h *Handler) StreamConversations(c *gin.Context) {
	me := currentUser(c)
	s, ok := h.upgrade(c)
	if !ok {
		return
	}
	sub, err := h.hub.SubscribeConversations(me, func(ev service.ConversationListEvent) {
		s.push(wsFrame{Type: "conversations", Data: ev})
	}, s.onError)
	if err != nil {
		s.closeWith(websocket.CloseInternalServerErr, err.Error())
		_ = s.conn.Close()
		return
	}
	s.serve(sub)
}

// StreamMessages 推送与某用户的消息：先完整历史，后增量
// @Summary 消息推送（websocket）
// @Tags 聊天
// @Security BearerAuth
// @Param peer_id path string true "对方用户ID"
// @Router /ws/chats/{peer_id} [get]
func (h *Handler) StreamMessages(c *gin.Context) {
	me := currentUser(c)
	s, ok := h.upgrade(c)
	if !ok {
		return
	}
	sub, err := h.hub.SubscribeMessages(me, c.Param("peer_id"), func(ev service.MessageEvent) {
		s.push(wsFrame{Type: string(ev.Type), Data: ev})
	}, s.onError)
	if err != nil {
		s.closeWith(websocket.CloseInternalServerErr, err.Error())
		_ = s.conn.Close()
		return
	}
	s.serve(sub)
}

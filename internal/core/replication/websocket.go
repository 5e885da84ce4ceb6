package replication

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/authority/internal/core/observability/log"
)

var _ Conn = (*WebsocketConn)(nil)

// WebsocketConn carries one frame per binary websocket message.
type WebsocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closed       int32

	// gorilla allows one concurrent writer
	writeMu sync.Mutex
}

func NewWebsocketConn(conn *websocket.Conn, writeTimeout time.Duration) *WebsocketConn {
	conn.SetReadLimit(MaxFrameSize)
	return &WebsocketConn{conn: conn, writeTimeout: writeTimeout}
}

func (c *WebsocketConn) Send(data []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrConnectionClosed
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (c *WebsocketConn) Receive() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&c.closed) == 1 || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrConnectionClosed
			}
			return nil, errors.Wrap(err, "failed to read message")
		}
		if messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *WebsocketConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *WebsocketConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// WebsocketHandler upgrades HTTP requests and hands every connection to
// serve, which owns it until it returns.
type WebsocketHandler struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	serve        func(ctx context.Context, conn Conn) error
	logger       log.Log
}

func NewWebsocketHandler(serve func(ctx context.Context, conn Conn) error, writeTimeout time.Duration, logger log.Log) *WebsocketHandler {
	return &WebsocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		serve:        serve,
		logger:       logger.Named("websocket"),
	}
}

func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		return
	}

	conn := NewWebsocketConn(ws, h.writeTimeout)
	h.logger.Debug("Websocket connection accepted", log.String("remote_addr", conn.RemoteAddr()))
	if err := h.serve(r.Context(), conn); err != nil {
		h.logger.Debug("Websocket connection ended",
			log.String("remote_addr", conn.RemoteAddr()),
			log.Error(err))
	}
}

// DialWebsocket connects to a replication endpoint such as
// ws://host:port/replication.
func DialWebsocket(ctx context.Context, url string, writeTimeout time.Duration) (*WebsocketConn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", url)
	}
	return NewWebsocketConn(ws, writeTimeout), nil
}

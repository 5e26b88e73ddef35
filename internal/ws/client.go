package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chat-realtime/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 128
)

var (
	ErrClientClosed   = errors.New("connection closed")
	ErrBufferExceeded = errors.New("connection buffer exceeded")
	ErrRateLimited    = errors.New("too many frames")
)

// Client wraps a websocket and serialises outbound writes through a
// buffered channel. It implements Sink.
type Client struct {
	ID string

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

// NewClient builds a client. framesPerSecond bounds inbound frames; zero
// disables the limit.
func NewClient(id string, conn *websocket.Conn, framesPerSecond float64) *Client {
	limit := rate.Inf
	burst := 0
	if framesPerSecond > 0 {
		limit = rate.Limit(framesPerSecond)
		burst = int(framesPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		ID:      id,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Start launches the write loop. Call it once.
func (c *Client) Start() {
	go c.writeLoop()
}

// Send enqueues payload. A full buffer closes the connection so one slow
// reader cannot hold up fan-out to everyone else.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.Close("send buffer full")
		return ErrBufferExceeded
	}
}

// Close terminates the connection. Later calls are no-ops.
func (c *Client) Close(reason string) {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, reason), deadline)
		_ = c.conn.Close()
	})
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadLoop reads frames until the socket fails and hands each to dispatch.
// The returned error is the reason the loop ended.
func (c *Client) ReadLoop(dispatch func(InboundFrame)) error {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if !c.limiter.Allow() {
			c.reply(OutboundFrame{Type: FrameError, Error: ErrRateLimited.Error()})
			continue
		}
		frame, err := DecodeFrame(payload)
		if err != nil {
			c.reply(OutboundFrame{Type: FrameError, Error: "invalid frame"})
			continue
		}
		dispatch(frame)
	}
}

// Reply sends a direct frame to this client only.
func (c *Client) Reply(frame OutboundFrame) {
	c.reply(frame)
}

func (c *Client) reply(frame OutboundFrame) {
	payload, err := EncodeFrame(frame)
	if err != nil {
		logging.Warn().Err(err).Str("conn_id", c.ID).Msg("encode reply frame")
		return
	}
	_ = c.Send(payload)
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Debug().Err(err).Str("conn_id", c.ID).Msg("websocket write failed")
				c.Close("write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close("ping failed")
				return
			}
		}
	}
}

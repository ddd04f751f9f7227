package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	errConnClosed = errors.New("connection closed")
	errOutboxFull = errors.New("outbox full")
)

const (
	writeDeadline  = 5 * time.Second
	outboxCapacity = 64
)

// Состояние допуска подключения. Сокет принимается всегда, чтобы клиент
// получил структурированный кадр ошибки, а не голый разрыв транспорта.
type connState int

const (
	statePending connState = iota
	stateAuthenticated
	stateRejected
)

type wsConn struct {
	conn     *websocket.Conn
	id       string
	userID   int64
	endpoint string // chat|notifications
	state    connState

	outbox    chan any
	closed    chan struct{}
	closeOnce sync.Once
}

func newWsConn(c *websocket.Conn, endpoint string) *wsConn {
	return &wsConn{
		conn:     c,
		id:       uuid.New().String(),
		endpoint: endpoint,
		state:    statePending,
		outbox:   make(chan any, outboxCapacity),
		closed:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send ставит событие в очередь записи, не блокируясь: медленный получатель
// переполняет свой outbox и теряет событие, но не задерживает группу.
func (c *wsConn) Send(event any) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.outbox <- event:
		return nil
	case <-c.closed:
		return errConnClosed
	default:
		return errOutboxFull
	}
}

// writeLoop — единственный писатель сокета: дренирует outbox и пингует.
func (c *wsConn) writeLoop(pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case event := <-c.outbox:
			out := event
			if c.endpoint == "chat" {
				out = resolveForViewer(event, c.userID)
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(out); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
		}
	}
}

// Close безопасен при одновременном вызове из read- и write-горутин.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })

	return c.conn.Close()
}

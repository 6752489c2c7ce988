package realtime

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

// sendQueueSize bounds the messages waiting for a connection's writer. A
// connection that falls this far behind is dropped.
const sendQueueSize = 256

var (
	errClientClosed = errors.New("connection closed")
	errSlowClient   = errors.New("send queue full")
)

type outbound struct {
	op   ws.OpCode
	data []byte
}

// client is one WebSocket connection. It is both a hub subscriber and the
// channel of the terminal session it opens. Writes are queued and sent by a
// single writer goroutine, so a stalled peer never blocks the sender.
type client struct {
	id           string
	conn         net.Conn
	writeTimeout time.Duration

	out       chan outbound
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	sessionID string
}

var (
	_ ports.Subscriber      = (*client)(nil)
	_ ports.TerminalChannel = (*client)(nil)
)

func newClient(id string, conn net.Conn, writeTimeout time.Duration) *client {
	c := &client{
		id:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		out:          make(chan outbound, sendQueueSize),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *client) ID() string {
	return c.id
}

func (c *client) SendFrame(frame domain.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.enqueue(ws.OpText, data)
}

// WriteOutput queues raw terminal output as a binary message. p is copied.
func (c *client) WriteOutput(p []byte) error {
	return c.enqueue(ws.OpBinary, append([]byte(nil), p...))
}

func (c *client) enqueue(op ws.OpCode, data []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.out <- outbound{op: op, data: data}:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		go c.Close()
		return errSlowClient
	}
}

func (c *client) writeLoop() {
	err := c.drain()
	close(c.stopped)
	if err != nil {
		_ = c.Close()
	}
}

func (c *client) drain() error {
	for {
		select {
		case <-c.done:
			return nil
		case msg := <-c.out:
			if c.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			// Close sets its own deadline after closing done; checking
			// again here keeps ours from overriding it.
			select {
			case <-c.done:
				return nil
			default:
			}
			if err := wsutil.WriteServerMessage(c.conn, msg.op, msg.data); err != nil {
				return err
			}
		}
	}
}

// Close aborts any write in flight, sends a close frame and closes the
// connection. Queued messages are discarded.
func (c *client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.SetWriteDeadline(time.Now())
		<-c.stopped

		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = ws.WriteFrame(c.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		err = c.conn.Close()
	})
	return err
}

func (c *client) Done() <-chan struct{} {
	return c.done
}

func (c *client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *client) setSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

package network

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var errConnectionClosed = errors.New("connection closed")

// Connection is a single push client. Frames are written by one goroutine
// from a buffered send channel so that broadcasting never blocks.
type Connection struct {
	ID string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter

	pongWait   time.Duration
	pingPeriod time.Duration
	writeWait  time.Duration
}

type connectionOptions struct {
	id         string
	bufferSize int
	rateLimit  rate.Limit
	rateBurst  int
	pongWait   time.Duration
	pingPeriod time.Duration
	writeWait  time.Duration
}

func newConnection(conn *websocket.Conn, opts connectionOptions) *Connection {
	return &Connection{
		ID:         opts.id,
		conn:       conn,
		send:       make(chan []byte, opts.bufferSize),
		done:       make(chan struct{}),
		limiter:    rate.NewLimiter(opts.rateLimit, opts.rateBurst),
		pongWait:   opts.pongWait,
		pingPeriod: opts.pingPeriod,
		writeWait:  opts.writeWait,
	}
}

// Send queues a frame without blocking. It returns false if the connection
// is closed or its buffer is full.
func (c *Connection) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Allow reports whether another inbound message fits the rate limit.
func (c *Connection) Allow() bool {
	return c.limiter.Allow()
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Serve runs the read and write loops until either fails or ctx is done.
func (c *Connection) Serve(ctx context.Context, readLimit int64, handle func(c *Connection, data []byte)) error {
	defer c.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.readLoop(readLimit, handle)
	})
	g.Go(func() error {
		return c.writeLoop(ctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errConnectionClosed) {
		return err
	}
	return nil
}

func (c *Connection) readLoop(readLimit int64, handle func(c *Connection, data []byte)) error {
	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error("Error reading from connection %s: %v", c.ID, err)
			}
			log.Trace("Connection %s read loop ended: %v", c.ID, err)
			return errConnectionClosed
		}
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		handle(c, data)
	}
}

func (c *Connection) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return errConnectionClosed
		case <-c.done:
			return errConnectionClosed
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("Failed to write to connection %s: %v", c.ID, err)
				return errConnectionClosed
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("Failed to ping connection %s: %v", c.ID, err)
				return errConnectionClosed
			}
		}
	}
}

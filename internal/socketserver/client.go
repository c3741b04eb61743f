package socketserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codefionn/scee/internal/consts"
	"github.com/codefionn/scee/internal/logger"
	"github.com/codefionn/scee/internal/metrics"
	"github.com/codefionn/scee/internal/protocol"
)

// Client is the handler for one connection: it owns the connection's
// Session, reads frames in arrival order, and writes replies and broadcasts
// from a single outbound queue.
type Client struct {
	// Connection identifier issued at accept time
	ID          string
	Addr        string
	ConnectedAt time.Time

	Session Session

	transport Transport
	hub       *Hub
	env       *handlerEnv
	limiter   *rate.Limiter

	// Outbound frame queue. Never closed; done signals shutdown.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, transport Transport, hub *Hub, env *handlerEnv) *Client {
	return &Client{
		ID:          id,
		Addr:        transport.RemoteAddr(),
		ConnectedAt: time.Now(),
		transport:   transport,
		hub:         hub,
		env:         env,
		limiter:     rate.NewLimiter(env.rateLimit, env.rateBurst),
		send:        make(chan []byte, consts.SendBufferSize),
		done:        make(chan struct{}),
	}
}

// Serve registers the client, runs it until the connection ends, and then
// removes it from the hub. Closing the connection is the only way to cancel
// a single client.
func (c *Client) Serve(ctx context.Context) {
	c.hub.Register(c)
	c.env.metrics.ConnectionOpened()

	go c.writePump()

	defer c.cleanup()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("client %s handler panic: %v\n%s", c.ID, r, debug.Stack())
		}
	}()

	c.readPump(ctx)
}

// Close stops the write pump and closes the connection. Safe to call more
// than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.transport.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("client %s close: %v", c.ID, err)
		}
	})
}

// cleanup tears the session down, sending a best effort leave notice if the
// session was in a room
func (c *Client) cleanup() {
	if roomID, ok := c.Session.RoomID(); ok {
		c.hub.Broadcast(roomID, c.ID, leaveNotice(c.Session.Username()), AsSystem())
		c.Session.leave()
	}
	c.hub.Remove(c.ID)
	c.Close()
	c.env.metrics.ConnectionClosed()
	logger.Info("client %s disconnected", c.ID)
}

// readPump reads frames until the peer goes away
func (c *Client) readPump(ctx context.Context) {
	for {
		frame, err := c.transport.ReadFrame()
		if err != nil {
			if errors.Is(err, errFrameTooLarge) {
				c.env.metrics.FrameDropped(metrics.DropMalformed)
				c.sendError("Frame too large")
				continue
			}
			c.logReadError(err)
			return
		}

		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}

		if !c.limiter.Allow() {
			logger.Warn("client %s exceeded rate limit, dropping frame", c.ID)
			c.env.metrics.FrameDropped(metrics.DropRateLimited)
			c.sendError("Rate limit exceeded, slow down")
			continue
		}

		envelope := protocol.Decode(frame)
		if envelope == nil {
			c.env.metrics.FrameDropped(metrics.DropMalformed)
			continue
		}
		c.env.metrics.FrameReceived(envelope.Action)

		c.handleFrame(ctx, envelope)

		if !c.Session.consistent() {
			logger.Error("client %s session invariant violated after %s", c.ID, envelope.Action)
		}
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.Info("client %s disconnected (EOF)", c.ID)
	case errors.Is(err, net.ErrClosed):
		logger.Info("client %s connection closed", c.ID)
	default:
		logger.Warn("error reading from client %s: %v", c.ID, err)
	}
}

// writePump writes queued frames to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(consts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case <-ticker.C:
			if err := c.transport.Ping(); err != nil {
				logger.Warn("failed to ping client %s: %v", c.ID, err)
				return
			}

		case frame := <-c.send:
			if err := c.transport.SetWriteDeadline(time.Now().Add(consts.WriteWait)); err != nil {
				logger.Error("failed to set write deadline for client %s: %v", c.ID, err)
				return
			}
			if err := c.transport.WriteFrame(frame); err != nil {
				logger.Warn("failed to write to client %s: %v", c.ID, err)
				return
			}
		}
	}
}

// enqueue queues frame for delivery without blocking. It returns false when
// the client is closing or its queue is full.
func (c *Client) enqueue(frame []byte) bool {
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

// sendFrame queues a reply to this client
func (c *Client) sendFrame(frame []byte) {
	if !c.enqueue(frame) {
		logger.Warn("send buffer full or closed for client %s, reply dropped", c.ID)
		c.env.metrics.FrameDropped(metrics.DropSendFull)
	}
}

func (c *Client) reply(action string, payload any) {
	frame, err := protocol.Encode(action, payload)
	if err != nil {
		logger.Error("failed to encode %s for client %s: %v", action, c.ID, err)
		return
	}
	c.sendFrame(frame)
}

func (c *Client) sendError(message string) {
	c.sendFrame(protocol.ErrorFrame(message))
}

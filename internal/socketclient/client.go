package socketclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/scee/internal/consts"
	"github.com/codefionn/scee/internal/logger"
	"github.com/codefionn/scee/internal/protocol"
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	// StateDisconnected indicates the client is not connected
	StateDisconnected ConnectionState = iota
	// StateConnected indicates the connection is up but not logged in
	StateConnected
	// StateLoggedIn indicates a successful login
	StateLoggedIn
	// StateClosed indicates the client has been closed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateLoggedIn:
		return "logged_in"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned for requests on a client that is not connected
	ErrNotConnected = errors.New("not connected")
	// ErrNotInRoom is returned by Leave when no room has been joined
	ErrNotInRoom = errors.New("not in a room")
)

// ServerError is a login_fail or error reply
type ServerError struct {
	Action  string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Action, e.Message)
}

// Config holds client configuration
type Config struct {
	// Addr is the server's TCP address
	Addr           string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// RequestTimeout bounds the wait for a reply
	RequestTimeout time.Duration
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: consts.Timeout5Seconds,
		WriteTimeout:   consts.WriteWait,
		RequestTimeout: consts.Timeout30Seconds,
	}
}

// Client represents a chat connection
type Client struct {
	config *Config

	conn  net.Conn
	state atomic.Int32 // ConnectionState

	// Serializes writes
	writeMu sync.Mutex

	// One request in flight; its reply is delivered on pending
	requestMu sync.Mutex
	pendingMu sync.Mutex
	pending   chan *protocol.Envelope

	roomID atomic.Int64

	// Callbacks
	callbackMu           sync.RWMutex
	broadcastCallback    func(protocol.Broadcast)
	errorCallback        func(message string)
	stateChangedCallback func(ConnectionState, error)

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	readErr   error
}

// NewClient creates a client for addr with the default configuration
func NewClient(addr string) *Client {
	config := DefaultConfig()
	config.Addr = addr
	return NewClientWithConfig(config)
}

// NewClientWithConfig creates a new client with custom configuration
func NewClientWithConfig(config *Config) *Client {
	defaults := DefaultConfig()
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}

	client := &Client{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	client.state.Store(int32(StateDisconnected))
	return client
}

// Connect dials the server and starts reading frames
func (c *Client) Connect(ctx context.Context) error {
	if c.getState() != StateDisconnected {
		return errors.New("already connected")
	}
	if c.config.Addr == "" {
		return errors.New("server address is required")
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.config.Addr, err)
	}
	return c.attach(conn)
}

// attach runs the client over an established connection
func (c *Client) attach(conn net.Conn) error {
	c.conn = conn
	c.setState(StateConnected, nil)
	go c.readPump()
	return nil
}

// Close closes the connection and waits for the read loop to finish
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		if c.conn != nil {
			err = c.conn.Close()
			<-c.doneCh
		}
		c.setState(StateClosed, nil)
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Done is closed when the connection has ended
func (c *Client) Done() <-chan struct{} {
	return c.doneCh
}

// Err returns why the connection ended, or nil if it was closed locally
func (c *Client) Err() error {
	select {
	case <-c.doneCh:
		return c.readErr
	default:
		return nil
	}
}

// GetState returns the current connection state
func (c *Client) GetState() ConnectionState {
	return c.getState()
}

// RoomID returns the joined room, or 0 in the lobby
func (c *Client) RoomID() int64 {
	return c.roomID.Load()
}

func (c *Client) getState() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Client) setState(state ConnectionState, err error) {
	old := ConnectionState(c.state.Swap(int32(state)))
	if old == state {
		return
	}
	c.callbackMu.RLock()
	cb := c.stateChangedCallback
	c.callbackMu.RUnlock()
	if cb != nil {
		cb(state, err)
	}
}

// Login authenticates the connection
func (c *Client) Login(ctx context.Context, user, password string) (*protocol.User, error) {
	reply, err := c.request(ctx, protocol.ActionLogin, protocol.LoginRequest{User: user, Password: password})
	if err != nil {
		return nil, err
	}
	var ok protocol.LoginSuccess
	if err := expect(reply, protocol.ActionLoginSuccess, &ok); err != nil {
		return nil, err
	}
	c.setState(StateLoggedIn, nil)
	return &ok.User, nil
}

// GetRooms lists the rooms
func (c *Client) GetRooms(ctx context.Context) ([]protocol.Room, error) {
	reply, err := c.request(ctx, protocol.ActionGetRooms, nil)
	if err != nil {
		return nil, err
	}
	var list protocol.RoomList
	if err := expect(reply, protocol.ActionRoomList, &list); err != nil {
		return nil, err
	}
	return list.Rooms, nil
}

// Join enters roomID, leaving the current room if there is one
func (c *Client) Join(ctx context.Context, roomID int64) (*protocol.JoinSuccess, error) {
	reply, err := c.request(ctx, protocol.ActionJoin, map[string]any{"room_id": roomID})
	if err != nil {
		return nil, err
	}
	var joined protocol.JoinSuccess
	if err := expect(reply, protocol.ActionJoinSuccess, &joined); err != nil {
		return nil, err
	}
	c.roomID.Store(joined.RoomID)
	return &joined, nil
}

// Leave returns to the lobby. The server does not answer a leave from the
// lobby, so that case is refused locally.
func (c *Client) Leave(ctx context.Context) error {
	if c.roomID.Load() == 0 {
		return ErrNotInRoom
	}
	reply, err := c.request(ctx, protocol.ActionLeaveRoom, nil)
	if err != nil {
		return err
	}
	if err := expect(reply, protocol.ActionLeaveSuccess, nil); err != nil {
		return err
	}
	c.roomID.Store(0)
	return nil
}

// Send posts a chat message to the joined room. The server only answers when
// it rejects the message; that error goes to the error callback.
func (c *Client) Send(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message is empty")
	}
	if len(content) > consts.MaxMessageContent {
		return fmt.Errorf("message exceeds %d bytes", consts.MaxMessageContent)
	}
	return c.write(protocol.MustEncode(protocol.ActionMessage, protocol.ChatRequest{Content: content}))
}

func (c *Client) request(ctx context.Context, action string, fields any) (*protocol.Envelope, error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	frame, err := protocol.Encode(action, fields)
	if err != nil {
		return nil, err
	}

	replies := make(chan *protocol.Envelope, 1)
	c.pendingMu.Lock()
	c.pending = replies
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		c.pending = nil
		c.pendingMu.Unlock()
	}()

	if err := c.write(frame); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case reply := <-replies:
		return reply, nil
	case <-c.doneCh:
		if c.readErr != nil {
			return nil, fmt.Errorf("connection lost: %w", c.readErr)
		}
		return nil, ErrNotConnected
	case <-timer.C:
		return nil, fmt.Errorf("no reply to %s within %s", action, c.config.RequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) write(frame []byte) error {
	switch c.getState() {
	case StateDisconnected, StateClosed:
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// expect checks reply's action and binds it into v. Failure replies become
// a *ServerError.
func expect(reply *protocol.Envelope, action string, v any) error {
	switch reply.Action {
	case action:
		if v == nil {
			return nil
		}
		if err := reply.Bind(v); err != nil {
			return fmt.Errorf("malformed %s reply: %w", action, err)
		}
		return nil
	case protocol.ActionLoginFail, protocol.ActionError:
		var failure protocol.Failure
		_ = reply.Bind(&failure)
		return &ServerError{Action: reply.Action, Message: failure.Message}
	default:
		return fmt.Errorf("expected %s, got %s", action, reply.Action)
	}
}

// readPump reads frames from the connection
func (c *Client) readPump() {
	defer close(c.doneCh)

	reader := bufio.NewReaderSize(c.conn, consts.MaxFrameSize)
	for {
		line, err := reader.ReadBytes(protocol.Delimiter)
		if err != nil {
			select {
			case <-c.stopCh:
			default:
				if !errors.Is(err, net.ErrClosed) {
					if errors.Is(err, io.EOF) {
						err = io.ErrUnexpectedEOF
					}
					c.readErr = err
					c.setState(StateDisconnected, err)
				}
			}
			return
		}

		env, err := protocol.Parse(line)
		if err != nil {
			logger.Debug("ignoring malformed frame from server: %v", err)
			continue
		}
		c.routeFrame(env)
	}
}

// routeFrame hands a frame to the waiting request or to a callback
func (c *Client) routeFrame(env *protocol.Envelope) {
	if env.Action == protocol.ActionBroadcast {
		var b protocol.Broadcast
		if err := env.Bind(&b); err != nil {
			logger.Debug("ignoring malformed broadcast: %v", err)
			return
		}
		c.callbackMu.RLock()
		cb := c.broadcastCallback
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(b)
		}
		return
	}

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	if pending != nil {
		pending <- env
		return
	}

	// Nothing is waiting: an error for a chat message
	var failure protocol.Failure
	_ = env.Bind(&failure)
	c.callbackMu.RLock()
	cb := c.errorCallback
	c.callbackMu.RUnlock()
	if cb != nil {
		cb(failure.Message)
	} else {
		logger.Warn("unsolicited %s from server: %s", env.Action, failure.Message)
	}
}

// SetBroadcastCallback sets the handler for room broadcasts
func (c *Client) SetBroadcastCallback(fn func(protocol.Broadcast)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.broadcastCallback = fn
}

// SetErrorCallback sets the handler for errors no request is waiting for
func (c *Client) SetErrorCallback(fn func(message string)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.errorCallback = fn
}

// SetStateChangedCallback sets the handler for connection state changes
func (c *Client) SetStateChangedCallback(fn func(ConnectionState, error)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.stateChangedCallback = fn
}

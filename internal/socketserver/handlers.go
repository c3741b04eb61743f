package socketserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/codefionn/scee/internal/authbridge"
	"github.com/codefionn/scee/internal/consts"
	"github.com/codefionn/scee/internal/logger"
	"github.com/codefionn/scee/internal/metrics"
	"github.com/codefionn/scee/internal/protocol"
	"github.com/codefionn/scee/internal/securemem"
	"github.com/codefionn/scee/internal/storage"
)

// Replies sent with the error action
const (
	msgLoginFirst      = "You must log in first"
	msgJoinFirst       = "You must join a room first"
	msgAlreadyLoggedIn = "Already logged in"
	msgInvalidRoomID   = "Invalid room id"
	msgRoomNotFound    = "Room does not exist"
	msgEmptyMessage    = "Message content must not be empty"
	msgMessageTooLong  = "Message content is too long"
	msgInvalidPayload  = "Invalid message payload"
	msgInternalError   = "internal error"
	msgBadCredentials  = "Invalid credentials"
)

// Store is the persistence the handlers need
type Store interface {
	ListRooms(ctx context.Context) ([]storage.Room, error)
	RoomByID(ctx context.Context, id int64) (storage.Room, error)
	AppendMessage(ctx context.Context, userID, roomID int64, content string) error
	RecentMessages(ctx context.Context, roomID int64, limit int) ([]storage.Message, error)
}

// Authenticator verifies credentials. It takes ownership of password.
type Authenticator interface {
	Authenticate(ctx context.Context, user string, password *securemem.String) (*protocol.User, error)
}

// handlerEnv is what every client of one server shares
type handlerEnv struct {
	store        Store
	auth         Authenticator
	historyLimit int
	rateLimit    rate.Limit
	rateBurst    int
	metrics      *metrics.Metrics
}

func joinNotice(username string) string {
	return fmt.Sprintf("--> %s joined the room.", username)
}

func leaveNotice(username string) string {
	return fmt.Sprintf("<-- %s left the room.", username)
}

// handleFrame dispatches one decoded frame according to the session state.
// Nothing here returns an error: every failure becomes a reply.
func (c *Client) handleFrame(ctx context.Context, env *protocol.Envelope) {
	logger.Debug("client %s received %s", c.ID, env.Action)
	state := c.Session.State()

	switch env.Action {
	case protocol.ActionLogin:
		if state != StateConnecting {
			c.sendError(msgAlreadyLoggedIn)
			return
		}
		c.handleLogin(ctx, env)

	case protocol.ActionGetRooms:
		if state == StateConnecting {
			c.sendError(msgLoginFirst)
			return
		}
		c.handleGetRooms(ctx)

	case protocol.ActionJoin:
		if state == StateConnecting {
			c.sendError(msgLoginFirst)
			return
		}
		c.handleJoin(ctx, env)

	case protocol.ActionMessage:
		switch state {
		case StateConnecting:
			c.sendError(msgLoginFirst)
		case StateAuthenticated:
			c.sendError(msgJoinFirst)
		default:
			c.handleMessage(ctx, env)
		}

	case protocol.ActionLeaveRoom:
		switch state {
		case StateConnecting:
			c.sendError(msgLoginFirst)
		case StateInRoom:
			c.handleLeave()
		}
		// In the lobby leaving is a silent no-op

	default:
		c.sendError(fmt.Sprintf("Unknown action: %s", env.Action))
	}
}

func (c *Client) handleLogin(ctx context.Context, env *protocol.Envelope) {
	var req protocol.LoginRequest
	if err := env.Bind(&req); err != nil {
		c.reply(protocol.ActionLoginFail, protocol.Failure{Message: msgBadCredentials})
		return
	}

	password := securemem.NewString(req.Password)
	req.Password = ""

	user, err := c.env.auth.Authenticate(ctx, req.User, password)
	if err != nil {
		if errors.Is(err, authbridge.ErrRejected) {
			logger.Info("client %s: login rejected for %q", c.ID, req.User)
			c.reply(protocol.ActionLoginFail, protocol.Failure{Message: msgBadCredentials})
			return
		}
		logger.Error("client %s: authentication failed: %v", c.ID, err)
		c.reply(protocol.ActionLoginFail, protocol.Failure{Message: msgInternalError})
		return
	}

	if err := c.Session.authenticate(*user); err != nil {
		// Only this handler moves the session, so this cannot race
		logger.Error("client %s: %v", c.ID, err)
		c.sendError(msgAlreadyLoggedIn)
		return
	}

	logger.Info("client %s logged in as %s (%s)", c.ID, user.Username, user.Role)
	c.reply(protocol.ActionLoginSuccess, protocol.LoginSuccess{User: *user})
}

func (c *Client) handleGetRooms(ctx context.Context) {
	rooms, err := c.env.store.ListRooms(ctx)
	if err != nil {
		logger.Error("client %s: %v", c.ID, err)
		c.sendError(msgInternalError)
		return
	}

	list := protocol.RoomList{Rooms: make([]protocol.Room, 0, len(rooms))}
	for _, r := range rooms {
		list.Rooms = append(list.Rooms, protocol.Room{ID: r.ID, Name: r.Name})
	}
	c.reply(protocol.ActionRoomList, list)
}

func (c *Client) handleJoin(ctx context.Context, env *protocol.Envelope) {
	var req protocol.JoinRequest
	if err := env.Bind(&req); err != nil {
		c.sendError(msgInvalidRoomID)
		return
	}
	roomID, err := protocol.ParseRoomID(req.RoomID)
	if err != nil {
		logger.Debug("client %s: %v", c.ID, err)
		c.sendError(msgInvalidRoomID)
		return
	}

	room, err := c.env.store.RoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.sendError(msgRoomNotFound)
			return
		}
		logger.Error("client %s: %v", c.ID, err)
		c.sendError(msgInternalError)
		return
	}

	messages, err := c.env.store.RecentMessages(ctx, roomID, c.env.historyLimit)
	if err != nil {
		logger.Error("client %s: %v", c.ID, err)
		c.sendError(msgInternalError)
		return
	}

	username := c.Session.Username()

	// Re-joining from inside a room leaves the old one first, without a
	// leave_success reply
	if prev, ok := c.Session.RoomID(); ok {
		c.hub.Broadcast(prev, c.ID, leaveNotice(username), AsSystem())
		c.Session.leave()
		logger.Info("client %s left room %d", c.ID, prev)
	}

	if err := c.Session.enter(roomID); err != nil {
		logger.Error("client %s: %v", c.ID, err)
		c.sendError(msgInternalError)
		return
	}

	history := make([]protocol.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		history = append(history, protocol.HistoryEntry{
			Username:  m.Username,
			Content:   m.Content,
			Timestamp: m.Timestamp.Format(storage.TimestampLayout),
		})
	}

	logger.Info("client %s (%s) joined room %d", c.ID, username, roomID)
	c.reply(protocol.ActionJoinSuccess, protocol.JoinSuccess{
		RoomID:   room.ID,
		RoomName: room.Name,
		History:  history,
	})
	c.hub.Broadcast(roomID, c.ID, joinNotice(username), AsSystem())
}

func (c *Client) handleMessage(ctx context.Context, env *protocol.Envelope) {
	var req protocol.ChatRequest
	if err := env.Bind(&req); err != nil {
		c.sendError(msgInvalidPayload)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.sendError(msgEmptyMessage)
		return
	}
	if len(req.Content) > consts.MaxMessageContent {
		c.sendError(msgMessageTooLong)
		return
	}

	roomID, ok := c.Session.RoomID()
	if !ok {
		c.sendError(msgJoinFirst)
		return
	}
	user := c.Session.User()

	if err := c.env.store.AppendMessage(ctx, user.ID, roomID, req.Content); err != nil {
		logger.Error("client %s: %v", c.ID, err)
		c.sendError(msgInternalError)
		return
	}

	c.hub.Broadcast(roomID, c.ID, req.Content)
}

func (c *Client) handleLeave() {
	roomID, ok := c.Session.RoomID()
	if !ok {
		return
	}

	c.hub.Broadcast(roomID, c.ID, leaveNotice(c.Session.Username()), AsSystem())
	c.Session.leave()

	logger.Info("client %s left room %d", c.ID, roomID)
	c.reply(protocol.ActionLeaveSuccess, nil)
}

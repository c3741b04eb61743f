package socketserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/scee/internal/protocol"
)

// State is where a connection is in the login and room navigation flow
type State int

const (
	// StateConnecting is the initial, unauthenticated state
	StateConnecting State = iota
	// StateAuthenticated is logged in and in the lobby
	StateAuthenticated
	// StateInRoom is logged in and inside exactly one room
	StateInRoom
)

// States lists every State in flow order
var States = []State{StateConnecting, StateAuthenticated, StateInRoom}

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateInRoom:
		return "in_room"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the authentication and room state of one connection. It is
// written only by the connection's own handler; anyone may read it.
//
// Invariant: roomID is non-zero exactly when state is StateInRoom.
type Session struct {
	mu     sync.RWMutex
	state  State
	user   *protocol.User
	roomID int64
}

// SessionInfo is a point-in-time view of a session for listings
type SessionInfo struct {
	ID          string    `json:"id"`
	Addr        string    `json:"addr"`
	State       string    `json:"state"`
	User        string    `json:"user,omitempty"`
	RoomID      *int64    `json:"room_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// State returns the current state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// User returns a copy of the authenticated identity, or nil
func (s *Session) User() *protocol.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Username returns the authenticated username, or ""
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.Username
}

// RoomID returns the current room and whether the session is in one
func (s *Session) RoomID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID, s.state == StateInRoom
}

// InRoom reports whether the session is currently in roomID
func (s *Session) InRoom(roomID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateInRoom && s.roomID == roomID
}

func (s *Session) authenticate(user protocol.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return fmt.Errorf("cannot log in from state %s", s.state)
	}
	s.user = &user
	s.state = StateAuthenticated
	return nil
}

func (s *Session) enter(roomID int64) error {
	if roomID <= 0 {
		return fmt.Errorf("invalid room id %d", roomID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		return fmt.Errorf("cannot join a room from state %s", s.state)
	}
	s.roomID = roomID
	s.state = StateInRoom
	return nil
}

// leave returns to the lobby and reports the room that was left
func (s *Session) leave() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInRoom {
		return 0, false
	}
	prev := s.roomID
	s.roomID = 0
	s.state = StateAuthenticated
	return prev, true
}

func (s *Session) consistent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (s.roomID != 0) == (s.state == StateInRoom)
}

func (s *Session) info() (state State, user string, roomID *int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user != nil {
		user = s.user.Username
	}
	if s.state == StateInRoom {
		id := s.roomID
		roomID = &id
	}
	return s.state, user, roomID
}

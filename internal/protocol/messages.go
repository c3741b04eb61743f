package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Client to server actions
const (
	ActionLogin     = "login"
	ActionGetRooms  = "get_rooms"
	ActionJoin      = "join"
	ActionMessage   = "message"
	ActionLeaveRoom = "leave_room"
)

// Server to client actions
const (
	ActionLoginSuccess = "login_success"
	ActionLoginFail    = "login_fail"
	ActionRoomList     = "room_list"
	ActionJoinSuccess  = "join_success"
	ActionLeaveSuccess = "leave_success"
	ActionBroadcast    = "broadcast"
	ActionError        = "error"
)

// SystemSender is the display name used for server generated notices.
const SystemSender = "System"

// LoginRequest carries credentials for the login action
type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// JoinRequest carries the target room. The id is kept raw so that both
// 5 and "5" can be accepted and everything else rejected.
type JoinRequest struct {
	RoomID json.RawMessage `json:"room_id"`
}

// ChatRequest carries the body of a chat message
type ChatRequest struct {
	Content string `json:"content"`
}

// User is the authenticated identity reported on login
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Room is one entry of a room listing
type Room struct {
	ID   int64  `json:"id"`
	Name string `json:"nombre"`
}

// HistoryEntry is one persisted chat message replayed on join
type HistoryEntry struct {
	Username  string `json:"username"`
	Content   string `json:"contenido"`
	Timestamp string `json:"timestamp"`
}

// LoginSuccess is the payload of login_success
type LoginSuccess struct {
	User User `json:"user"`
}

// Failure is the payload of login_fail and error
type Failure struct {
	Message string `json:"message"`
}

// RoomList is the payload of room_list
type RoomList struct {
	Rooms []Room `json:"rooms"`
}

// JoinSuccess is the payload of join_success
type JoinSuccess struct {
	RoomID   int64          `json:"room_id"`
	RoomName string         `json:"room_name"`
	History  []HistoryEntry `json:"history"`
}

// Broadcast is the payload of broadcast
type Broadcast struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// ParseRoomID accepts a positive integer given either as a JSON number or a
// decimal string.
func ParseRoomID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing room id")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("invalid room id: %w", err)
	}

	var id int64
	switch t := v.(type) {
	case json.Number:
		n, err := numberToID(t)
		if err != nil {
			return 0, err
		}
		id = n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("room id %q is not numeric", t)
		}
		id = n
	default:
		return 0, fmt.Errorf("room id has unsupported type %T", v)
	}

	if id <= 0 {
		return 0, fmt.Errorf("room id %d is not positive", id)
	}
	return id, nil
}

// maxExactFloat bounds the integers a float64 spelling may name; from here
// on neighbouring integers round to the same value
const maxExactFloat = 1 << 53

// numberToID converts a JSON number without going through float64 when it
// is written as an integer. Other spellings (5.0, 1e3) are accepted only
// while they stay exact.
func numberToID(n json.Number) (int64, error) {
	if id, err := n.Int64(); err == nil {
		return id, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) >= maxExactFloat {
		return 0, fmt.Errorf("room id %s is not an integer", n)
	}
	return int64(f), nil
}

// ErrorFrame encodes an error reply
func ErrorFrame(message string) []byte {
	return MustEncode(ActionError, Failure{Message: message})
}

// BroadcastFrame encodes a chat or system message for room members
func BroadcastFrame(sender, content string) []byte {
	return MustEncode(ActionBroadcast, Broadcast{Sender: sender, Content: content})
}

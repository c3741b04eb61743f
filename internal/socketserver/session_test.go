package socketserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/scee/internal/protocol"
)

func TestSessionTransitions(t *testing.T) {
	var s Session
	assert.Equal(t, StateConnecting, s.State())
	assert.Nil(t, s.User())
	assert.True(t, s.consistent())

	require.Error(t, s.enter(1), "joining before login")

	require.NoError(t, s.authenticate(protocol.User{ID: 1, Username: "profe", Role: "profesor"}))
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, "profe", s.Username())
	require.Error(t, s.authenticate(protocol.User{ID: 2, Username: "alumno"}))
	assert.Equal(t, "profe", s.Username())

	_, ok := s.leave()
	assert.False(t, ok, "leaving from the lobby")

	require.Error(t, s.enter(0))
	require.NoError(t, s.enter(1))
	assert.True(t, s.InRoom(1))
	assert.False(t, s.InRoom(2))
	assert.True(t, s.consistent())

	// Switching rooms does not pass through the lobby
	require.NoError(t, s.enter(2))
	roomID, ok := s.RoomID()
	assert.True(t, ok)
	assert.Equal(t, int64(2), roomID)

	prev, ok := s.leave()
	assert.True(t, ok)
	assert.Equal(t, int64(2), prev)
	assert.Equal(t, StateAuthenticated, s.State())
	_, ok = s.RoomID()
	assert.False(t, ok)
	assert.True(t, s.consistent())
}

func TestSessionUserIsACopy(t *testing.T) {
	var s Session
	require.NoError(t, s.authenticate(protocol.User{ID: 1, Username: "profe"}))

	u := s.User()
	u.Username = "mallory"
	assert.Equal(t, "profe", s.Username())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "in_room", StateInRoom.String())
	assert.Equal(t, "state(9)", State(9).String())
}

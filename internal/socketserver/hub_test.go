package socketserver

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/scee/internal/consts"
	"github.com/codefionn/scee/internal/metrics"
	"github.com/codefionn/scee/internal/protocol"
)

// member registers a client that is not served, so its queue can be
// inspected directly
func member(t *testing.T, hub *Hub, id, username string, roomID int64) *Client {
	t.Helper()
	c := newClient(id, newNopTransport(), hub, newTestEnv(nil, nil))
	require.NoError(t, c.Session.authenticate(protocol.User{ID: 1, Username: username}))
	if roomID != 0 {
		require.NoError(t, c.Session.enter(roomID))
	}
	hub.Register(c)
	return c
}

func drain(c *Client) []protocol.Broadcast {
	var out []protocol.Broadcast
	for {
		select {
		case frame := <-c.send:
			env, err := protocol.Parse(frame)
			if err != nil || env.Action != protocol.ActionBroadcast {
				continue
			}
			var b protocol.Broadcast
			if env.Bind(&b) == nil {
				out = append(out, b)
			}
		default:
			return out
		}
	}
}

func TestHubRegistry(t *testing.T) {
	hub := NewHub(nil)
	a := member(t, hub, "conn_1", "profe", 1)
	member(t, hub, "conn_2", "alumno", 1)
	member(t, hub, "conn_3", "alumno", 2)
	member(t, hub, "conn_4", "alumno", 0)

	assert.Equal(t, 4, hub.Count())
	got, ok := hub.Get("conn_1")
	require.True(t, ok)
	assert.Same(t, a, got)

	members := hub.MembersOf(1)
	sort.Strings(members)
	assert.Equal(t, []string{"conn_1", "conn_2"}, members)
	assert.Empty(t, hub.MembersOf(7))

	assert.Equal(t, 1, hub.CountByState(StateAuthenticated))
	assert.Equal(t, 3, hub.CountByState(StateInRoom))

	hub.Remove("conn_1")
	hub.Remove("conn_1")
	assert.Equal(t, 3, hub.Count())
	_, ok = hub.Get("conn_1")
	assert.False(t, ok)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(metrics.New())
	a := member(t, hub, "conn_1", "profe", 1)
	b := member(t, hub, "conn_2", "alumno", 1)
	other := member(t, hub, "conn_3", "alumno", 2)
	lobby := member(t, hub, "conn_4", "alumno", 0)

	t.Run("excludes sender", func(t *testing.T) {
		n := hub.Broadcast(1, a.ID, "hola")
		assert.Equal(t, 1, n)
		assert.Equal(t, []protocol.Broadcast{{Sender: "profe", Content: "hola"}}, drain(b))
		assert.Empty(t, drain(a))
		assert.Empty(t, drain(other))
		assert.Empty(t, drain(lobby))
	})

	t.Run("include sender", func(t *testing.T) {
		n := hub.Broadcast(1, a.ID, "eco", IncludeSender())
		assert.Equal(t, 2, n)
		assert.Len(t, drain(a), 1)
		assert.Len(t, drain(b), 1)
	})

	t.Run("system notice", func(t *testing.T) {
		hub.Broadcast(1, a.ID, joinNotice("profe"), AsSystem())
		assert.Equal(t, []protocol.Broadcast{{Sender: protocol.SystemSender, Content: "--> profe joined the room."}}, drain(b))
	})

	t.Run("unknown sender", func(t *testing.T) {
		assert.Zero(t, hub.Broadcast(1, "conn_99", "ghost"))
		assert.Empty(t, drain(b))
	})

	t.Run("empty room", func(t *testing.T) {
		assert.Zero(t, hub.Broadcast(5, "conn_99", "nadie", AsSystem()))
	})
}

func TestHubBroadcastIsolatesFailedRecipients(t *testing.T) {
	hub := NewHub(nil)
	sender := member(t, hub, "conn_1", "profe", 1)
	full := member(t, hub, "conn_2", "alumno", 1)
	closed := member(t, hub, "conn_3", "alumno", 1)
	healthy := member(t, hub, "conn_4", "alumno", 1)

	for i := 0; i < consts.SendBufferSize; i++ {
		require.True(t, full.enqueue([]byte(fmt.Sprintf("filler %d\n", i))))
	}
	closed.Close()

	n := hub.Broadcast(1, sender.ID, "hola")
	assert.Equal(t, 1, n)
	assert.Equal(t, []protocol.Broadcast{{Sender: "profe", Content: "hola"}}, drain(healthy))
}

func TestHubSnapshot(t *testing.T) {
	hub := NewHub(nil)
	member(t, hub, "conn_1", "profe", 2)
	member(t, hub, "conn_2", "alumno", 0)

	infos := hub.Snapshot()
	require.Len(t, infos, 2)

	byID := map[string]SessionInfo{}
	for _, info := range infos {
		byID[info.ID] = info
	}
	require.NotNil(t, byID["conn_1"].RoomID)
	assert.Equal(t, int64(2), *byID["conn_1"].RoomID)
	assert.Equal(t, "in_room", byID["conn_1"].State)
	assert.Equal(t, "profe", byID["conn_1"].User)
	assert.Nil(t, byID["conn_2"].RoomID)
	assert.Equal(t, "authenticated", byID["conn_2"].State)
}

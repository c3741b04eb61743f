package socketclient

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/codefionn/scee/internal/authbridge"
	"github.com/codefionn/scee/internal/protocol"
	"github.com/codefionn/scee/internal/securemem"
	"github.com/codefionn/scee/internal/socketserver"
	"github.com/codefionn/scee/internal/storage"
)

// storeAuth checks credentials against the store in-process
type storeAuth struct {
	store *storage.Store
}

func (a storeAuth) Authenticate(ctx context.Context, user string, password *securemem.String) (*protocol.User, error) {
	defer password.Destroy()
	u, err := a.store.VerifyCredentials(ctx, user, password.String())
	if errors.Is(err, storage.ErrInvalidCredentials) {
		return nil, fmt.Errorf("%w: %v", authbridge.ErrRejected, err)
	}
	if err != nil {
		return nil, err
	}
	return &protocol.User{ID: u.ID, Username: u.Username, Role: u.Role}, nil
}

func (storeAuth) Start(context.Context) error { return nil }
func (storeAuth) Stop(context.Context) error  { return nil }

func startServer(t *testing.T) *socketserver.Server {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "chat.db"), storage.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := socketserver.NewServer(socketserver.Options{ListenAddr: "127.0.0.1:0"}, store, storeAuth{store: store})
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv
}

func dial(t *testing.T, srv *socketserver.Server) *Client {
	t.Helper()
	c := NewClientWithConfig(&Config{Addr: srv.Addr().String(), RequestTimeout: 2 * time.Second})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

type inbox struct {
	mu   sync.Mutex
	msgs []protocol.Broadcast
}

func (b *inbox) add(m protocol.Broadcast) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}

func (b *inbox) has(m protocol.Broadcast) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, got := range b.msgs {
		if got == m {
			return true
		}
	}
	return false
}

func TestClientSession(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	prof := dial(t, srv)
	student := dial(t, srv)

	var profInbox inbox
	prof.SetBroadcastCallback(profInbox.add)

	_, err := prof.Login(ctx, "profe", "nope")
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.ActionLoginFail, serverErr.Action)
	assert.Equal(t, "Invalid credentials", serverErr.Message)
	assert.Equal(t, StateConnected, prof.GetState())

	user, err := prof.Login(ctx, "profe", "123")
	require.NoError(t, err)
	assert.Equal(t, "profesor", user.Role)
	assert.Equal(t, StateLoggedIn, prof.GetState())

	_, err = student.Login(ctx, "alumno", "456")
	require.NoError(t, err)

	rooms, err := prof.GetRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	joined, err := prof.Join(ctx, rooms[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "General", joined.RoomName)
	assert.Equal(t, rooms[0].ID, prof.RoomID())

	_, err = student.Join(ctx, rooms[0].ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return profInbox.has(protocol.Broadcast{Sender: protocol.SystemSender, Content: "--> alumno joined the room."})
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, student.Send("Buenos días"))
	require.Eventually(t, func() bool {
		return profInbox.has(protocol.Broadcast{Sender: "alumno", Content: "Buenos días"})
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, student.Leave(ctx))
	assert.Zero(t, student.RoomID())
	assert.ErrorIs(t, student.Leave(ctx), ErrNotInRoom)

	_, err = student.Join(ctx, 42)
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "Room does not exist", serverErr.Message)
}

func TestClientUnsolicitedErrors(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	c := dial(t, srv)
	errs := make(chan string, 1)
	c.SetErrorCallback(func(message string) { errs <- message })

	_, err := c.Login(ctx, "alumno", "456")
	require.NoError(t, err)

	// In the lobby the server rejects chat messages
	require.NoError(t, c.Send("hola"))
	select {
	case msg := <-errs:
		assert.Equal(t, "You must join a room first", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no error callback")
	}

	assert.Error(t, c.Send("   "))
}

func TestClientConnectionLost(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv)

	states := make(chan ConnectionState, 4)
	c.SetStateChangedCallback(func(s ConnectionState, _ error) { states <- s })

	hub := srv.Hub()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	for _, info := range hub.Snapshot() {
		client, ok := hub.Get(info.ID)
		require.True(t, ok)
		client.Close()
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the closed connection")
	}
	assert.Error(t, c.Err())
	assert.Equal(t, StateDisconnected, <-states)

	_, err := c.GetRooms(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient("127.0.0.1:1")
	_, err := c.Login(context.Background(), "profe", "123")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.GetState())
}

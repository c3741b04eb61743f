package socketserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/codefionn/scee/internal/authbridge"
	"github.com/codefionn/scee/internal/protocol"
	"github.com/codefionn/scee/internal/securemem"
	"github.com/codefionn/scee/internal/storage"
)

// fakeAuth accepts the seeded credentials without a worker process
type fakeAuth struct {
	err      error
	startErr error
	started  atomic.Int32
	stopped  atomic.Int32
}

func (f *fakeAuth) Authenticate(_ context.Context, user string, password *securemem.String) (*protocol.User, error) {
	defer password.Destroy()
	if f.err != nil {
		return nil, f.err
	}
	switch {
	case user == "profe" && password.Equal("123"):
		return &protocol.User{ID: 1, Username: "profe", Role: storage.RoleProfesor}, nil
	case user == "alumno" && password.Equal("456"):
		return &protocol.User{ID: 2, Username: "alumno", Role: storage.RoleAlumno}, nil
	}
	return nil, fmt.Errorf("%w: Invalid credentials", authbridge.ErrRejected)
}

func (f *fakeAuth) Start(context.Context) error {
	f.started.Add(1)
	return f.startErr
}

func (f *fakeAuth) Stop(context.Context) error {
	f.stopped.Add(1)
	return nil
}

// failingStore breaks ListRooms on top of a real store
type failingStore struct {
	*storage.Store
}

func (failingStore) ListRooms(context.Context) ([]storage.Room, error) {
	return nil, errors.New("disk I/O error")
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "chat.db"), storage.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEnv(store Store, auth Authenticator) *handlerEnv {
	return &handlerEnv{
		store:        store,
		auth:         auth,
		historyLimit: 20,
		rateLimit:    rate.Inf,
		rateBurst:    1,
	}
}

var peerIDs atomic.Int64

// peer is the remote end of a connection served over net.Pipe
type peer struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	client *Client
	done   chan struct{}
}

func connect(t *testing.T, hub *Hub, env *handlerEnv) *peer {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	id := fmt.Sprintf("conn_%d", peerIDs.Add(1))
	client := newClient(id, newLineTransport(serverSide), hub, env)

	p := &peer{
		t:      t,
		conn:   clientSide,
		reader: bufio.NewReader(clientSide),
		client: client,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		client.Serve(context.Background())
	}()

	require.Eventually(t, func() bool {
		_, ok := hub.Get(id)
		return ok
	}, time.Second, time.Millisecond)

	t.Cleanup(func() {
		clientSide.Close()
		<-p.done
	})
	return p
}

func (p *peer) sendRaw(data string) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := p.conn.Write([]byte(data))
	require.NoError(p.t, err)
}

func (p *peer) send(action string, fields any) {
	p.t.Helper()
	p.sendRaw(string(protocol.MustEncode(action, fields)))
}

func (p *peer) expect(action string) *protocol.Envelope {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := p.reader.ReadBytes(protocol.Delimiter)
	require.NoError(p.t, err, "waiting for %s", action)

	env, err := protocol.Parse(line)
	require.NoError(p.t, err)
	require.Equal(p.t, action, env.Action, "unexpected frame %s", line)
	return env
}

func (p *peer) expectError(message string) {
	p.t.Helper()
	var failure protocol.Failure
	require.NoError(p.t, p.expect(protocol.ActionError).Bind(&failure))
	require.Equal(p.t, message, failure.Message)
}

func (p *peer) expectBroadcast(sender, content string) {
	p.t.Helper()
	var b protocol.Broadcast
	require.NoError(p.t, p.expect(protocol.ActionBroadcast).Bind(&b))
	require.Equal(p.t, protocol.Broadcast{Sender: sender, Content: content}, b)
}

// expectSilence asserts that nothing arrives within d
func (p *peer) expectSilence(d time.Duration) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(d)))
	line, err := p.reader.ReadBytes(protocol.Delimiter)
	require.Error(p.t, err, "unexpected frame %s", line)
	var netErr net.Error
	require.True(p.t, errors.As(err, &netErr) && netErr.Timeout(), "expected timeout, got %v", err)
}

func (p *peer) login(user, password string) protocol.User {
	p.t.Helper()
	p.send(protocol.ActionLogin, protocol.LoginRequest{User: user, Password: password})
	var ok protocol.LoginSuccess
	require.NoError(p.t, p.expect(protocol.ActionLoginSuccess).Bind(&ok))
	return ok.User
}

func (p *peer) join(roomID int64) protocol.JoinSuccess {
	p.t.Helper()
	p.send(protocol.ActionJoin, map[string]any{"room_id": roomID})
	var js protocol.JoinSuccess
	require.NoError(p.t, p.expect(protocol.ActionJoinSuccess).Bind(&js))
	return js
}

// nopTransport is a Transport that never delivers anything
type nopTransport struct {
	once   sync.Once
	closed chan struct{}
}

func newNopTransport() *nopTransport {
	return &nopTransport{closed: make(chan struct{})}
}

func (t *nopTransport) ReadFrame() ([]byte, error) {
	<-t.closed
	return nil, net.ErrClosed
}

func (t *nopTransport) WriteFrame([]byte) error          { return nil }
func (t *nopTransport) Ping() error                      { return nil }
func (t *nopTransport) SetWriteDeadline(time.Time) error { return nil }
func (t *nopTransport) RemoteAddr() string               { return "pipe" }
func (t *nopTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

package socketserver

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/scee/internal/metrics"
	"github.com/codefionn/scee/internal/protocol"
)

func startServer(t *testing.T, opts Options, auth *fakeAuth) *Server {
	t.Helper()
	if opts.ListenAddr == "" {
		opts.ListenAddr = "127.0.0.1:0"
	}
	srv := NewServer(opts, openStore(t), auth)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		srv.Stop(context.Background())
	})
	return srv
}

func dialTCP(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func roundTrip(t *testing.T, conn net.Conn, reader *bufio.Reader, frame []byte) *protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Write(frame)
	require.NoError(t, err)
	line, err := reader.ReadBytes(protocol.Delimiter)
	require.NoError(t, err)
	env, err := protocol.Parse(line)
	require.NoError(t, err)
	return env
}

func TestServerTCP(t *testing.T) {
	auth := &fakeAuth{}
	srv := startServer(t, Options{}, auth)
	assert.True(t, srv.IsRunning())
	assert.Nil(t, srv.WebSocketAddr())
	assert.Equal(t, int32(1), auth.started.Load())

	conn, reader := dialTCP(t, srv)

	env := roundTrip(t, conn, reader, protocol.MustEncode(protocol.ActionLogin, protocol.LoginRequest{User: "profe", Password: "123"}))
	require.Equal(t, protocol.ActionLoginSuccess, env.Action)

	env = roundTrip(t, conn, reader, protocol.MustEncode(protocol.ActionJoin, map[string]any{"room_id": 1}))
	require.Equal(t, protocol.ActionJoinSuccess, env.Action)

	require.Eventually(t, func() bool {
		return srv.Hub().CountByState(StateInRoom) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestServerWebSocket(t *testing.T) {
	srv := startServer(t, Options{WebSocketAddr: "127.0.0.1:0"}, &fakeAuth{})
	require.NotNil(t, srv.WebSocketAddr())

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.WebSocketAddr().String()+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	tcp, reader := dialTCP(t, srv)
	require.Equal(t, protocol.ActionLoginSuccess,
		roundTrip(t, tcp, reader, protocol.MustEncode(protocol.ActionLogin, protocol.LoginRequest{User: "profe", Password: "123"})).Action)
	require.Equal(t, protocol.ActionJoinSuccess,
		roundTrip(t, tcp, reader, protocol.MustEncode(protocol.ActionJoin, map[string]any{"room_id": 1})).Action)

	wsRoundTrip := func(frame []byte) *protocol.Envelope {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
		msgType, data, err := ws.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, msgType)
		env, err := protocol.Parse(data)
		require.NoError(t, err)
		return env
	}

	require.Equal(t, protocol.ActionLoginSuccess,
		wsRoundTrip(protocol.MustEncode(protocol.ActionLogin, protocol.LoginRequest{User: "alumno", Password: "456"})).Action)
	require.Equal(t, protocol.ActionJoinSuccess,
		wsRoundTrip(protocol.MustEncode(protocol.ActionJoin, map[string]any{"room_id": 1})).Action)

	// TCP and WebSocket sessions share rooms
	require.NoError(t, tcp.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := reader.ReadBytes(protocol.Delimiter)
	require.NoError(t, err)
	env, err := protocol.Parse(line)
	require.NoError(t, err)
	var b protocol.Broadcast
	require.NoError(t, env.Bind(&b))
	assert.Equal(t, protocol.Broadcast{Sender: protocol.SystemSender, Content: "--> alumno joined the room."}, b)
}

func TestServerStop(t *testing.T) {
	auth := &fakeAuth{}
	srv := startServer(t, Options{}, auth)
	addr := srv.Addr().String()

	conn, reader := dialTCP(t, srv)
	require.Equal(t, protocol.ActionLoginSuccess,
		roundTrip(t, conn, reader, protocol.MustEncode(protocol.ActionLogin, protocol.LoginRequest{User: "profe", Password: "123"})).Action)

	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Wait())
	assert.False(t, srv.IsRunning())
	assert.Equal(t, int32(1), auth.stopped.Load())

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)

	// Connected clients are not cut off
	env := roundTrip(t, conn, reader, protocol.MustEncode(protocol.ActionGetRooms, nil))
	assert.Equal(t, protocol.ActionRoomList, env.Action)
}

func TestServerStartFailures(t *testing.T) {
	t.Run("auth worker", func(t *testing.T) {
		auth := &fakeAuth{startErr: errors.New("exec: no such file")}
		srv := NewServer(Options{ListenAddr: "127.0.0.1:0"}, openStore(t), auth)
		err := srv.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth worker")
		assert.False(t, srv.IsRunning())
	})

	t.Run("address in use", func(t *testing.T) {
		taken, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer taken.Close()

		auth := &fakeAuth{}
		srv := NewServer(Options{ListenAddr: taken.Addr().String()}, openStore(t), auth)
		require.Error(t, srv.Start(context.Background()))
		assert.Equal(t, int32(1), auth.stopped.Load())
	})

	t.Run("already running", func(t *testing.T) {
		srv := startServer(t, Options{}, &fakeAuth{})
		require.Error(t, srv.Start(context.Background()))
	})
}

func TestServerSessionGauge(t *testing.T) {
	m := metrics.New()
	srv := startServer(t, Options{Metrics: m}, &fakeAuth{})

	conn, reader := dialTCP(t, srv)
	roundTrip(t, conn, reader, protocol.MustEncode(protocol.ActionLogin, protocol.LoginRequest{User: "profe", Password: "123"}))

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() != "scee_sessions" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "state" && label.GetValue() == "authenticated" {
					found = true
					assert.Equal(t, 1.0, metric.GetGauge().GetValue())
				}
			}
		}
	}
	assert.True(t, found, "scee_sessions{state=\"authenticated\"} not exported")
}

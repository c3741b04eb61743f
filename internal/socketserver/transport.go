package socketserver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/scee/internal/consts"
	"github.com/codefionn/scee/internal/protocol"
)

// errFrameTooLarge is returned by ReadFrame for an oversized frame. The rest
// of that frame has been discarded and the connection is still usable.
var errFrameTooLarge = errors.New("frame too large")

// Transport carries frames between the server and one peer
type Transport interface {
	// ReadFrame returns the next frame without its delimiter
	ReadFrame() ([]byte, error)
	// WriteFrame writes one encoded frame, delimiter included
	WriteFrame(frame []byte) error
	// Ping keeps an idle connection alive where the transport supports it
	Ping() error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// lineTransport speaks newline-delimited frames over a stream connection
type lineTransport struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newLineTransport(conn net.Conn) *lineTransport {
	return &lineTransport{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, consts.MaxFrameSize),
	}
}

func (t *lineTransport) ReadFrame() ([]byte, error) {
	line, err := t.reader.ReadSlice(protocol.Delimiter)
	switch {
	case err == nil:
		frame := make([]byte, len(line)-1)
		copy(frame, line)
		return frame, nil

	case errors.Is(err, bufio.ErrBufferFull):
		// Skip to the end of the oversized frame
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = t.reader.ReadSlice(protocol.Delimiter)
		}
		if err != nil {
			return nil, err
		}
		return nil, errFrameTooLarge

	default:
		// A partial frame at EOF is discarded
		return nil, err
	}
}

func (t *lineTransport) WriteFrame(frame []byte) error {
	_, err := t.conn.Write(frame)
	return err
}

func (t *lineTransport) Ping() error { return nil }

func (t *lineTransport) SetWriteDeadline(deadline time.Time) error {
	return t.conn.SetWriteDeadline(deadline)
}

func (t *lineTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

func (t *lineTransport) Close() error { return t.conn.Close() }

// wsTransport carries one frame per WebSocket text message
type wsTransport struct {
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	conn.SetReadLimit(consts.MaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(consts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(consts.PongWait))
	})
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			// A failed websocket connection stays failed, so an oversized
			// message ends it
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, fmt.Errorf("websocket: %w", err)
			}
			return nil, err
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(consts.PongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		return bytes.TrimRight(data, "\r\n"), nil
	}
}

func (t *wsTransport) WriteFrame(frame []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(frame, []byte{protocol.Delimiter}))
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(consts.WriteWait))
}

func (t *wsTransport) SetWriteDeadline(deadline time.Time) error {
	return t.conn.SetWriteDeadline(deadline)
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(consts.Timeout1Second))
	return t.conn.Close()
}

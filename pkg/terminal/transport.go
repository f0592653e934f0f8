package terminal

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rsh/pkg/escape"
	"rsh/pkg/multiplex"
)

const (
	handshakeTimeout = 45 * time.Second
	controlWait      = time.Second
)

// Frame is one unit travelling through a session: bytes to forward, or a
// local escape event for the driver.
type Frame struct {
	Data  []byte
	Event escape.Event
}

// Control reports whether the frame carries an escape event instead of
// data.
func (f Frame) Control() bool {
	return f.Event.Control()
}

// Encoding selects how text messages map to bytes.
type Encoding int

const (
	// Base64 frames are required to be valid base64 in both directions.
	Base64 Encoding = iota
	// Lenient decodes valid base64 and passes anything else through as is.
	// Outgoing frames are still base64.
	Lenient
)

// TransportError reports a failure of the websocket connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("websocket %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport is an exec or logs websocket. Incoming frames are delivered on
// Frames; Send must only be called by a single goroutine.
type Transport struct {
	conn     *websocket.Conn
	encoding Encoding
	log      zerolog.Logger

	frames    chan multiplex.Result[Frame]
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	remoteClose *websocket.CloseError
}

// DialOptions configures Dial.
type DialOptions struct {
	Encoding Encoding
	Logger   zerolog.Logger
}

// Dial connects to url, which already carries its access token, and
// starts reading.
func Dial(ctx context.Context, url string, opts DialOptions) (*Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %s)", err, resp.Status)
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return newTransport(conn, opts), nil
}

func newTransport(conn *websocket.Conn, opts DialOptions) *Transport {
	t := &Transport{
		conn:     conn,
		encoding: opts.Encoding,
		log:      opts.Logger,
		frames:   make(chan multiplex.Result[Frame]),
		done:     make(chan struct{}),
	}
	conn.SetPingHandler(t.handlePing)
	go t.readLoop()
	return t
}

// Frames yields decoded remote output. The channel is closed when the
// remote side closes the connection normally; any other failure is sent
// as an error first.
func (t *Transport) Frames() <-chan multiplex.Result[Frame] {
	return t.frames
}

func (t *Transport) handlePing(data string) error {
	t.log.Trace().Msg("received ping")
	err := t.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWait))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil
	}
	return err
}

func (t *Transport) readLoop() {
	defer close(t.frames)
	for {
		msgType, msg, err := t.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				t.mu.Lock()
				t.remoteClose = closeErr
				t.mu.Unlock()
				t.log.Trace().Int("code", closeErr.Code).Msg("remote closed connection")
			}
			if isConnectionClosed(err) || t.closed() {
				return
			}
			t.emit(multiplex.Result[Frame]{Err: &TransportError{Op: "read", Err: err}})
			return
		}

		var data []byte
		switch msgType {
		case websocket.TextMessage:
			data, err = t.decode(msg)
			if err != nil {
				t.emit(multiplex.Result[Frame]{Err: &TransportError{Op: "decode", Err: err}})
				return
			}
		case websocket.BinaryMessage:
			data = msg
		}
		if len(data) == 0 {
			continue
		}
		if !t.emit(multiplex.Result[Frame]{Value: Frame{Data: data}}) {
			return
		}
	}
}

func (t *Transport) emit(r multiplex.Result[Frame]) bool {
	select {
	case t.frames <- r:
		return true
	case <-t.done:
		return false
	}
}

func (t *Transport) decode(msg []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(string(msg))
	if err != nil && t.encoding == Lenient {
		return msg, nil
	}
	return data, err
}

// Send writes data as one base64 text frame.
func (t *Transport) Send(data []byte) error {
	msg := base64.StdEncoding.EncodeToString(data)
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// RemoteClose returns the close frame sent by the server, if any.
func (t *Transport) RemoteClose() *websocket.CloseError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteClose
}

func (t *Transport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Close sends a normal closure and closes the connection. It is safe to
// call more than once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWait)); werr != nil &&
			!errors.Is(werr, websocket.ErrCloseSent) {
			t.log.Trace().Err(werr).Msg("failed to send close frame")
		}
		err = t.conn.Close()
	})
	return err
}

// isConnectionClosed checks if the error indicates a closed connection
func isConnectionClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

package wire

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// FrameConn is the minimum a duplex connection must support to carry wire
// frames: one text message read or written at a time. *websocket.Conn
// satisfies it directly via WSConn.
type FrameConn interface {
	ReadMessage() (data []byte, err error)
	WriteMessage(data []byte) error
	Close() error
}

// WSConn adapts a *websocket.Conn to FrameConn, restricting frames to text
// messages (the wire protocol carries JSON, never binary).
type WSConn struct {
	Conn *websocket.Conn
}

func (w *WSConn) ReadMessage() ([]byte, error) {
	msgType, data, err := w.Conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading websocket message: %w", err)
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected websocket message type: %d", msgType)
	}
	return data, nil
}

func (w *WSConn) WriteMessage(data []byte) error {
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSConn) Close() error {
	return w.Conn.Close()
}

// Codec reads and writes wire frames over a FrameConn. Writes are
// serialised by writeMu so a connection never interleaves two frames, no
// matter how many goroutines call WriteFrame concurrently.
type Codec struct {
	conn    FrameConn
	writeMu sync.Mutex
}

// NewCodec wraps a connection with frame encoding/decoding.
func NewCodec(conn FrameConn) *Codec {
	return &Codec{conn: conn}
}

// WriteFrame serialises and sends a frame, holding the write lock for the
// duration of the underlying write.
func (c *Codec) WriteFrame(frame any) error {
	data, err := Encode(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(data)
}

// ReadFrame reads one message and decodes it. A nil, nil result means the
// message was malformed or an unrecognised type and MUST be ignored by the
// caller rather than treated as a connection error.
func (c *Codec) ReadFrame() (any, error) {
	data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Close closes the underlying connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}

// Package ws implements the envelope connection over a WebSocket: frame
// reassembly, codec selection from the negotiated subprotocol, and the
// asymmetric close handshake.
package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ric/wire"
)

// ErrNotOpen reports a send or receive on a connection that is no longer
// open.
var ErrNotOpen = errors.New("connection is not open")

// ErrReceiving reports a second concurrent receive loop on one connection.
var ErrReceiving = errors.New("receive loop already running")

const readChunkSize = 8192

const closeWriteTimeout = 5 * time.Second

// Conn owns one WebSocket and exchanges envelopes over it using the codec
// negotiated at connection time.
type Conn struct {
	sock     *websocket.Conn
	codec    wire.Codec
	remote   string
	log      logrus.FieldLogger
	isClient bool

	mu        sync.Mutex
	receiver  func(*wire.Envelope)
	validator func(*wire.Envelope) bool

	writeMu sync.Mutex

	reading  atomic.Bool
	closed   atomic.Bool
	readDone chan struct{}
}

// NewConn wraps an established WebSocket whose subprotocol negotiation has
// already completed. It fails if no supported subprotocol was agreed.
func NewConn(sock *websocket.Conn, remote string, log logrus.FieldLogger, isClient bool) (*Conn, error) {
	codec, err := wire.CodecFor(sock.Subprotocol())
	if err != nil {
		return nil, err
	}
	return &Conn{
		sock:      sock,
		codec:     codec,
		remote:    remote,
		log:       log,
		isClient:  isClient,
		validator: wire.ValidEnvelope,
		readDone:  make(chan struct{}),
	}, nil
}

// Dial connects to a WebSocket URL, advertising all supported subprotocols
// in preference order.
func Dial(ctx context.Context, url string, log logrus.FieldLogger) (*Conn, error) {
	d := websocket.Dialer{Subprotocols: wire.Subprotocols}
	sock, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn, err := NewConn(sock, url, log, true)
	if err != nil {
		sock.Close()
		return nil, err
	}
	return conn, nil
}

// RemoteAddress returns the address of the remote endpoint.
func (c *Conn) RemoteAddress() string { return c.remote }

// Codec returns the codec negotiated for this connection.
func (c *Conn) Codec() wire.Codec { return c.codec }

// IsOpen reports whether the connection can still send and receive.
func (c *Conn) IsOpen() bool { return !c.closed.Load() }

// SetReceiver registers the callback invoked once per decoded, validated
// envelope by the receive loop.
func (c *Conn) SetReceiver(fn func(*wire.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = fn
}

// SetValidator replaces the structural validator applied to decoded
// envelopes before dispatch. Envelopes failing it are dropped.
func (c *Conn) SetValidator(fn func(*wire.Envelope) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validator = fn
}

// Send serializes one envelope and writes it as a single frame. A write
// failure marks the connection closed; IsOpen is authoritative afterward.
func (c *Conn) Send(env *wire.Envelope) error {
	if !c.IsOpen() {
		return ErrNotOpen
	}
	payload, err := c.codec.Marshal(env)
	if err != nil {
		return err
	}
	mt := websocket.TextMessage
	if c.codec.Binary() {
		mt = websocket.BinaryMessage
	}
	c.writeMu.Lock()
	err = c.sock.WriteMessage(mt, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.closed.Store(true)
		return fmt.Errorf("%w: %v", ErrNotOpen, err)
	}
	return nil
}

// ReadWhileOpen runs the receive loop until the socket closes, invoking the
// registered receiver once per complete frame. Exactly one receive loop may
// run per connection. Malformed frames are logged and dropped.
func (c *Conn) ReadWhileOpen() error {
	if !c.reading.CompareAndSwap(false, true) {
		return ErrReceiving
	}
	defer close(c.readDone)
	defer c.closed.Store(true)

	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		payload, err := c.receiveFrame(&buf, chunk)
		if err != nil {
			// Socket closed, normally or otherwise. Never surfaced as data.
			if !isExpectedClose(err) {
				c.log.Warnf("read from %s stopped: %v", c.remote, err)
			}
			return nil
		}
		env, err := c.codec.Unmarshal(payload)
		if err != nil {
			c.log.Errorf("dropping malformed frame from %s: %v", c.remote, err)
			continue
		}
		c.mu.Lock()
		receiver, validator := c.receiver, c.validator
		c.mu.Unlock()
		if validator != nil && !validator(env) {
			c.log.Warnf("dropping invalid envelope from %s (type %q, name %q)", c.remote, env.Type, env.Name)
			continue
		}
		if receiver != nil {
			receiver(env)
		}
	}
}

// receiveFrame reassembles one complete frame, reading fixed-size chunks
// into buf until the transport signals end-of-message.
func (c *Conn) receiveFrame(buf *bytes.Buffer, chunk []byte) ([]byte, error) {
	_, r, err := c.sock.NextReader()
	if err != nil {
		return nil, err
	}
	buf.Reset()
	for {
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Close performs the close handshake. The connection-initiating (client)
// side sends a close frame and waits until its reading has stopped or ctx
// ends; the accepting side closes fully at once. Idempotent.
func (c *Conn) Close(ctx context.Context, reason string) error {
	if c.closed.Swap(true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	c.writeMu.Lock()
	err := c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	c.writeMu.Unlock()
	if err != nil {
		c.sock.Close()
		return nil
	}
	if !c.isClient {
		return c.sock.Close()
	}
	select {
	case <-c.readDone:
	case <-ctx.Done():
	}
	return c.sock.Close()
}

func isExpectedClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return errors.Is(err, net.ErrClosed)
}

// Package comm implements the duplex message multiplexer running above a
// single envelope connection: it allocates conversation ids, tracks
// in-flight requests, and routes incoming envelopes to handlers by name.
package comm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/sirupsen/logrus"

	"ric/wire"
)

// A Conn is an established connection able to exchange envelopes. The
// receiver callback is invoked once per decoded, validated envelope by the
// connection's receive loop.
type Conn interface {
	RemoteAddress() string
	IsOpen() bool
	Send(*wire.Envelope) error
	Close(ctx context.Context, reason string) error
	SetReceiver(func(*wire.Envelope))
}

// Role determines which half of the conversation-id space a communicator
// allocates from, so both peers can issue requests without collision: the
// connection initiator uses even ids, the acceptor odd ids.
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
)

func (r Role) seed() uint32 {
	if r == RoleAcceptor {
		return 1
	}
	return 2
}

// Response is the outcome of a request: a status code plus structured data.
type Response struct {
	Status string
	Data   json.RawMessage
}

// StatusSuccess is the status reported by handlers on success.
const StatusSuccess = "success"

// A MessageHandler consumes a fire-and-forget message. No reply is sent.
type MessageHandler func(ctx context.Context, name string, data json.RawMessage)

// A RequestHandler serves a request from the remote peer and produces the
// response sent back on the same conversation.
type RequestHandler func(ctx context.Context, name string, data json.RawMessage) Response

// ErrUnknownConversation reports a wait on a conversation id that was never
// registered or has already been resolved.
var ErrUnknownConversation = errors.New("unknown conversation")

// ErrClosed reports an operation on a disposed communicator, including
// pending waits cancelled by disposal.
var ErrClosed = errors.New("communicator closed")

// Communicator multiplexes messages, requests and responses over one
// connection. All methods are safe for concurrent use; request handlers run
// concurrently with the receive loop, so a slow handler never blocks other
// conversations.
type Communicator struct {
	conn   Conn
	log    logrus.FieldLogger
	tasks  *taskgroup.Group
	base   context.Context
	cancel context.CancelFunc

	nextConv atomic.Uint32

	mu          sync.Mutex
	disposed    bool
	pending     map[uint32]chan Response
	msgHandlers map[string]MessageHandler
	reqHandlers map[string]RequestHandler
}

// New wraps conn in a communicator and registers its dispatch as the
// connection's receiver.
func New(conn Conn, role Role, log logrus.FieldLogger) *Communicator {
	base, cancel := context.WithCancel(context.Background())
	c := &Communicator{
		conn:        conn,
		log:         log,
		tasks:       taskgroup.New(nil),
		base:        base,
		cancel:      cancel,
		pending:     make(map[uint32]chan Response),
		msgHandlers: make(map[string]MessageHandler),
		reqHandlers: make(map[string]RequestHandler),
	}
	c.nextConv.Store(role.seed())
	conn.SetReceiver(c.dispatch)
	return c
}

// Conn returns the underlying connection.
func (c *Communicator) Conn() Conn { return c.conn }

// Close performs the protocol-level close handshake on the underlying
// connection.
func (c *Communicator) Close(ctx context.Context, reason string) error {
	return c.conn.Close(ctx, reason)
}

// SendMessage sends a fire-and-forget message. No reply is expected.
func (c *Communicator) SendMessage(name string, data json.RawMessage) error {
	return c.conn.Send(&wire.Envelope{
		Time: time.Now().UTC(),
		Type: wire.TypeMessage,
		Name: name,
		Data: data,
	})
}

// SendRequest allocates a conversation, sends the request, and returns the
// conversation id immediately. The reply is collected with WaitForResponse.
func (c *Communicator) SendRequest(name string, data json.RawMessage) (uint32, error) {
	id := c.nextConv.Add(2) - 2

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	ch := make(chan Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	// The lock must not be held while sending: dispatch on the receive loop
	// takes it to resolve conversations.
	err := c.conn.Send(&wire.Envelope{
		Time:         time.Now().UTC(),
		Type:         wire.TypeRequest,
		Name:         name,
		Conversation: id,
		Data:         data,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return 0, err
	}
	return id, nil
}

// WaitForResponse blocks until the conversation resolves, the context ends,
// or the communicator is disposed. Cancellation via ctx leaves other
// in-flight state untouched.
func (c *Communicator) WaitForResponse(ctx context.Context, id uint32) (Response, error) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return Response{}, fmt.Errorf("%w: id %d", ErrUnknownConversation, id)
	}

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case rsp, ok := <-ch:
		if !ok {
			return Response{}, ErrClosed
		}
		return rsp, nil
	}
}

// Call sends a request and waits for its response: the common case.
func (c *Communicator) Call(ctx context.Context, name string, data json.RawMessage) (Response, error) {
	id, err := c.SendRequest(name, data)
	if err != nil {
		return Response{}, err
	}
	return c.WaitForResponse(ctx, id)
}

// SetMessageHandler registers the handler for a message name, replacing any
// previous one.
func (c *Communicator) SetMessageHandler(name string, fn MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgHandlers[name] = fn
}

// ClearMessageHandler removes the handler for a message name.
func (c *Communicator) ClearMessageHandler(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.msgHandlers, name)
}

// SetRequestHandler registers the handler for a request name, replacing any
// previous one.
func (c *Communicator) SetRequestHandler(name string, fn RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqHandlers[name] = fn
}

// ClearRequestHandler removes the handler for a request name.
func (c *Communicator) ClearRequestHandler(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reqHandlers, name)
}

// dispatch routes one incoming envelope. Protocol anomalies are logged and
// dropped; they never tear down the connection.
func (c *Communicator) dispatch(env *wire.Envelope) {
	switch env.Type {
	case wire.TypeMessage:
		c.mu.Lock()
		fn, ok := c.msgHandlers[env.Name]
		c.mu.Unlock()
		if !ok {
			c.log.Warnf("no handler for message %q, dropping", env.Name)
			return
		}
		func() {
			defer func() {
				if x := recover(); x != nil {
					c.log.Errorf("panic in message handler %q (recovered): %v", env.Name, x)
				}
			}()
			fn(c.base, env.Name, env.Data)
		}()

	case wire.TypeRequest:
		c.mu.Lock()
		fn, ok := c.reqHandlers[env.Name]
		disposed := c.disposed
		c.mu.Unlock()
		if disposed {
			return
		}
		if !ok {
			c.log.Warnf("no handler for request %q, dropping", env.Name)
			return
		}
		name, convid, data := env.Name, env.Conversation, env.Data
		c.tasks.Go(func() error {
			rsp := func() (rsp Response) {
				// A panicking handler must not affect other conversations;
				// the requester gets a generic failure status.
				defer func() {
					if x := recover(); x != nil {
						c.log.Errorf("panic in request handler %q (recovered): %v", name, x)
						rsp = Response{Status: "unknown_error", Data: wire.EmptyData}
					}
				}()
				return fn(c.base, name, data)
			}()
			c.sendResponse(name, convid, rsp)
			return nil
		})

	case wire.TypeResponse:
		c.mu.Lock()
		ch, ok := c.pending[env.Conversation]
		delete(c.pending, env.Conversation)
		c.mu.Unlock()
		if !ok {
			c.log.Errorf("failed to handle response to conversation %d: unknown request", env.Conversation)
			return
		}
		ch <- Response{Status: env.Status, Data: env.Data}
		close(ch)

	default:
		c.log.Errorf("dispatch received invalid envelope type %q", env.Type)
	}
}

func (c *Communicator) sendResponse(name string, convid uint32, rsp Response) {
	data := rsp.Data
	if len(data) == 0 {
		data = wire.EmptyData
	}
	err := c.conn.Send(&wire.Envelope{
		Time:         time.Now().UTC(),
		Type:         wire.TypeResponse,
		Name:         name,
		Conversation: convid,
		Status:       rsp.Status,
		Data:         data,
	})
	if err != nil {
		c.log.Warnf("failed to send response to conversation %d: %v", convid, err)
	}
}

// Dispose cancels every still-pending conversation, clears the handler
// registries, and releases the underlying connection. It is idempotent.
func (c *Communicator) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	pending := c.pending
	c.pending = make(map[uint32]chan Response)
	c.msgHandlers = make(map[string]MessageHandler)
	c.reqHandlers = make(map[string]RequestHandler)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	c.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.conn.Close(ctx, "communicator disposed"); err != nil {
		c.log.Debugf("close on dispose: %v", err)
	}
	c.tasks.Wait()
}

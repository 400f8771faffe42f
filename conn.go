package dbus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// connState is the Conn lifecycle: Unconnected is only reachable before
// Connect returns (a failed Connect never hands back a Conn), so in
// practice a Conn observed by a caller is always Ready or Closed.
type connState int32

const (
	stateUnconnected connState = iota
	stateAuthenticating
	stateReady
	stateClosed
)

// errClosed marks a deliberate Close, as opposed to a transport or
// protocol failure discovered by the read loop.
var errClosed = &TransportError{Op: "close", Err: net.ErrClosed}

// replyResult is the one-shot payload delivered to a pending CallMethod:
// either the matching reply message, or the error that ended the wait
// (a closed connection, most often).
type replyResult struct {
	msg *Message
	err error
}

// Conn is a ready, authenticated connection to a message bus. A Conn
// must not be shared across goroutines for Send/CallMethod beyond what
// their own internal locking provides; Receive is safe to call
// concurrently with Send/CallMethod, since reads and writes use
// independent paths (see the single-writer/single-reader design).
type Conn struct {
	conf config
	raw  *net.UnixConn
	r    *bufio.Reader

	state atomic.Int32

	writeMu sync.Mutex

	serialMu sync.Mutex
	serial   uint32

	repliesMu sync.Mutex
	replies   map[uint32]chan replyResult

	incoming chan *Message
	closed   chan struct{}

	closeOnce  sync.Once
	closeErrMu sync.Mutex
	closeErr   error

	uniqueName string
}

// Connect dials the bus (DBUS_SYSTEM_BUS_ADDRESS, or the well-known
// system bus socket, unless overridden with WithAddress), authenticates
// with EXTERNAL, performs the Hello handshake, and returns a Conn ready
// to send and receive messages.
func Connect(opts ...Option) (*Conn, error) {
	conf := newConfig()
	for _, opt := range opts {
		opt(&conf)
	}

	addr := conf.address
	if addr == "" {
		addr = SystemBusAddress()
	}

	raw, err := dialUnix(addr)
	if err != nil {
		return nil, err
	}
	if conf.dialTimeout > 0 {
		if err := raw.SetDeadline(time.Now().Add(conf.dialTimeout)); err != nil {
			raw.Close()
			return nil, &TransportError{Op: "set dial deadline", Err: err}
		}
	}

	if err := writePreamble(raw); err != nil {
		raw.Close()
		return nil, err
	}
	if err := authExternal(raw); err != nil {
		conf.logger.WithError(err).WithField("remote", addr).Error("dbus: authentication failed")
		raw.Close()
		return nil, err
	}
	if err := raw.SetDeadline(time.Time{}); err != nil {
		raw.Close()
		return nil, &TransportError{Op: "clear dial deadline", Err: err}
	}

	c := &Conn{
		conf:     conf,
		raw:      raw,
		r:        bufio.NewReaderSize(raw, conf.connReadSize),
		closed:   make(chan struct{}),
		incoming: make(chan *Message, 16),
		replies:  make(map[uint32]chan replyResult),
	}
	c.state.Store(int32(stateReady))

	go c.readLoop()

	name, err := c.hello()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.uniqueName = name
	conf.logger.WithField("name", name).WithField("remote", addr).Debug("dbus: connection ready")

	return c, nil
}

// UniqueName is the connection name assigned by the bus daemon during
// the Hello handshake.
func (c *Conn) UniqueName() string { return c.uniqueName }

// nextSerial returns the next nonzero serial, or an InvariantError if
// the 32-bit counter would wrap.
func (c *Conn) nextSerial() (uint32, error) {
	c.serialMu.Lock()
	defer c.serialMu.Unlock()
	if c.serial == ^uint32(0) {
		return 0, &InvariantError{Reason: "serial counter overflow"}
	}
	c.serial++
	return c.serial, nil
}

// Send assigns m the next serial and writes it to the bus. It does not
// wait for a reply; use CallMethod for that.
func (c *Conn) Send(m *Message) error {
	if connState(c.state.Load()) != stateReady {
		return c.closedErr()
	}

	serial, err := c.nextSerial()
	if err != nil {
		return err
	}
	m.Serial = serial

	data, err := EncodeMessage(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	_, werr := c.raw.Write(data)
	c.writeMu.Unlock()
	if werr != nil {
		err := &TransportError{Op: "write message", Err: werr}
		c.shutdown(err)
		return err
	}
	return nil
}

// CallMethod sends a MethodCall and waits for its MethodReturn or Error
// reply, or for ctx to end. Cancelling ctx removes the pending slot; a
// reply that arrives after cancellation is dropped silently.
//
// WithReplyTracking(false) disables this for callers — it exists for
// fire-and-forget signal emitters that never need to correlate a reply —
// but the connection still tracks its own Hello reply internally, since
// that handshake is mandatory regardless of what a caller asked for.
func (c *Conn) CallMethod(ctx context.Context, m *Message) (*Message, error) {
	if !c.conf.trackReplies {
		return nil, &InvariantError{Reason: "reply tracking is disabled for this connection"}
	}
	return c.callMethod(ctx, m)
}

// callMethod is CallMethod's implementation, shared with hello, which
// must correlate its own reply even when a caller has disabled
// CallMethod via WithReplyTracking(false).
func (c *Conn) callMethod(ctx context.Context, m *Message) (*Message, error) {
	if m.Type != TypeMethodCall {
		return nil, &InvariantError{Reason: "CallMethod requires a MethodCall message"}
	}
	if connState(c.state.Load()) != stateReady {
		return nil, c.closedErr()
	}

	serial, err := c.nextSerial()
	if err != nil {
		return nil, err
	}
	m.Serial = serial

	data, err := EncodeMessage(m)
	if err != nil {
		return nil, err
	}

	ch := make(chan replyResult, 1)
	c.repliesMu.Lock()
	c.replies[serial] = ch
	c.repliesMu.Unlock()

	c.writeMu.Lock()
	_, werr := c.raw.Write(data)
	c.writeMu.Unlock()
	if werr != nil {
		c.repliesMu.Lock()
		delete(c.replies, serial)
		c.repliesMu.Unlock()
		err := &TransportError{Op: "write message", Err: werr}
		c.shutdown(err)
		return nil, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.msg.Type == TypeError {
			return res.msg, &ProtocolError{Reason: fmt.Sprintf("method call returned error %q", res.msg.Fields.ErrorName)}
		}
		return res.msg, nil
	case <-ctx.Done():
		c.repliesMu.Lock()
		delete(c.replies, serial)
		c.repliesMu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, c.closedErr()
	}
}

// Receive returns the next signal, or incoming method call if this
// connection is also acting as a service. MethodReturn and Error
// messages never arrive here: each goes to its waiting CallMethod or is
// dropped. It blocks until a message arrives or the connection closes.
func (c *Conn) Receive() (*Message, error) {
	msg, ok := <-c.incoming
	if !ok {
		return nil, c.closedErr()
	}
	return msg, nil
}

// Close shuts down the connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown(errClosed)
	return nil
}

// hello performs the bus Hello handshake and returns the assigned unique
// connection name.
func (c *Conn) hello() (string, error) {
	m, err := NewMethodCall("org.freedesktop.DBus", "/org/freedesktop/DBus", "org.freedesktop.DBus", "Hello")
	if err != nil {
		return "", err
	}
	reply, err := c.callMethod(context.Background(), m)
	if err != nil {
		return "", &AuthError{Reason: "Hello handshake", Err: err}
	}
	if len(reply.Body) != 1 {
		return "", &ProtocolError{Reason: "Hello reply has an unexpected body shape"}
	}
	name, ok := reply.Body[0].(String)
	if !ok {
		return "", &ProtocolError{Reason: "Hello reply body is not a string"}
	}
	return string(name), nil
}

// readLoop owns the read half of the connection: it decodes one message
// at a time, routes MethodReturn/Error replies to their waiting
// CallMethod (dropping a reply that has none), and forwards signals and
// method calls to Receive's channel. It
// exits, and fails every pending reply, on the first transport or
// protocol error (including a clean EOF).
func (c *Conn) readLoop() {
	for {
		msg, err := c.readMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		if msg.Type == TypeMethodReturn || msg.Type == TypeError {
			if msg.Fields.HasReplySerial {
				c.repliesMu.Lock()
				ch, ok := c.replies[msg.Fields.ReplySerial]
				if ok {
					delete(c.replies, msg.Fields.ReplySerial)
				}
				c.repliesMu.Unlock()
				if ok {
					ch <- replyResult{msg: msg}
					continue
				}
			}
			c.conf.logger.WithField("serial", msg.Serial).Debug("dbus: dropping unmatched reply")
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.closed:
			return
		}
	}
}

// readMessage performs the progressive read the wire format requires:
// the 12-byte fixed header plus the 4-byte header field array length
// prefix, then the field array bytes, then padding to an 8-byte
// boundary, then the body — decoded together so offsets stay continuous
// across the header/body boundary.
func (c *Conn) readMessage() (*Message, error) {
	const prologueSize = fixedHeaderSize + 4
	prologue := make([]byte, prologueSize)
	if _, err := io.ReadFull(c.r, prologue); err != nil {
		return nil, &TransportError{Op: "read header prologue", Err: err}
	}

	order, err := peekByteOrder(prologue)
	if err != nil {
		return nil, err
	}
	bodyLen := order.Uint32(prologue[4:8])
	fieldsLen := order.Uint32(prologue[12:16])
	if bodyLen > maxMessageSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("message body exceeds the maximum length: %d/%d bytes", bodyLen, maxMessageSize)}
	}

	fields := make([]byte, fieldsLen)
	if _, err := io.ReadFull(c.r, fields); err != nil {
		return nil, &TransportError{Op: "read header fields", Err: err}
	}

	_, padding := nextOffset(prologueSize+int(fieldsLen), 8)
	if padding > 0 {
		pad := make([]byte, padding)
		if _, err := io.ReadFull(c.r, pad); err != nil {
			return nil, &TransportError{Op: "read header padding", Err: err}
		}
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, &TransportError{Op: "read body", Err: err}
	}

	full := make([]byte, 0, prologueSize+int(fieldsLen)+padding+int(bodyLen))
	full = append(full, prologue...)
	full = append(full, fields...)
	full = full[:prologueSize+int(fieldsLen)+padding] // padding is already zero
	full = append(full, body...)

	msg, _, err := DecodeMessage(full)
	return msg, err
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErrMu.Lock()
		c.closeErr = err
		c.closeErrMu.Unlock()

		c.state.Store(int32(stateClosed))
		c.raw.Close()
		close(c.closed)

		c.repliesMu.Lock()
		for serial, ch := range c.replies {
			ch <- replyResult{err: err}
			delete(c.replies, serial)
		}
		c.repliesMu.Unlock()

		close(c.incoming)

		if err != errClosed {
			c.conf.logger.WithError(toError(err)).Warn("dbus: connection closed")
		} else {
			c.conf.logger.Debug("dbus: connection closed")
		}
	})
}

func (c *Conn) closedErr() error {
	c.closeErrMu.Lock()
	defer c.closeErrMu.Unlock()
	if c.closeErr == nil {
		return errClosed
	}
	return c.closeErr
}

// toError returns err unchanged for shutdown's log line. Each wrapping
// error type in errors.go prints its underlying cause as part of Error(),
// so the logged text already carries the cause.
func toError(err error) error { return err }

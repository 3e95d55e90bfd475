package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// ErrClientClosed is returned for requests on a closed or broken connection.
var ErrClientClosed = errors.New("rpc: client closed")

// Client multiplexes compile requests over one connection.
type Client struct {
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	enc     *cbor.Encoder

	mu      sync.Mutex
	handles map[uint64]*Handle
	closed  bool
	readErr error

	nextID    atomic.Uint64
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to a compile server.
func Dial(ctx context.Context, addr string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return NewClient(conn, logger), nil
}

// NewClient wraps an established connection and starts reading from it.
func NewClient(conn net.Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		conn:    conn,
		logger:  logger,
		enc:     newEncoder(conn),
		handles: make(map[uint64]*Handle),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Compile sends a compile request. Events are delivered on the client's
// reader goroutine, in the order the server sent them.
func (c *Client) Compile(req *CompileRequest, events Events) (*Handle, error) {
	id := c.nextID.Add(1)
	h := &Handle{id: id, client: c, events: events, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.handles[id] = h
	c.mu.Unlock()

	if err := c.send(KindCompile, id, req); err != nil {
		c.mu.Lock()
		delete(c.handles, id)
		c.mu.Unlock()
		return nil, err
	}
	return h, nil
}

// Shutdown asks the server process to exit.
func (c *Client) Shutdown() error {
	return c.send(KindShutdown, 0, nil)
}

// Close closes the connection. Pending handles fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var err error
	c.closeOnce.Do(func() {
		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	<-c.done
	return err
}

// Done is closed when the connection stops being readable.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) send(kind Kind, id uint64, body any) error {
	env, err := envelope(kind, id, body)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(env); err != nil {
		return fmt.Errorf("%w: sending %s: %v", ErrClientClosed, kind, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	dec := newDecoder(c.conn)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			c.fail(err)
			return
		}
		if err := c.dispatch(env); err != nil {
			c.logger.Warn("dropping malformed message", "kind", env.Kind, "id", env.ID, "error", err)
		}
	}
}

func (c *Client) dispatch(env Envelope) error {
	c.mu.Lock()
	h := c.handles[env.ID]
	c.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no request with id %d", env.ID)
	}

	switch env.Kind {
	case KindDiagnostic:
		var d core.Diagnostic
		if err := Unmarshal(env.Body, &d); err != nil {
			return err
		}
		h.events.Diagnostic(d)
	case KindOutput:
		var o Output
		if err := Unmarshal(env.Body, &o); err != nil {
			return err
		}
		h.events.Output(o)
	case KindFileData:
		var f core.FileData
		if err := Unmarshal(env.Body, &f); err != nil {
			return err
		}
		h.events.FileData(f)
	case KindDone:
		var d Done
		if err := Unmarshal(env.Body, &d); err != nil {
			return err
		}
		c.mu.Lock()
		delete(c.handles, env.ID)
		c.mu.Unlock()
		var err error
		if d.Error != "" {
			err = &RemoteError{Message: d.Error}
		}
		h.complete(d.OK, err)
	default:
		return fmt.Errorf("unexpected kind %q", env.Kind)
	}
	return nil
}

func (c *Client) fail(readErr error) {
	c.mu.Lock()
	c.closed = true
	if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, net.ErrClosed) {
		c.readErr = readErr
	}
	handles := c.handles
	c.handles = make(map[uint64]*Handle)
	c.mu.Unlock()

	err := ErrClientClosed
	if c.readErr != nil {
		c.logger.Debug("compile server connection broken", "error", readErr)
		err = fmt.Errorf("%w: %v", ErrClientClosed, readErr)
	}
	for _, h := range handles {
		h.complete(false, err)
	}
}

// Handle tracks one in-flight compile request.
type Handle struct {
	id     uint64
	client *Client
	events Events

	once      sync.Once
	done      chan struct{}
	ok        bool
	err       error
	cancelled atomic.Bool
}

func (h *Handle) complete(ok bool, err error) {
	h.once.Do(func() {
		h.ok = ok
		h.err = err
		close(h.done)
	})
}

// Poll waits up to timeout for the request to finish. done reports whether
// it has; ok is the compiler's verdict once done.
func (h *Handle) Poll(timeout time.Duration) (done, ok bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return true, h.ok, h.err
	case <-timer.C:
		return false, false, nil
	}
}

// Cancel asks the server to stop the request. It never blocks on the
// server and reports whether a cancellation was sent by this call.
func (h *Handle) Cancel() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	if !h.cancelled.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		if err := h.client.send(KindCancel, h.id, nil); err != nil {
			h.client.logger.Debug("cancel not delivered", "id", h.id, "error", err)
		}
	}()
	return true
}

// Cancelled reports whether Cancel has been called successfully.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Handler runs one compilation on the server side. ctx is cancelled when
// the client sends cancel or disconnects.
type Handler interface {
	Compile(ctx context.Context, req *CompileRequest, events Events) (bool, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *CompileRequest, events Events) (bool, error)

// Compile calls f.
func (f HandlerFunc) Compile(ctx context.Context, req *CompileRequest, events Events) (bool, error) {
	return f(ctx, req, events)
}

// Server answers compile requests on accepted connections.
type Server struct {
	handler Handler
	logger  *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewServer returns a server dispatching to handler.
func NewServer(handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{handler: handler, logger: logger, stop: make(chan struct{})}
}

// Serve accepts connections until ctx ends, a client sends shutdown, or
// the listener fails. It waits for open connections before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.stop:
			cancel()
		}
		ln.Close()
	}()

	s.logger.Info("compile server listening", "addr", ln.Addr().String())

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Stop makes Serve return.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

type connWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

func (w *connWriter) send(kind Kind, id uint64, body any) error {
	env, err := envelope(kind, id, body)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(env)
}

// requestEvents streams a request's events back over the connection.
type requestEvents struct {
	w      *connWriter
	id     uint64
	logger *slog.Logger
}

func (e requestEvents) emit(kind Kind, body any) {
	if err := e.w.send(kind, e.id, body); err != nil {
		e.logger.Debug("event not delivered", "kind", kind, "id", e.id, "error", err)
	}
}

func (e requestEvents) Diagnostic(d core.Diagnostic) { e.emit(KindDiagnostic, d) }
func (e requestEvents) Output(o Output)              { e.emit(KindOutput, o) }
func (e requestEvents) FileData(f core.FileData)     { e.emit(KindFileData, f) }

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	w := &connWriter{enc: newEncoder(conn)}
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	running := make(map[uint64]context.CancelFunc)

	dec := newDecoder(conn)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				s.logger.Warn("reading request failed", "error", err)
			}
			break
		}

		switch env.Kind {
		case KindCompile:
			var req CompileRequest
			if err := Unmarshal(env.Body, &req); err != nil {
				_ = w.send(KindDone, env.ID, Done{Error: fmt.Sprintf("invalid request: %v", err)})
				continue
			}
			reqCtx, reqCancel := context.WithCancel(gctx)
			mu.Lock()
			running[env.ID] = reqCancel
			mu.Unlock()

			id := env.ID
			g.Go(func() error {
				defer func() {
					mu.Lock()
					delete(running, id)
					mu.Unlock()
					reqCancel()
				}()
				s.run(reqCtx, id, &req, w)
				return nil
			})
		case KindCancel:
			mu.Lock()
			if c, ok := running[env.ID]; ok {
				c()
			}
			mu.Unlock()
		case KindShutdown:
			s.logger.Info("shutdown requested")
			s.Stop()
		default:
			s.logger.Warn("unknown request kind", "kind", env.Kind)
		}
	}

	cancel()
	_ = g.Wait()
}

func (s *Server) run(ctx context.Context, id uint64, req *CompileRequest, w *connWriter) {
	s.logger.Debug("compile started", "id", id, "sources", len(req.Sources))
	ok, err := s.handler.Compile(ctx, req, requestEvents{w: w, id: id, logger: s.logger})

	done := Done{OK: ok && err == nil, Cancelled: ctx.Err() != nil}
	if err != nil && !(done.Cancelled && errors.Is(err, context.Canceled)) {
		done.Error = err.Error()
	}
	if err := w.send(KindDone, id, done); err != nil {
		s.logger.Debug("done not delivered", "id", id, "error", err)
	}
	s.logger.Debug("compile finished", "id", id, "ok", done.OK, "cancelled", done.Cancelled)
}

package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/jbuild/internal/rpc"
)

// Defaults for ManagerConfig.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultShutdownWait   = 5 * time.Second
	connectRetryDelay     = 100 * time.Millisecond
)

// ServerState is the lifecycle of a compile server for one JDK home.
type ServerState int

const (
	StateNotLaunched ServerState = iota
	StateLaunching
	StateConnected
	StateFailed
)

func (s ServerState) String() string {
	switch s {
	case StateNotLaunched:
		return "not_launched"
	case StateLaunching:
		return "launching"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ManagerConfig configures compile server processes.
type ManagerConfig struct {
	// Executable is launched with the compile-server command. Empty means
	// the running executable.
	Executable     string
	HeapSizeMB     int
	ConnectTimeout time.Duration
	ShutdownWait   time.Duration
	// Env is appended to the inherited environment of the server.
	Env    []string
	Logger *slog.Logger
}

// ServerManager owns the compile servers of one build session, one per
// JDK home. A server that failed to start stays failed for the session.
type ServerManager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu      sync.Mutex
	servers map[string]*serverHandle
	closed  bool
}

// serverHandle is a launched server process and its connection.
type serverHandle struct {
	home   string
	state  ServerState
	cmd    *exec.Cmd
	exited chan struct{}
	client *rpc.Client
	err    error
	// ready is closed once a launch has settled state.
	ready chan struct{}
}

// NewServerManager returns a manager that has not launched anything yet.
func NewServerManager(cfg ManagerConfig) *ServerManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ShutdownWait <= 0 {
		cfg.ShutdownWait = DefaultShutdownWait
	}
	return &ServerManager{cfg: cfg, logger: cfg.Logger, servers: make(map[string]*serverHandle)}
}

// State reports the lifecycle state of the server for home.
func (m *ServerManager) State(home string) ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.servers[home]; ok {
		return s.state
	}
	return StateNotLaunched
}

// Client returns a connected client for the server running on home,
// launching it first if needed. A lost connection is replaced by a new
// server. Servers for different homes start independently; callers for a
// home that is still starting wait for that launch.
func (m *ServerManager) Client(ctx context.Context, home string) (*rpc.Client, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errManagerClosed()
	}

	var lost *serverHandle
	if s, ok := m.servers[home]; ok {
		switch s.state {
		case StateLaunching:
			ready := s.ready
			m.mu.Unlock()
			select {
			case <-ready:
				return m.Client(ctx, home)
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case StateFailed:
			m.mu.Unlock()
			return nil, s.err
		case StateConnected:
			select {
			case <-s.client.Done():
				m.logger.Warn("compile server connection lost, relaunching", "home", home)
				lost = s
			default:
				m.mu.Unlock()
				return s.client, nil
			}
		}
	}

	s := &serverHandle{home: home, state: StateLaunching, ready: make(chan struct{})}
	m.servers[home] = s
	m.mu.Unlock()

	if lost != nil {
		_ = lost.teardown(m.cfg.ShutdownWait)
	}
	err := m.launch(ctx, s)

	m.mu.Lock()
	closed := m.closed
	if err != nil {
		s.state = StateFailed
		s.err = err
	} else {
		s.state = StateConnected
	}
	close(s.ready)
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if closed {
		_ = s.teardown(m.cfg.ShutdownWait)
		return nil, errManagerClosed()
	}
	return s.client, nil
}

func errManagerClosed() error {
	return &InfraError{Op: "launch", Err: errors.New("server manager closed")}
}

func (m *ServerManager) launch(ctx context.Context, s *serverHandle) error {
	exe := m.cfg.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return &InfraError{Op: "launch", Err: err}
		}
		exe = self
	}

	port, err := FreePort()
	if err != nil {
		return &InfraError{Op: "launch", Err: err}
	}

	args := []string{"compile-server", "--port", strconv.Itoa(port), "--java-home", s.home}
	if m.cfg.HeapSizeMB > 0 {
		args = append(args, "--heap", strconv.Itoa(m.cfg.HeapSizeMB))
	}
	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), m.cfg.Env...)
	logger := m.logger.With("home", s.home, "port", port)
	out := &lineLogger{logger: logger}
	cmd.Stdout = out
	cmd.Stderr = out

	logger.Info("starting compile server", "exe", exe)
	if err := cmd.Start(); err != nil {
		return &InfraError{Op: "launch", Err: err}
	}
	s.cmd = cmd
	s.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		logger.Debug("compile server exited", "error", err)
		close(s.exited)
	}()

	client, err := m.connect(ctx, s, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		s.kill()
		return &InfraError{Op: "connect", Err: err}
	}
	s.client = client
	logger.Info("connected to compile server")
	return nil
}

func (m *ServerManager) connect(ctx context.Context, s *serverHandle, addr string) (*rpc.Client, error) {
	deadline := time.Now().Add(m.cfg.ConnectTimeout)
	var lastErr error
	for {
		client, err := rpc.Dial(ctx, addr, connectRetryDelay, m.logger)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no connection within %s: %w", m.cfg.ConnectTimeout, lastErr)
		}
		select {
		case <-s.exited:
			return nil, fmt.Errorf("compile server exited before accepting connections: %w", lastErr)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
}

// Close shuts down every server of the session. A server still starting is
// stopped by its launching caller.
func (m *ServerManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	var errs []error
	for home, s := range m.servers {
		if s.state != StateConnected {
			continue
		}
		m.logger.Debug("stopping compile server", "home", home)
		if err := s.teardown(m.cfg.ShutdownWait); err != nil {
			errs = append(errs, fmt.Errorf("compile server %s: %w", home, err))
		}
	}
	m.servers = make(map[string]*serverHandle)
	return errors.Join(errs...)
}

// teardown asks the server to exit and kills it if it does not.
func (s *serverHandle) teardown(wait time.Duration) error {
	if s.client != nil {
		_ = s.client.Shutdown()
		_ = s.client.Close()
	}
	if s.cmd == nil {
		return nil
	}
	select {
	case <-s.exited:
		return nil
	case <-time.After(wait):
		return s.kill()
	}
}

func (s *serverHandle) kill() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	err := s.cmd.Process.Kill()
	<-s.exited
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// FreePort asks the kernel for an unused loopback port.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// lineLogger logs the server's console output line by line.
type lineLogger struct {
	logger *slog.Logger
	mu     sync.Mutex
	buf    []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.log(strings.TrimRight(string(l.buf[:i]), "\r"))
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

func (l *lineLogger) log(line string) {
	if line == "" {
		return
	}
	if strings.Contains(line, "java.lang.OutOfMemoryError") {
		l.logger.Error("compile server: insufficient memory", "line", line)
		return
	}
	l.logger.Debug("compile server", "line", line)
}

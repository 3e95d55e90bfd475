package rpc_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/jbuild/internal/rpc"
	"github.com/leapstack-labs/jbuild/internal/testutil"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

type recorder struct {
	mu          sync.Mutex
	order       []rpc.Kind
	diagnostics []core.Diagnostic
	outputs     []rpc.Output
	files       []core.FileData
}

func (r *recorder) Diagnostic(d core.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, rpc.KindDiagnostic)
	r.diagnostics = append(r.diagnostics, d)
}

func (r *recorder) Output(o rpc.Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, rpc.KindOutput)
	r.outputs = append(r.outputs, o)
}

func (r *recorder) FileData(f core.FileData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, rpc.KindFileData)
	r.files = append(r.files, f)
}

type server struct {
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, h rpc.Handler) *server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := rpc.NewServer(h, testutil.NewTestLogger(t))
	s := &server{addr: ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-s.done
	})
	return s
}

func dial(t *testing.T, addr string) *rpc.Client {
	t.Helper()
	c, err := rpc.Dial(context.Background(), addr, time.Second, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitDone(t *testing.T, h *rpc.Handle) (bool, error) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		done, ok, err := h.Poll(20 * time.Millisecond)
		if done {
			return ok, err
		}
	}
	t.Fatal("request did not finish")
	return false, nil
}

func TestCompile_StreamsEventsInOrder(t *testing.T) {
	var got *rpc.CompileRequest
	s := startServer(t, rpc.HandlerFunc(func(_ context.Context, req *rpc.CompileRequest, ev rpc.Events) (bool, error) {
		got = req
		ev.Diagnostic(core.NewDiagnostic(core.SeverityWarning, "unchecked call").WithSource("/src/A.java"))
		ev.Output(rpc.Output{OutputRoot: "/out", RelativePath: "a/A.class", ClassName: "a/A", Sources: []string{"/src/A.java"}, Content: []byte{0xca, 0xfe}})
		ev.FileData(core.FileData{Path: "/src/A.java", Imports: []string{"java.util.List"}})
		return true, nil
	}))
	c := dial(t, s.addr)

	rec := &recorder{}
	h, err := c.Compile(&rpc.CompileRequest{
		Options:   []string{"-g", "-source", "17"},
		Sources:   []string{"/src/A.java"},
		OutputMap: map[string][]string{"/out": {"/src"}},
	}, rec)
	require.NoError(t, err)

	ok, err := waitDone(t, h)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{"-g", "-source", "17"}, got.Options)
	assert.Equal(t, map[string][]string{"/out": {"/src"}}, got.OutputMap)

	assert.Equal(t, []rpc.Kind{rpc.KindDiagnostic, rpc.KindOutput, rpc.KindFileData}, rec.order)
	assert.Equal(t, core.SeverityWarning, rec.diagnostics[0].Severity)
	assert.Equal(t, "/src/A.java", rec.diagnostics[0].Source)
	assert.Equal(t, core.NoPosition, rec.diagnostics[0].Line)
	assert.Equal(t, []byte{0xca, 0xfe}, rec.outputs[0].Content)
	assert.Equal(t, []string{"java.util.List"}, rec.files[0].Imports)
}

func TestCompile_PollAndCancel(t *testing.T) {
	started := make(chan struct{})
	s := startServer(t, rpc.HandlerFunc(func(ctx context.Context, _ *rpc.CompileRequest, _ rpc.Events) (bool, error) {
		close(started)
		<-ctx.Done()
		return false, ctx.Err()
	}))
	c := dial(t, s.addr)

	h, err := c.Compile(&rpc.CompileRequest{}, &recorder{})
	require.NoError(t, err)
	<-started

	done, _, err := h.Poll(10 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, done, "still running")

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel(), "second cancel is a no-op")
	assert.True(t, h.Cancelled())

	ok, err := waitDone(t, h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompile_RemoteError(t *testing.T) {
	s := startServer(t, rpc.HandlerFunc(func(context.Context, *rpc.CompileRequest, rpc.Events) (bool, error) {
		return false, errors.New("javac not found")
	}))
	c := dial(t, s.addr)

	h, err := c.Compile(&rpc.CompileRequest{}, &recorder{})
	require.NoError(t, err)
	_, err = waitDone(t, h)

	var remote *rpc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "javac not found", remote.Message)
}

func TestCompile_ConcurrentRequests(t *testing.T) {
	s := startServer(t, rpc.HandlerFunc(func(_ context.Context, req *rpc.CompileRequest, ev rpc.Events) (bool, error) {
		for _, src := range req.Sources {
			ev.FileData(core.FileData{Path: src})
		}
		return len(req.Sources) > 1, nil
	}))
	c := dial(t, s.addr)

	one, two := &recorder{}, &recorder{}
	h1, err := c.Compile(&rpc.CompileRequest{Sources: []string{"a"}}, one)
	require.NoError(t, err)
	h2, err := c.Compile(&rpc.CompileRequest{Sources: []string{"b", "c"}}, two)
	require.NoError(t, err)

	ok1, err := waitDone(t, h1)
	require.NoError(t, err)
	ok2, err := waitDone(t, h2)
	require.NoError(t, err)

	assert.False(t, ok1)
	assert.True(t, ok2)
	assert.Len(t, one.files, 1)
	assert.Len(t, two.files, 2, "events reach the request that caused them")
}

func TestConnectionLoss_FailsPendingHandles(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := startServer(t, rpc.HandlerFunc(func(ctx context.Context, _ *rpc.CompileRequest, _ rpc.Events) (bool, error) {
		close(started)
		<-ctx.Done()
		<-release
		return false, ctx.Err()
	}))
	defer close(release)
	c := dial(t, s.addr)

	h, err := c.Compile(&rpc.CompileRequest{}, &recorder{})
	require.NoError(t, err)
	<-started

	s.cancel()
	_, err = waitDone(t, h)
	require.ErrorIs(t, err, rpc.ErrClientClosed)

	<-c.Done()
	_, err = c.Compile(&rpc.CompileRequest{}, &recorder{})
	require.ErrorIs(t, err, rpc.ErrClientClosed)
}

func TestShutdown_StopsServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := rpc.NewServer(rpc.HandlerFunc(func(context.Context, *rpc.CompileRequest, rpc.Events) (bool, error) {
		return true, nil
	}), testutil.NewTestLogger(t))

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background(), ln) }()

	c := dial(t, ln.Addr().String())
	require.NoError(t, c.Shutdown())

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	s := startServer(t, rpc.HandlerFunc(func(context.Context, *rpc.CompileRequest, rpc.Events) (bool, error) {
		return true, nil
	}))
	c, err := rpc.Dial(context.Background(), s.addr, time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Compile(&rpc.CompileRequest{}, &recorder{})
	assert.ErrorIs(t, err, rpc.ErrClientClosed)
}

func TestEnvelope_DeterministicEncoding(t *testing.T) {
	req := rpc.CompileRequest{OutputMap: map[string][]string{"/b": {"x"}, "/a": {"y"}, "/c": nil}}
	first, err := rpc.Marshal(req)
	require.NoError(t, err)
	for range 10 {
		again, err := rpc.Marshal(req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	var back rpc.CompileRequest
	require.NoError(t, rpc.Unmarshal(first, &back))
	assert.Equal(t, []string{"y"}, back.OutputMap["/a"])
}

package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/leapstack-labs/jbuild/internal/javac"
	"github.com/leapstack-labs/jbuild/internal/rpc"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// DefaultPollInterval is how long one Poll of an external compilation waits.
const DefaultPollInterval = 100 * time.Millisecond

// External compiles in a compile server running on another JDK.
type External struct {
	Manager      *ServerManager
	Runtime      core.Runtime
	Release      int
	PollInterval time.Duration
}

// Compile sends the request to the session's server for the runtime and
// polls until it finishes. Cancellation is forwarded once; the remote
// compilation is never killed from here.
func (e *External) Compile(ctx context.Context, req *Request) (bool, error) {
	client, err := e.Manager.Client(ctx, e.Runtime.Home)
	if err != nil {
		return false, err
	}

	h, err := client.Compile(toRPC(req), rpcEvents{req.Events})
	if err != nil {
		return false, &InfraError{Op: "send", Err: err}
	}

	interval := e.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	cancelled := false
	for {
		done, ok, err := h.Poll(interval)
		if done {
			if err != nil {
				return false, &InfraError{Op: "compile", Err: err}
			}
			return ok, nil
		}
		if !cancelled && (ctx.Err() != nil || (req.Cancel != nil && req.Cancel())) {
			e.Manager.logger.Debug("cancelling external compilation", "home", e.Runtime.Home)
			h.Cancel()
			cancelled = true
		}
	}
}

// Version implements Compiler.
func (e *External) Version() int { return e.Release }

// Description implements Compiler.
func (e *External) Description() string {
	return fmt.Sprintf("javac %d", e.Release)
}

func toRPC(req *Request) *rpc.CompileRequest {
	return &rpc.CompileRequest{
		Options:           req.Options,
		VMOptions:         req.VMOptions,
		Sources:           req.Sources,
		Classpath:         req.Classpath,
		PlatformClasspath: req.PlatformClasspath,
		ModulePath:        req.ModulePath,
		UpgradeModulePath: req.UpgradeModulePath,
		SourcePath:        req.SourcePath,
		OutputMap:         req.OutputMap,
	}
}

// rpcEvents forwards client-side protocol events to the build.
type rpcEvents struct {
	events javac.Events
}

func (e rpcEvents) Diagnostic(d core.Diagnostic) { e.events.Diagnostic(d) }
func (e rpcEvents) FileData(f core.FileData)     { e.events.FileData(f) }

func (e rpcEvents) Output(o rpc.Output) {
	e.events.Output(javac.Output{
		OutputRoot:   o.OutputRoot,
		RelativePath: o.RelativePath,
		ClassName:    o.ClassName,
		Sources:      o.Sources,
		Content:      o.Content,
		Resource:     o.Resource,
	})
}

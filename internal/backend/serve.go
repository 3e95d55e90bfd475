package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/leapstack-labs/jbuild/internal/javac"
	"github.com/leapstack-labs/jbuild/internal/rpc"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// NewServerHandler answers compile requests with tc. A positive heapMB
// caps the compiler's heap unless the request sets one.
func NewServerHandler(tc *javac.Toolchain, heapMB int) rpc.Handler {
	return rpc.HandlerFunc(func(ctx context.Context, req *rpc.CompileRequest, events rpc.Events) (bool, error) {
		vm := req.VMOptions
		if heapMB > 0 && !hasHeapOption(vm) {
			vm = append([]string{fmt.Sprintf("-Xmx%dm", heapMB)}, vm...)
		}
		ok, err := tc.Compile(ctx, &javac.Request{
			Options:           req.Options,
			VMOptions:         vm,
			Sources:           req.Sources,
			Classpath:         req.Classpath,
			PlatformClasspath: req.PlatformClasspath,
			ModulePath:        req.ModulePath,
			UpgradeModulePath: req.UpgradeModulePath,
			SourcePath:        req.SourcePath,
			OutputMap:         req.OutputMap,
		}, javacEvents{events})
		return ok, err
	})
}

func hasHeapOption(vm []string) bool {
	for _, o := range vm {
		if strings.HasPrefix(o, "-Xmx") {
			return true
		}
	}
	return false
}

// javacEvents forwards toolchain events onto the connection.
type javacEvents struct {
	events rpc.Events
}

func (e javacEvents) Diagnostic(d core.Diagnostic) { e.events.Diagnostic(d) }
func (e javacEvents) FileData(f core.FileData)     { e.events.FileData(f) }

func (e javacEvents) Output(o javac.Output) {
	e.events.Output(rpc.Output{
		OutputRoot:   o.OutputRoot,
		RelativePath: o.RelativePath,
		ClassName:    o.ClassName,
		Sources:      o.Sources,
		Content:      o.Content,
		Resource:     o.Resource,
	})
}

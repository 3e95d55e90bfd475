package commands

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/jbuild/internal/backend"
	"github.com/leapstack-labs/jbuild/internal/cli/config"
	"github.com/leapstack-labs/jbuild/internal/javac"
	"github.com/leapstack-labs/jbuild/internal/rpc"
)

// ServerOptions holds options for the compile-server command.
type ServerOptions struct {
	Port     int
	JavaHome string
	Heap     int
}

// NewServerCommand creates the hidden compile-server command that the
// external backend launches for each foreign JDK.
func NewServerCommand() *cobra.Command {
	opts := &ServerOptions{}
	cmd := &cobra.Command{
		Use:    "compile-server",
		Short:  "Serve compile requests for one JDK",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.JavaHome == "" {
				return errors.New("--java-home is required")
			}
			if opts.Port <= 0 || opts.Port > 65535 {
				return fmt.Errorf("invalid port %d", opts.Port)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := config.GetLogger(ctx).With("java_home", opts.JavaHome)
			ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(opts.Port)))
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}

			tc := &javac.Toolchain{Home: opts.JavaHome, Logger: logger}
			return rpc.NewServer(backend.NewServerHandler(tc, opts.Heap), logger).Serve(ctx, ln)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "Loopback port to listen on")
	cmd.Flags().StringVar(&opts.JavaHome, "java-home", "", "JDK home whose javac serves the requests")
	cmd.Flags().IntVar(&opts.Heap, "heap", 0, "Compiler heap size in MB")

	return cmd
}

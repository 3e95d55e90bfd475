// Command jbuild compiles multi-module Java projects incrementally.
package main

import (
	"os"

	"github.com/leapstack-labs/jbuild/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

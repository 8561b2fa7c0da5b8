// File: cmd/hipiol/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hipiol command line: demo server and latency benchmark.

package main

import (
	"fmt"
	"os"

	"github.com/momentics/hipiol/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

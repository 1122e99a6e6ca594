// Command jobrunner runs the queue: the runner that dispatches jobs, the
// server that executes them and the admin commands around both.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

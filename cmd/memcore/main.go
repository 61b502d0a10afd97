// memcore is the command-line front end for the memory substrate:
// ingest and inspect atoms, seal and replay snapshots, query the
// semantic index, and manage witnesses.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

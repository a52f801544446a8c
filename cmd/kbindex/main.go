// Package main is the kbindex CLI entry point.
//
// Usage:
//
//	kbindex [flags] <command> [args]
//
// Commands:
//
//	serve    - run the HTTP API and inbox watcher
//	add      - add texts to the index
//	search   - query the index
//	ingest   - add files or directories to the index
//	status   - show index status
//	version  - print the version
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

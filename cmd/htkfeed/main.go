// Package main is the entry point for the htkfeed corpus tool.
//
// Usage:
//
//	htkfeed [flags] <command> [args]
//
// Commands:
//
//	inspect   - Print feature archive headers
//	extract   - Extract FBANK features from raw PCM into an archive
//	index     - Warm the archive index cache for a script file
//	dump      - Drive the mini-batch source and report epoch statistics
package main

import (
	"fmt"
	"os"

	"github.com/samjabrahams/CNTK/cmd/htkfeed/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

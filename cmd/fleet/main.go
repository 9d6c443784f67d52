// Command fleet is the operator-facing entry point for the agentic
// quality-engineering fleet: schema migrations against the memory and
// pattern stores' shared sqlite file. Running agents are wired in
// process via agent.NewShell and agent.OpenProductionBackends; this
// binary only covers the one-off ops task of standing up or inspecting
// that schema.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		runMigrate(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Println("fleet (dev build)")
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`fleet: agentic quality-engineering fleet ops CLI

Usage:
  fleet migrate <subcommand> [options]
  fleet version
  fleet help

Run "fleet migrate help" for migration subcommands.`)
}

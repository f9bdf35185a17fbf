package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitPathError    = 3
	ExitInterrupted  = 4
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		return runFetch(cmdArgs)
	case "serve":
		return runServe(cmdArgs)
	case "version":
		fmt.Println("matilda", version)
		return ExitSuccess
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: matilda <command> [options]

Commands:
  fetch     Download every map tile inside a bounding box and zoom range
  serve     Serve downloaded tiles and run history over HTTP
  version   Print the version

Run 'matilda <command> -h' for command-specific help.`)
}

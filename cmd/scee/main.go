package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

const usage = `Usage: %s <command> [options]

Commands:
  serve        Run the chat server
  auth-worker  Run the credential worker (started by serve)
  client       Connect to a chat server from the terminal

Run '%s <command> -help' for the options of a command.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0], os.Args[0])
		return errors.New("no command given")
	}

	var err error
	switch args[0] {
	case "serve":
		err = runServe(args[1:])
	case "auth-worker":
		err = runAuthWorker(args[1:])
	case "client":
		err = runClient(args[1:])
	case "-h", "-help", "--help", "help":
		fmt.Fprintf(os.Stdout, usage, os.Args[0], os.Args[0])
		return nil
	default:
		fmt.Fprintf(os.Stderr, usage, os.Args[0], os.Args[0])
		return fmt.Errorf("unknown command %q", args[0])
	}

	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

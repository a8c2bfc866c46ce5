// Command permafind drives a headless browser through a build gallery to
// find out whether a project has its own permalink.
//
// Usage:
//
//	permafind [run] [flags]   probe once and print the report
//	permafind serve [flags]   start the HTTP API
//	permafind history [flags] list stored runs
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/raysh454/permafind/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Main(ctx, os.Args[1:], cli.Env{Stdout: os.Stdout, Stderr: os.Stderr})
	stop()
	os.Exit(code)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/pendant-go/cmd"
	"github.com/tphakala/pendant-go/cmd/cli"
	"github.com/tphakala/pendant-go/internal/buildinfo"
)

// Set by linker flags at build time.
var (
	version   string
	buildDate string
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := cli.New(buildinfo.NewContext(version, buildDate))
	defer func() { _ = rt.Close() }()

	if err := cmd.RootCommand(rt).ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/coughdetect/cmd"
	"github.com/tphakala/coughdetect/internal/buildinfo"
	"github.com/tphakala/coughdetect/internal/conf"
)

// buildDate and version are set at build time with -ldflags "-X main.version=..."
var (
	buildDate string
	version   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	settings := &conf.Settings{}
	build := &buildinfo.Context{Version: version, BuildDate: buildDate}

	err := cmd.RootCommand(settings, build).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

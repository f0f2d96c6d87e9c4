// Package main inspects eventsaga streams, traces and segments.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	platformcmd "github.com/louisbranch/eventsaga/internal/platform/cmd"
	"github.com/louisbranch/eventsaga/internal/platform/config"
	"github.com/louisbranch/eventsaga/internal/tools/sagactl"
)

func main() {
	cfg, err := sagactl.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	config.ExitOnError(platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceSagactl, func(ctx context.Context) error {
		return sagactl.Run(ctx, cfg, os.Stdout, os.Stderr)
	}))
}

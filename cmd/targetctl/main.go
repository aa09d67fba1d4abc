// Package main is the entry point for targetctl.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/onnwee/genetarget/internal/cli"
	"github.com/onnwee/genetarget/internal/errkind"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "targetctl: %v\n", err)
		if errkind.Is(err, errkind.ConfigError) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

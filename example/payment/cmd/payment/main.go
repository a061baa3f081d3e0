// Command payment aggregates daily payment statistics with the seekbatch engine.
package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"

	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/seekbatch/example/payment/internal/cli"
)

// embeddedConfig is used when --config is not given.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Stopping after the current chunk...", sig)
		cancel()
	}()

	if err := cli.Execute(ctx, config.EmbeddedConfig(embeddedConfig), version, os.Args[1:]); err != nil {
		logger.Errorf("payment: %v", err)
		cancel()
		os.Exit(1)
	}
}

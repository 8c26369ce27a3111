package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-chunkupload/cli"
	"github.com/bitrise-io/go-chunkupload/secretkeys"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envRepository := env.NewRepository()
	logger := log.NewLogger()

	cmd := cli.NewRootCommand(envRepository, logger)
	if err := cmd.ExecuteContext(ctx); err != nil {
		redactor := secretkeys.NewRedactor(envRepository, secretkeys.NewManager().Load(envRepository))
		logger.Errorf("%s", redactor.Redact(err.Error()))
		stop()
		os.Exit(1)
	}
}

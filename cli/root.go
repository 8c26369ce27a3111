// Package cli implements the gallery-upload command line.
package cli

import (
	"fmt"

	"github.com/bitrise-io/go-chunkupload/config"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
)

// globalFlags override the matching environment configuration when set.
type globalFlags struct {
	state       string
	sink        string
	verbose     bool
	metricsAddr string
}

type app struct {
	env    env.Repository
	logger log.Logger
	flags  globalFlags
	cfg    config.Config
}

// NewRootCommand builds the command tree. Configuration is read from repository
// before any subcommand runs.
func NewRootCommand(repository env.Repository, logger log.Logger) *cobra.Command {
	a := &app{env: repository, logger: logger}

	cmd := &cobra.Command{
		Use:   "gallery-upload",
		Short: "Chunked, resumable media uploads",
		Long: "Uploads media files chunk by chunk to an in-memory, Realtime Database or S3 sink.\n" +
			"Unfinished uploads are remembered and can be resumed with `gallery-upload resume`.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.flags.state, "state", "", "Path of the pending upload state (overrides GALLERY_UPLOAD_STATE_PATH)")
	flags.StringVar(&a.flags.sink, "sink", "", "Upload sink: memory, rtdb or s3 (overrides GALLERY_UPLOAD_SINK)")
	flags.BoolVarP(&a.flags.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while uploading, e.g. :9090")

	cmd.AddCommand(newScanCmd(a))
	cmd.AddCommand(newUploadCmd(a))
	cmd.AddCommand(newPendingCmd(a))
	cmd.AddCommand(newResumeCmd(a))
	return cmd
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(a.env)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("state") {
		cfg.StatePath = a.flags.state
	}
	if flags.Changed("sink") {
		cfg.Sink = a.flags.sink
	}
	if flags.Changed("verbose") {
		cfg.Verbose = a.flags.verbose
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = a.flags.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.logger.EnableDebugLog(cfg.Verbose)
	a.logger.Debugf("Sink: %s, state: %s (%s), chunk size: %d, retries: %d",
		cfg.Sink, cfg.StatePath, cfg.StateBackend, cfg.ChunkSize, cfg.MaxRetries)
	a.cfg = cfg
	return nil
}

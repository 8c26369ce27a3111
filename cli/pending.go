package cli

import (
	"fmt"
	"strings"

	"github.com/bitrise-io/go-chunkupload/pending"
	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/spf13/cobra"
)

func newPendingCmd(a *app) *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Print the uploads that haven't finished yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			backend, closeBackend, err := a.openPrefs(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := closeBackend(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()
			store := pending.NewStore(backend, a.logger)

			if clearAll {
				if err := store.Save(cmd.Context(), upload.IntentSet{}); err != nil {
					return fmt.Errorf("clear pending uploads: %w", err)
				}
				a.logger.Donef("Cleared pending uploads")
				return nil
			}

			intents, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(intents) == 0 {
				fmt.Fprintln(out, "No pending uploads")
				return nil
			}
			for _, item := range intents.Handles() {
				metadata := intents[item]
				fmt.Fprintf(out, "%s\tcaption=%q\ttags=[%s]\n", item, metadata.Caption, strings.Join(metadata.Tags, ","))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearAll, "clear", false, "Forget every pending upload")
	return cmd
}

func newResumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Upload the items left pending by an earlier run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.startEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if len(e.coordinator.ResumePrompt()) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending uploads")
				return nil
			}
			return a.watch(cmd.Context(), e, e.coordinator.ResumeSavedUploads())
		},
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-chunkupload/media"
	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-chunkupload/upload/source"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type uploadFlags struct {
	caption string
	tags    []string
	all     bool
}

func newUploadCmd(a *app) *cobra.Command {
	var flags uploadFlags

	cmd := &cobra.Command{
		Use:   "upload [paths or URLs...]",
		Short: "Upload files with a caption and tags",
		Long: "Selects the given files (or every media file under GALLERY_UPLOAD_MEDIA_ROOT with --all),\n" +
			"uploads them and exits with an error if any of them failed. Failed uploads stay pending.",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := a.resolveItems(cmd.Context(), args, flags.all)
			if err != nil {
				return err
			}
			return a.runUpload(cmd.Context(), items, upload.Metadata{Caption: flags.caption, Tags: flags.tags})
		},
	}

	cmd.Flags().StringVar(&flags.caption, "caption", "", "Caption attached to every uploaded item")
	cmd.Flags().StringArrayVar(&flags.tags, "tag", nil, "Tag attached to every uploaded item (repeatable)")
	cmd.Flags().BoolVar(&flags.all, "all", false, "Upload every media file found under the media root")
	return cmd
}

func (a *app) resolveItems(ctx context.Context, args []string, all bool) ([]upload.Handle, error) {
	var items []upload.Handle
	for _, arg := range args {
		item, err := toHandle(arg)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if all {
		index, err := media.NewDirIndex(a.cfg.MediaRoot, a.logger)
		if err != nil {
			return nil, err
		}
		found, err := index.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", index.Root(), err)
		}
		for _, item := range found {
			items = append(items, item.URI)
		}
	}

	if len(items) == 0 {
		return nil, errors.New("nothing to upload: pass paths or URLs, or use --all")
	}
	return items, nil
}

func toHandle(arg string) (upload.Handle, error) {
	if strings.Contains(arg, "://") {
		return upload.Handle(arg), nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", arg, err)
	}
	return source.FileHandle(abs), nil
}

func (a *app) runUpload(ctx context.Context, items []upload.Handle, metadata upload.Metadata) error {
	e, err := a.startEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	// Earlier unfinished uploads stay selected, so they remain pending next to the new ones.
	if saved := e.coordinator.ResumePrompt(); len(saved) > 0 {
		a.logger.Printf("%d earlier upload(s) stay pending, run `gallery-upload resume` to continue them", len(saved))
		for _, item := range saved.Handles() {
			e.selection.SetMetadata(item, saved[item])
		}
		e.selection.Select(saved.Handles()...)
		e.coordinator.DismissResume()
	}

	for _, item := range items {
		e.selection.SetMetadata(item, metadata)
	}
	e.selection.Select(items...)

	started := e.coordinator.RequestUpload(items, e.selection.MetadataFor)
	return a.watch(ctx, e, started)
}

// watch waits for the started uploads while serving metrics, and fails if any of them didn't succeed.
func (a *app) watch(ctx context.Context, e *engine, items []upload.Handle) error {
	if len(items) == 0 {
		a.logger.Warnf("Nothing to upload")
		return nil
	}
	a.logger.Infof("Uploading %d item(s)", len(items))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, a.cfg.MetricsAddr, e.registry, a.logger)
		})
	}
	g.Go(func() error {
		defer cancel()
		return e.await(ctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	return e.report(items)
}

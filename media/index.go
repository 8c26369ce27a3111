// Package media lists the items available for upload.
package media

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-chunkupload/upload/source"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPatterns match common photo and video files anywhere below the root.
var DefaultPatterns = []string{
	"**/*.{jpg,jpeg,png,gif,heic,heif,webp,dng}",
	"**/*.{JPG,JPEG,PNG,GIF,HEIC,HEIF,WEBP,DNG}",
	"**/*.{mp4,mov,m4v,MP4,MOV,M4V}",
}

// Item is one piece of uploadable content.
type Item struct {
	ID          int64
	URI         upload.Handle
	DisplayName string
	DateAdded   time.Time
	SizeBytes   int64
}

// DirIndex lists files below a root directory.
type DirIndex struct {
	root     string
	patterns []string
	logger   log.Logger
}

// NewDirIndex uses DefaultPatterns when no pattern is given.
func NewDirIndex(root string, logger log.Logger, patterns ...string) (*DirIndex, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("media root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("media root %s is not a directory", absRoot)
	}

	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern: %s", pattern)
		}
	}

	return &DirIndex{root: absRoot, patterns: patterns, logger: logger}, nil
}

// Root ...
func (d *DirIndex) Root() string {
	return d.root
}

// List returns the matching files, newest first. Entries that can't be read are skipped.
func (d *DirIndex) List(ctx context.Context) ([]Item, error) {
	fsys := os.DirFS(d.root)
	seen := map[string]bool{}
	var items []Item

	for _, pattern := range d.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}

		for _, rel := range matches {
			if seen[rel] {
				continue
			}
			seen[rel] = true

			abs := filepath.Join(d.root, filepath.FromSlash(rel))
			info, err := os.Stat(abs)
			if err != nil {
				d.logger.Warnf("Skipping %s: %s", abs, err)
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}

			items = append(items, Item{
				ID:          itemID(rel),
				URI:         source.FileHandle(abs),
				DisplayName: info.Name(),
				DateAdded:   info.ModTime(),
				SizeBytes:   info.Size(),
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].DateAdded.Equal(items[j].DateAdded) {
			return items[i].DateAdded.After(items[j].DateAdded)
		}
		return items[i].URI < items[j].URI
	})
	d.logger.Debugf("Found %d media item(s) in %s", len(items), d.root)
	return items, nil
}

func itemID(rel string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rel))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

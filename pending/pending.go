// Package pending persists the set of upload intents that are not yet confirmed complete,
// so they can be offered for resumption after a restart.
//
// The set is stored as one string value under the key "pending", a JSON array:
//
//	[{"uri": "file:///a.jpg", "caption": "trip", "tags": ["beach"]}]
package pending

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bitrise-io/go-chunkupload/prefs"
	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Key is the preferences key the intent set is stored under.
const Key = "pending"

var errMissingURI = errors.New("entry without uri")

type entry struct {
	URI     *string  `json:"uri"`
	Caption string   `json:"caption"`
	Tags    []string `json:"tags"`
}

// Store loads and saves an IntentSet through a preferences backend.
type Store struct {
	prefs  prefs.Store
	logger log.Logger
}

// NewStore ...
func NewStore(backend prefs.Store, logger log.Logger) *Store {
	return &Store{prefs: backend, logger: logger}
}

// Load returns the persisted set. A missing or corrupt value yields an empty set;
// only backend failures are returned as errors.
func (s *Store) Load(ctx context.Context) (upload.IntentSet, error) {
	raw, ok, err := s.prefs.GetString(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("load pending uploads: %w", err)
	}
	if !ok {
		return upload.IntentSet{}, nil
	}

	set, err := Decode(raw)
	if err != nil {
		s.logger.Warnf("Discarding corrupt pending uploads: %s", err)
		return upload.IntentSet{}, nil
	}
	return set, nil
}

// Save replaces the persisted set with set.
func (s *Store) Save(ctx context.Context, set upload.IntentSet) error {
	raw, err := Encode(set)
	if err != nil {
		return err
	}
	if err := s.prefs.PutString(ctx, Key, raw); err != nil {
		return fmt.Errorf("save pending uploads: %w", err)
	}
	s.logger.Debugf("Saved %d pending upload(s)", len(set))
	return nil
}

// Encode writes set as a JSON array ordered by uri.
func Encode(set upload.IntentSet) (string, error) {
	entries := make([]entry, 0, len(set))
	for _, item := range set.Handles() {
		metadata := set[item]
		uri := item.String()
		tags := metadata.Tags
		if tags == nil {
			tags = []string{}
		}
		entries = append(entries, entry{URI: &uri, Caption: metadata.Caption, Tags: tags})
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(entries); err != nil {
		return "", fmt.Errorf("encode pending uploads: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Decode parses a JSON array written by Encode. Missing captions decode as "",
// missing or null tags as an empty list. Duplicate uris keep the last entry.
func Decode(raw string) (upload.IntentSet, error) {
	var entries []entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode pending uploads: %w", err)
	}

	set := make(upload.IntentSet, len(entries))
	for i, e := range entries {
		if e.URI == nil {
			return nil, fmt.Errorf("decode pending uploads: entry %d: %w", i, errMissingURI)
		}
		tags := e.Tags
		if tags == nil {
			tags = []string{}
		}
		set[upload.Handle(*e.URI)] = upload.Metadata{Caption: e.Caption, Tags: tags}
	}
	return set, nil
}

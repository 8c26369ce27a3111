// Package selection holds which items are selected for upload and the metadata
// attached to them.
package selection

import (
	"sort"

	"github.com/bitrise-io/go-chunkupload/observable"
	"github.com/bitrise-io/go-chunkupload/upload"
)

// Mode ...
type Mode int

const (
	// Single mode keeps at most one item selected.
	Single Mode = iota
	// Multi mode toggles items independently.
	Multi
)

func (m Mode) String() string {
	if m == Multi {
		return "multi"
	}
	return "single"
}

// State is an immutable snapshot of the selection.
type State struct {
	mode     Mode
	selected map[upload.Handle]struct{}
	metadata map[upload.Handle]upload.Metadata
}

// Mode ...
func (s State) Mode() Mode {
	return s.mode
}

// Selected returns the selected items in sorted order.
func (s State) Selected() []upload.Handle {
	items := make([]upload.Handle, 0, len(s.selected))
	for item := range s.selected {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// IsSelected ...
func (s State) IsSelected(item upload.Handle) bool {
	_, ok := s.selected[item]
	return ok
}

// Metadata returns the metadata attached to item, if any.
func (s State) Metadata(item upload.Handle) (upload.Metadata, bool) {
	m, ok := s.metadata[item]
	if !ok {
		return upload.Metadata{}, false
	}
	return m.Clone(), true
}

// MetadataFor returns the metadata of item, or the default value.
func (s State) MetadataFor(item upload.Handle) upload.Metadata {
	m, _ := s.Metadata(item)
	return m
}

// Intents pairs every selected item with its metadata.
func (s State) Intents() upload.IntentSet {
	intents := make(upload.IntentSet, len(s.selected))
	for item := range s.selected {
		intents[item] = s.MetadataFor(item)
	}
	return intents
}

func (s State) withSelected(selected map[upload.Handle]struct{}) State {
	s.selected = selected
	return s
}

func (s State) copySelected() map[upload.Handle]struct{} {
	selected := make(map[upload.Handle]struct{}, len(s.selected)+1)
	for item := range s.selected {
		selected[item] = struct{}{}
	}
	return selected
}

// Selection is safe for concurrent use. Every change publishes a new State.
type Selection struct {
	state *observable.Value[State]
}

// New creates an empty selection in Single mode.
func New() *Selection {
	return &Selection{
		state: observable.New(State{
			mode:     Single,
			selected: map[upload.Handle]struct{}{},
			metadata: map[upload.Handle]upload.Metadata{},
		}),
	}
}

// State returns the current snapshot.
func (s *Selection) State() State {
	return s.state.Load()
}

// Subscribe delivers the current snapshot and every later one (conflated).
func (s *Selection) Subscribe() (<-chan State, func()) {
	return s.state.Subscribe()
}

// Mode ...
func (s *Selection) Mode() Mode {
	return s.State().Mode()
}

// SetMode ...
func (s *Selection) SetMode(mode Mode) {
	s.state.Update(func(st State) State {
		st.mode = mode
		return st
	})
}

// ToggleMode switches between Single and Multi mode.
func (s *Selection) ToggleMode() Mode {
	return s.state.Update(func(st State) State {
		if st.mode == Single {
			st.mode = Multi
		} else {
			st.mode = Single
		}
		return st
	}).mode
}

// Toggle flips the selection of item according to the current mode. In Single mode
// selecting an item replaces the selection, toggling the selected item clears it.
func (s *Selection) Toggle(item upload.Handle) {
	s.state.Update(func(st State) State {
		_, wasSelected := st.selected[item]
		if st.mode == Single {
			if wasSelected {
				return st.withSelected(map[upload.Handle]struct{}{})
			}
			return st.withSelected(map[upload.Handle]struct{}{item: {}})
		}

		selected := st.copySelected()
		if wasSelected {
			delete(selected, item)
		} else {
			selected[item] = struct{}{}
		}
		return st.withSelected(selected)
	})
}

// Select adds items to the selection regardless of the mode.
func (s *Selection) Select(items ...upload.Handle) {
	s.state.Update(func(st State) State {
		selected := st.copySelected()
		for _, item := range items {
			selected[item] = struct{}{}
		}
		return st.withSelected(selected)
	})
}

// Deselect removes items from the selection.
func (s *Selection) Deselect(items ...upload.Handle) {
	s.state.Update(func(st State) State {
		selected := st.copySelected()
		for _, item := range items {
			delete(selected, item)
		}
		return st.withSelected(selected)
	})
}

// SelectAll replaces the selection with items.
func (s *Selection) SelectAll(items []upload.Handle) {
	s.state.Update(func(st State) State {
		selected := make(map[upload.Handle]struct{}, len(items))
		for _, item := range items {
			selected[item] = struct{}{}
		}
		return st.withSelected(selected)
	})
}

// Clear deselects everything. Metadata is kept.
func (s *Selection) Clear() {
	s.state.Update(func(st State) State {
		return st.withSelected(map[upload.Handle]struct{}{})
	})
}

// SetMetadata replaces the metadata of item as a whole.
func (s *Selection) SetMetadata(item upload.Handle, metadata upload.Metadata) {
	s.state.Update(func(st State) State {
		next := make(map[upload.Handle]upload.Metadata, len(st.metadata)+1)
		for k, v := range st.metadata {
			next[k] = v
		}
		next[item] = metadata.Clone()
		st.metadata = next
		return st
	})
}

// Metadata ...
func (s *Selection) Metadata(item upload.Handle) (upload.Metadata, bool) {
	return s.State().Metadata(item)
}

// MetadataFor ...
func (s *Selection) MetadataFor(item upload.Handle) upload.Metadata {
	return s.State().MetadataFor(item)
}

// Selected ...
func (s *Selection) Selected() []upload.Handle {
	return s.State().Selected()
}

// IsSelected ...
func (s *Selection) IsSelected(item upload.Handle) bool {
	return s.State().IsSelected(item)
}

// Intents ...
func (s *Selection) Intents() upload.IntentSet {
	return s.State().Intents()
}

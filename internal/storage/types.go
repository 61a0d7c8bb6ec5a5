package storage

import (
	"errors"
	"maps"
	"slices"
	"time"
)

var (
	// ErrCorrupt means the persisted state exists but cannot be decoded.
	// It is never silently replaced by an empty state.
	ErrCorrupt = errors.New("state is corrupt")
	ErrClosed  = errors.New("store closed")
)

// Config configures storage.
//
// Driver values: "file" (default), "sqlite", "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TrackedItem is the source page of a tracked series. The normalized name is
// the map key in State.Tracked.
type TrackedItem struct {
	URL string `json:"url"`
}

// ObservedValue is the last chapter seen for an item. ChapterLabel is an
// opaque token ("1171", "85.5"); only equality matters.
type ObservedValue struct {
	Date         string `json:"date"`
	ChapterLabel string `json:"chapter_label"`
	URL          string `json:"url"`
}

type State struct {
	Tracked  map[string]TrackedItem   `json:"tracked_items"`
	Observed map[string]ObservedValue `json:"observed"`
}

func NewState() State {
	return State{Tracked: map[string]TrackedItem{}, Observed: map[string]ObservedValue{}}
}

func (s *State) ensure() {
	if s.Tracked == nil {
		s.Tracked = map[string]TrackedItem{}
	}
	if s.Observed == nil {
		s.Observed = map[string]ObservedValue{}
	}
}

// Clone returns a deep copy; both maps hold plain values.
func (s State) Clone() State {
	out := State{Tracked: maps.Clone(s.Tracked), Observed: maps.Clone(s.Observed)}
	out.ensure()
	return out
}

// Names returns the tracked names in ascending order.
func (s State) Names() []string {
	return slices.Sorted(maps.Keys(s.Tracked))
}

func (s State) Equal(o State) bool {
	return maps.Equal(s.Tracked, o.Tracked) && maps.Equal(s.Observed, o.Observed)
}

// Observation returns the stored value for name, or nil.
func (s State) Observation(name string) *ObservedValue {
	v, ok := s.Observed[name]
	if !ok {
		return nil
	}
	return &v
}

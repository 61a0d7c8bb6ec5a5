package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// legacyLatestPrefix namespaces observed values in the flat layout written by
// earlier deployments: {"tracked": {name: url}, "latest:<name>": {...}}.
const legacyLatestPrefix = "latest:"

type legacyLatest struct {
	Date    string `json:"date"`
	Chapter string `json:"ch"`
	URL     string `json:"url"`
}

// encodeState renders st as indented JSON with sorted keys and a trailing
// newline, so equal states always produce identical bytes.
func encodeState(st State) ([]byte, error) {
	st.ensure()
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// decodeState accepts both the structured layout and the legacy flat one.
func decodeState(b []byte) (State, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return State{}, fmt.Errorf("%w: empty document", ErrCorrupt)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(top) == 0 {
		return NewState(), nil
	}

	_, hasTracked := top["tracked_items"]
	_, hasObserved := top["observed"]
	if hasTracked || hasObserved {
		var st State
		if err := json.Unmarshal(b, &st); err != nil {
			return State{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		st.ensure()
		return st, nil
	}

	if _, ok := top["tracked"]; ok {
		return decodeLegacy(top)
	}
	return State{}, fmt.Errorf("%w: unrecognized layout", ErrCorrupt)
}

func decodeLegacy(top map[string]json.RawMessage) (State, error) {
	st := NewState()

	var tracked map[string]string
	if err := json.Unmarshal(top["tracked"], &tracked); err != nil {
		return State{}, fmt.Errorf("%w: tracked: %v", ErrCorrupt, err)
	}
	for name, url := range tracked {
		st.Tracked[name] = TrackedItem{URL: url}
	}

	for key, raw := range top {
		name, ok := strings.CutPrefix(key, legacyLatestPrefix)
		if !ok || name == "" {
			continue
		}
		var v legacyLatest
		if err := json.Unmarshal(raw, &v); err != nil {
			return State{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
		}
		st.Observed[name] = ObservedValue{Date: v.Date, ChapterLabel: v.Chapter, URL: v.URL}
	}
	return st, nil
}

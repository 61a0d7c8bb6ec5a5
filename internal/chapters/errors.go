package chapters

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTracked is returned by Untrack for an unknown name. It is not fatal.
	ErrNotTracked = errors.New("item is not tracked")
	// ErrNoChapter means the page was fetched but carried no chapter marker.
	ErrNoChapter = errors.New("no chapter marker found")
	// ErrDestinationUnresolved aborts a poll cycle before any item is checked.
	ErrDestinationUnresolved = errors.New("notification destination unresolved")

	errNoLongerTracked = errors.New("item no longer tracked")
)

// ValidationError rejects administrative input before any I/O happens.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

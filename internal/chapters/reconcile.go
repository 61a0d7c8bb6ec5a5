package chapters

import "chapterbot/internal/storage"

type Outcome int

const (
	OutcomeInitialize Outcome = iota + 1
	OutcomeUnchanged
	OutcomeChanged
	OutcomeParseFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInitialize:
		return "initialize"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeChanged:
		return "changed"
	case OutcomeParseFailed:
		return "parse_failed"
	default:
		return "unknown"
	}
}

// Decision is the result of comparing a fresh marker with the stored one.
// Value is the observation to keep; nil only for OutcomeParseFailed.
type Decision struct {
	Outcome  Outcome
	Value    *storage.ObservedValue
	Previous *storage.ObservedValue
}

// Reconcile decides whether fresh is news. It is pure: callers persist and notify.
//
// Date and label are compared together by exact string equality. A change in
// either one is a new chapter, and the new value replaces the old one wholesale.
func Reconcile(stored *storage.ObservedValue, fresh *Chapter, url string) Decision {
	if fresh == nil {
		return Decision{Outcome: OutcomeParseFailed, Previous: stored}
	}
	next := &storage.ObservedValue{Date: fresh.Date, ChapterLabel: fresh.Label, URL: url}
	switch {
	case stored == nil:
		return Decision{Outcome: OutcomeInitialize, Value: next}
	case stored.Date == fresh.Date && stored.ChapterLabel == fresh.Label:
		return Decision{Outcome: OutcomeUnchanged, Value: stored, Previous: stored}
	default:
		return Decision{Outcome: OutcomeChanged, Value: next, Previous: stored}
	}
}

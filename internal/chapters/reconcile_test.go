package chapters

import (
	"testing"

	"chapterbot/internal/storage"
)

func TestReconcile(t *testing.T) {
	t.Parallel()

	const url = "https://www.viz.com/shonenjump/chapters/one-piece"
	stored := &storage.ObservedValue{Date: "January 18, 2026", ChapterLabel: "1171", URL: url}

	cases := []struct {
		name   string
		stored *storage.ObservedValue
		fresh  *Chapter
		want   Outcome
		value  *storage.ObservedValue
	}{
		{"parse failed", stored, nil, OutcomeParseFailed, nil},
		{"parse failed without baseline", nil, nil, OutcomeParseFailed, nil},
		{"initialize", nil, &Chapter{Date: "January 18, 2026", Label: "1171"}, OutcomeInitialize, stored},
		{"unchanged", stored, &Chapter{Date: "January 18, 2026", Label: "1171"}, OutcomeUnchanged, stored},
		{
			"label changed", stored, &Chapter{Date: "January 25, 2026", Label: "1172"}, OutcomeChanged,
			&storage.ObservedValue{Date: "January 25, 2026", ChapterLabel: "1172", URL: url},
		},
		{
			"date changed only", stored, &Chapter{Date: "January 19, 2026", Label: "1171"}, OutcomeChanged,
			&storage.ObservedValue{Date: "January 19, 2026", ChapterLabel: "1171", URL: url},
		},
		{
			"label changed only", stored, &Chapter{Date: "January 18, 2026", Label: "1171.5"}, OutcomeChanged,
			&storage.ObservedValue{Date: "January 18, 2026", ChapterLabel: "1171.5", URL: url},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Reconcile(tc.stored, tc.fresh, url)
			if got.Outcome != tc.want {
				t.Fatalf("Outcome = %v, want %v", got.Outcome, tc.want)
			}
			switch {
			case tc.value == nil && got.Value != nil:
				t.Fatalf("Value = %+v, want nil", got.Value)
			case tc.value != nil && (got.Value == nil || *got.Value != *tc.value):
				t.Fatalf("Value = %+v, want %+v", got.Value, tc.value)
			}
		})
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	if OutcomeChanged.String() != "changed" || Outcome(0).String() != "unknown" {
		t.Fatal("unexpected Outcome strings")
	}
}

package chapters

import "testing"

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"One Piece":         "one_piece",
		"  Jujutsu Kaisen ": "jujutsu_kaisen",
		"one_piece":         "one_piece",
		"SAKAMOTO DAYS":     "sakamoto_days",
		"   ":               "",
		"One  Piece":        "one_piece",
		"One\tPiece":        "one_piece",
		"one\n piece\u00a0":  "one_piece",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	if got := DisplayName("one_piece"); got != "One Piece" {
		t.Fatalf("DisplayName() = %q", got)
	}
	if got := DisplayName("my_hero_academia"); got != "My Hero Academia" {
		t.Fatalf("DisplayName() = %q", got)
	}
}

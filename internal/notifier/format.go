package notifier

import (
	"fmt"
	"strings"

	"chapterbot/internal/chapters"
)

// FormatChange renders the plain-text announcement for a change.
func FormatChange(ch chapters.Change) string {
	var b strings.Builder
	b.WriteString("New chapter detected!\n")
	fmt.Fprintf(&b, "Series: %s\n", chapters.DisplayName(ch.Name))
	fmt.Fprintf(&b, "New: Ch. %s (%s)\n", ch.Chapter.ChapterLabel, ch.Chapter.Date)
	if ch.Previous.ChapterLabel != "" {
		fmt.Fprintf(&b, "Previous: Ch. %s (%s)\n", ch.Previous.ChapterLabel, ch.Previous.Date)
	}
	b.WriteString(ch.Chapter.URL)
	return b.String()
}

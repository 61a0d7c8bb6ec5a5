package chapters

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultPattern matches a full-month release date followed by a chapter
// marker, e.g. "January 18, 2026 Ch. 1171" or "March 3, 2025\nCh. 85.5".
const DefaultPattern = `((?:January|February|March|April|May|June|July|August|September|October|November|December) \d{1,2}, \d{4})\s*Ch\.\s*(\d+(?:\.\d+)?)`

// Chapter is a release marker found on a page.
type Chapter struct {
	Date  string
	Label string
}

// Extractor finds the latest chapter marker in page content.
// A missing marker is reported as ok=false, never as an error.
type Extractor interface {
	Extract(content string) (Chapter, bool)
}

// TextExtractor renders HTML to text and returns the first pattern match in
// document order. The pattern needs two capture groups: date, then label.
type TextExtractor struct {
	re *regexp.Regexp
}

func NewTextExtractor(pattern string) (*TextExtractor, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("extractor pattern: %w", err)
	}
	if re.NumSubexp() < 2 {
		return nil, errors.New("extractor pattern: need two capture groups (date, chapter)")
	}
	return &TextExtractor{re: re}, nil
}

// MustTextExtractor is NewTextExtractor for patterns known to be valid.
func MustTextExtractor(pattern string) *TextExtractor {
	x, err := NewTextExtractor(pattern)
	if err != nil {
		panic(err)
	}
	return x
}

func (x *TextExtractor) Extract(content string) (Chapter, bool) {
	m := x.re.FindStringSubmatch(PageText(content))
	if m == nil {
		return Chapter{}, false
	}
	return Chapter{Date: m[1], Label: m[2]}, true
}

// PageText returns the visible text of an HTML document, one text node per
// line. Script, style and template contents are skipped. Input without markup
// is returned unchanged.
func PageText(content string) string {
	if !strings.Contains(content, "<") {
		return content
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	var b strings.Builder
	collectText(doc.Selection, &b)
	return b.String()
}

func collectText(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "#text":
			if t := strings.TrimSpace(s.Text()); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
		case "#comment", "script", "style", "noscript", "template":
		default:
			collectText(s, b)
		}
	})
}

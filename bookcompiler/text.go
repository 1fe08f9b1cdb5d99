package bookcompiler

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var textReplacer = strings.NewReplacer(
	"\u2010", "-", "\u2011", "-", "\u2012", "-", "\u2013", "-", "\u2014", "-", "\u2015", "-", "\u2212", "-",
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`, "\u201f", `"`, "\u2033", `"`, "\u00ab", `"`, "\u00bb", `"`,
	"\u2018", "'", "\u2019", "'", "\u201a", "'", "\u201b", "'", "\u2032", "'",
	"\u2026", "...",
	"\u00a0", " ", "\u2009", " ", "\u202f", " ",
	"\u200b", "", "\ufeff", "",
)

// NormalizeText folds typographic punctuation to ASCII before layout.
func NormalizeText(text string) string {
	return textReplacer.Replace(text)
}

// StripHTML drops raw HTML tags, keeping their text.
func StripHTML(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" {
				b.WriteString(" ")
			}
		}
	}
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r == 0xFE0F || r == 0x200D:
		return true
	}
	return false
}

// ParseInline splits text into formatted spans. Emoji are returned as their
// own spans so a renderer without a suitable font can drop them.
func ParseInline(text string) []Span {
	var spans []Span
	var buf strings.Builder
	var style SpanStyle

	emit := func() {
		if buf.Len() == 0 {
			return
		}
		spans = appendText(spans, Span{Text: buf.String(), Style: style})
		buf.Reset()
	}

	for i := 0; i < len(text); {
		rest := text[i:]
		switch {
		case strings.HasPrefix(rest, "`"):
			if end := strings.Index(rest[1:], "`"); end >= 0 {
				emit()
				spans = append(spans, Span{Text: NormalizeText(rest[1 : 1+end]), Style: style | SpanCode})
				i += end + 2
				continue
			}
		case strings.HasPrefix(rest, "**"), strings.HasPrefix(rest, "__"):
			if delimiter(text, i, rest[:2], style&SpanBold != 0) {
				emit()
				style ^= SpanBold
				i += 2
				continue
			}
		case strings.HasPrefix(rest, "~~"):
			if delimiter(text, i, "~~", style&SpanStrike != 0) {
				emit()
				style ^= SpanStrike
				i += 2
				continue
			}
		case rest[0] == '*', rest[0] == '_':
			if delimiter(text, i, rest[:1], style&SpanItalic != 0) {
				emit()
				style ^= SpanItalic
				i++
				continue
			}
		case rest[0] == '[':
			if label, url, n, ok := linkAt(rest); ok {
				emit()
				spans = append(spans, Span{Text: NormalizeText(StripHTML(label)), Style: style | SpanLink, URL: url})
				i += n
				continue
			}
		}
		r, size := utf8.DecodeRuneInString(rest)
		if isEmoji(r) {
			emit()
			spans = appendText(spans, Span{Text: string(r), Style: SpanEmoji})
			i += size
			continue
		}
		buf.WriteRune(r)
		i += size
	}
	emit()
	return spans
}

// appendText normalizes s and merges it into the previous span when the
// styles match.
func appendText(spans []Span, s Span) []Span {
	if s.Style&SpanEmoji == 0 {
		s.Text = NormalizeText(StripHTML(s.Text))
		if s.Text == "" {
			return spans
		}
	}
	if n := len(spans); n > 0 && spans[n-1].Style == s.Style && s.Style&(SpanLink|SpanCode) == 0 {
		spans[n-1].Text += s.Text
		return spans
	}
	return append(spans, s)
}

// delimiter reports whether marker at text[i] toggles a style. An opener
// must be followed by a non-space and have a closer later in text; a closer
// must follow a non-space. Underscores only count at word boundaries.
// Anything else is literal text.
func delimiter(text string, i int, marker string, active bool) bool {
	word := marker[0] == '_'
	if active {
		return !spaceBefore(text, i) && (!word || boundaryAfter(text, i+len(marker)))
	}
	after := i + len(marker)
	if after >= len(text) || spaceAt(text, after) || (word && !boundaryBefore(text, i)) {
		return false
	}
	for j := after + 1; j < len(text); j++ {
		if strings.HasPrefix(text[j:], marker) && !spaceBefore(text, j) && (!word || boundaryAfter(text, j+len(marker))) {
			return true
		}
	}
	return false
}

func spaceAt(text string, i int) bool {
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsSpace(r)
}

func spaceBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return unicode.IsSpace(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// linkAt parses "[label](url)" at the start of s.
func linkAt(s string) (label, url string, n int, ok bool) {
	closeLabel := strings.Index(s, "](")
	if closeLabel < 1 {
		return "", "", 0, false
	}
	closeURL := strings.Index(s[closeLabel+2:], ")")
	if closeURL < 0 {
		return "", "", 0, false
	}
	label = s[1:closeLabel]
	url = strings.TrimSpace(s[closeLabel+2 : closeLabel+2+closeURL])
	if strings.Contains(label, "\n") || url == "" {
		return "", "", 0, false
	}
	return label, url, closeLabel + 3 + closeURL, true
}

// FileName builds an export file name from a title and date, for example
// "Learn_Go_Concurrency_2026-10-15.pdf".
func FileName(title string, date time.Time, ext string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, NormalizeText(title))
	words := strings.Fields(cleaned)
	name := "Book"
	if len(words) > 0 {
		name = cases.Title(language.English, cases.NoLower).String(strings.Join(words, " "))
		name = strings.ReplaceAll(name, " ", "_")
	}
	if runes := []rune(name); len(runes) > 80 {
		name = strings.TrimRight(string(runes[:80]), "_")
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return fmt.Sprintf("%s_%s", name, date.Format("2006-01-02"))
	}
	return filepath.Base(fmt.Sprintf("%s_%s.%s", name, date.Format("2006-01-02"), ext))
}

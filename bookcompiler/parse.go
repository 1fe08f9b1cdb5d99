package bookcompiler

import (
	"regexp"
	"strings"
)

// MaxCodeLines is the longest code block kept in one bordered box.
const MaxCodeLines = 40

var (
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.*?)(?:\s+#+)?\s*$`)
	ruleRe      = regexp.MustCompile(`^(?:(?:-\s*){3,}|(?:\*\s*){3,}|(?:_\s*){3,})$`)
	bulletRe    = regexp.MustCompile(`^[-*+]\s+(.*)$`)
	numberedRe  = regexp.MustCompile(`^\d{1,3}[.)]\s+(.*)$`)
	quoteRe     = regexp.MustCompile(`^>\s?(.*)$`)
	separatorRe = regexp.MustCompile(`^:?-+:?$`)
)

func fenceOf(trimmed string) (string, bool) {
	for _, f := range []string{"```", "~~~"} {
		if strings.HasPrefix(trimmed, f) {
			return f, true
		}
	}
	return "", false
}

// headingOf returns the level and text of a markdown heading line.
func headingOf(trimmed string) (int, string, bool) {
	m := headingRe.FindStringSubmatch(trimmed)
	if m == nil {
		return 0, "", false
	}
	return len(m[1]), m[2], true
}

// isContentsHeading reports whether a heading introduces a table of contents.
func isContentsHeading(text string) bool {
	t := strings.ToLower(strings.TrimSpace(StripHTML(text)))
	t = strings.Trim(t, "*_:. ")
	return t == "table of contents" || t == "contents"
}

// StripContents removes any "Table of Contents" or "Contents" heading and
// the section under it, up to the next heading of the same or higher level.
func StripContents(markdown string) string {
	lines := strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	fence := ""
	skipLevel := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if fence != "" {
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			if skipLevel == 0 {
				out = append(out, line)
			}
			continue
		}
		if f, ok := fenceOf(trimmed); ok {
			fence = f
			if skipLevel == 0 {
				out = append(out, line)
			}
			continue
		}
		if level, text, ok := headingOf(trimmed); ok {
			if skipLevel > 0 && level <= skipLevel {
				skipLevel = 0
			}
			if skipLevel == 0 && isContentsHeading(text) {
				skipLevel = level
				continue
			}
		}
		if skipLevel == 0 {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// parser is the line-oriented state machine behind Parse.
type parser struct {
	blocks []Block
	para   []string
	quote  []string
	list   *Block
	code   *Block
	fence  string
}

// Parse converts markdown into blocks. Contents sections are dropped and
// text is normalized; code lines are kept verbatim.
func Parse(markdown string) []Block {
	p := &parser{}
	lines := strings.Split(StripContents(markdown), "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t")
		trimmed := strings.TrimSpace(line)

		if p.code != nil {
			if strings.HasPrefix(trimmed, p.fence) {
				p.blocks = append(p.blocks, *p.code)
				p.code = nil
				continue
			}
			p.code.Lines = append(p.code.Lines, strings.ReplaceAll(line, "\t", "    "))
			continue
		}

		if trimmed == "" {
			p.flush()
			continue
		}
		if f, ok := fenceOf(trimmed); ok {
			p.flush()
			p.fence = f
			p.code = &Block{Kind: BlockCode, Lang: strings.TrimSpace(strings.TrimLeft(trimmed, f[:1]))}
			continue
		}
		if level, text, ok := headingOf(trimmed); ok {
			p.flush()
			if level > 4 {
				level = 4
			}
			p.blocks = append(p.blocks, Block{Kind: BlockHeading, Level: level, Text: cleanInline(text)})
			continue
		}
		if ruleRe.MatchString(trimmed) {
			p.flush()
			p.blocks = append(p.blocks, Block{Kind: BlockRule})
			continue
		}
		if strings.Contains(trimmed, "|") && i+1 < len(lines) && isTableSeparator(lines[i+1]) {
			p.flush()
			table := Block{Kind: BlockTable, Header: splitRow(trimmed)}
			i++
			for i+1 < len(lines) {
				next := strings.TrimSpace(lines[i+1])
				if next == "" || !strings.Contains(next, "|") {
					break
				}
				table.Rows = append(table.Rows, splitRow(next))
				i++
			}
			p.blocks = append(p.blocks, table)
			continue
		}
		if m := bulletRe.FindStringSubmatch(trimmed); m != nil {
			p.addItem(BlockBullet, m[1])
			continue
		}
		if m := numberedRe.FindStringSubmatch(trimmed); m != nil {
			p.addItem(BlockNumbered, m[1])
			continue
		}
		if m := quoteRe.FindStringSubmatch(trimmed); m != nil {
			if p.quote == nil {
				p.flush()
			}
			p.quote = append(p.quote, m[1])
			continue
		}
		if p.list != nil {
			last := len(p.list.Items) - 1
			p.list.Items[last] += " " + trimmed
			continue
		}
		if p.quote != nil {
			p.quote = append(p.quote, trimmed)
			continue
		}
		p.para = append(p.para, trimmed)
	}
	if p.code != nil {
		p.blocks = append(p.blocks, *p.code)
		p.code = nil
	}
	p.flush()
	return p.blocks
}

func (p *parser) addItem(kind BlockKind, text string) {
	if p.list == nil || p.list.Kind != kind {
		p.flush()
		p.list = &Block{Kind: kind}
	}
	p.list.Items = append(p.list.Items, text)
}

func (p *parser) flush() {
	if len(p.para) > 0 {
		p.blocks = append(p.blocks, Block{Kind: BlockParagraph, Text: strings.Join(p.para, " ")})
		p.para = nil
	}
	if len(p.quote) > 0 {
		p.blocks = append(p.blocks, Block{Kind: BlockQuote, Text: strings.Join(p.quote, " ")})
		p.quote = nil
	}
	if p.list != nil {
		p.blocks = append(p.blocks, *p.list)
		p.list = nil
	}
}

// isTableSeparator reports whether line is a pipe table header separator
// such as "|---|:---:|".
func isTableSeparator(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.Contains(trimmed, "-") || !strings.Contains(trimmed, "|") {
		return false
	}
	cells := splitRow(trimmed)
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		if !separatorRe.MatchString(strings.ReplaceAll(c, " ", "")) {
			return false
		}
	}
	return true
}

func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	cells := make([]string, len(parts))
	for i, c := range parts {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}

// cleanInline removes inline markers, leaving plain normalized text.
func cleanInline(text string) string {
	var b strings.Builder
	for _, s := range ParseInline(text) {
		b.WriteString(s.Text)
	}
	return strings.TrimSpace(b.String())
}

// SplitCodeBlock cuts lines into chunks of at most max lines. Every chunk
// but the last is marked as continued.
func SplitCodeBlock(lines []string, max int) []CodeChunk {
	if max <= 0 {
		max = MaxCodeLines
	}
	if len(lines) == 0 {
		return []CodeChunk{{}}
	}
	var chunks []CodeChunk
	for start := 0; start < len(lines); start += max {
		end := start + max
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, CodeChunk{
			Lines:     lines[start:end],
			Continued: end < len(lines),
		})
	}
	return chunks
}

package bookcompiler

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlocks(t *testing.T) {
	md := strings.Join([]string{
		"# Channels",
		"",
		"Channels **connect** goroutines",
		"and carry values.",
		"",
		"- first",
		"- second",
		"  continued",
		"",
		"1. one",
		"2. two",
		"",
		"> Do not communicate by sharing memory.",
		"",
		"```go",
		"ch := make(chan int)",
		"",
		"\tch <- 1",
		"```",
		"",
		"---",
		"###### Deep heading",
	}, "\n")

	blocks := Parse(md)
	require.Len(t, blocks, 8)

	assert.Equal(t, Block{Kind: BlockHeading, Level: 1, Text: "Channels"}, blocks[0])
	assert.Equal(t, BlockParagraph, blocks[1].Kind)
	assert.Equal(t, "Channels **connect** goroutines and carry values.", blocks[1].Text)
	assert.Equal(t, BlockBullet, blocks[2].Kind)
	assert.Equal(t, []string{"first", "second continued"}, blocks[2].Items)
	assert.Equal(t, BlockNumbered, blocks[3].Kind)
	assert.Equal(t, []string{"one", "two"}, blocks[3].Items)
	assert.Equal(t, BlockQuote, blocks[4].Kind)
	assert.Equal(t, BlockCode, blocks[5].Kind)
	assert.Equal(t, "go", blocks[5].Lang)
	assert.Equal(t, []string{"ch := make(chan int)", "", "    ch <- 1"}, blocks[5].Lines)
	assert.Equal(t, BlockRule, blocks[6].Kind)
	assert.Equal(t, 4, blocks[7].Level)
}

func TestParseSkipsContentsSection(t *testing.T) {
	md := strings.Join([]string{
		"# Guide",
		"## Table of Contents",
		"1. Intro",
		"2. Details",
		"### Sub entry",
		"## Intro",
		"Body text.",
		"# Contents:",
		"- gone",
		"# Next",
	}, "\n")

	var headings []string
	for _, b := range Parse(md) {
		switch b.Kind {
		case BlockHeading:
			headings = append(headings, b.Text)
		case BlockNumbered, BlockBullet:
			t.Fatalf("contents list leaked: %v", b.Items)
		}
	}
	assert.Equal(t, []string{"Guide", "Intro", "Next"}, headings)
}

func TestTableNeedsSeparator(t *testing.T) {
	withSep := Parse("| Name | Kind |\n|------|:----:|\n| ch | chan |\n| mu | mutex |")
	require.Len(t, withSep, 1)
	assert.Equal(t, BlockTable, withSep[0].Kind)
	assert.Equal(t, []string{"Name", "Kind"}, withSep[0].Header)
	assert.Equal(t, [][]string{{"ch", "chan"}, {"mu", "mutex"}}, withSep[0].Rows)

	without := Parse("| Name | Kind |\n| ch | chan |")
	require.Len(t, without, 1)
	assert.Equal(t, BlockParagraph, without[0].Kind)

	assert.False(t, isTableSeparator("| a | b |"))
	assert.True(t, isTableSeparator("---|---"))
}

func TestNormalizeText(t *testing.T) {
	in := "“Quoted” — it’s 5−3… done"
	assert.Equal(t, `"Quoted" - it's 5-3... done`, NormalizeText(in))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "bold and  line", StripHTML("<b>bold</b> and<br/> line"))
	assert.Equal(t, "a < b", StripHTML("a < b"))
	assert.Equal(t, "plain", StripHTML("plain"))
}

func TestParseInline(t *testing.T) {
	spans := ParseInline("Use **bold**, *italic*, `code`, ~~old~~ and [docs](https://go.dev) \U0001F680!")
	var styles []SpanStyle
	var texts []string
	for _, s := range spans {
		styles = append(styles, s.Style)
		texts = append(texts, s.Text)
	}
	assert.Equal(t, []string{"Use ", "bold", ", ", "italic", ", ", "code", ", ", "old", " and ", "docs", " ", "\U0001F680", "!"}, texts)
	assert.Equal(t, SpanBold, styles[1])
	assert.Equal(t, SpanItalic, styles[3])
	assert.Equal(t, SpanCode, styles[5])
	assert.Equal(t, SpanStrike, styles[7])
	assert.Equal(t, SpanLink, styles[9])
	assert.Equal(t, "https://go.dev", spans[9].URL)
	assert.Equal(t, SpanEmoji, styles[11])

	plain := ParseInline("snake_case_name stays")
	require.Len(t, plain, 1)
	assert.Equal(t, "snake_case_name stays", plain[0].Text)
}

func TestParseInlineKeepsUnpairedMarkers(t *testing.T) {
	for _, text := range []string{
		"2 * 3 = 6",
		"unclosed **bold and *star",
		"a ~~ b ~~ c",
		"cost is * 2 and _ 3",
		"trailing *",
	} {
		spans := ParseInline(text)
		require.Len(t, spans, 1, text)
		assert.Equal(t, text, spans[0].Text)
		assert.Equal(t, SpanStyle(0), spans[0].Style, text)
	}

	spans := ParseInline("O(n * m) beats *fast* code")
	require.Len(t, spans, 3)
	assert.Equal(t, "O(n * m) beats ", spans[0].Text)
	assert.Equal(t, "fast", spans[1].Text)
	assert.Equal(t, SpanItalic, spans[1].Style)
	assert.Equal(t, " code", spans[2].Text)
	assert.Equal(t, SpanStyle(0), spans[2].Style)
}

func TestSplitCodeBlock(t *testing.T) {
	lines := make([]string, 90)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	chunks := SplitCodeBlock(lines, 40)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Lines, 40)
	assert.Len(t, chunks[1].Lines, 40)
	assert.Len(t, chunks[2].Lines, 10)
	assert.True(t, chunks[0].Continued)
	assert.True(t, chunks[1].Continued)
	assert.False(t, chunks[2].Continued)
	assert.Equal(t, "line 81", chunks[2].Lines[0])

	single := SplitCodeBlock(lines[:40], 40)
	require.Len(t, single, 1)
	assert.False(t, single[0].Continued)
}

func TestColumnWidths(t *testing.T) {
	even := ColumnWidths([]string{"a", "b", "c"}, nil, 150)
	assert.Equal(t, []float64{50, 50, 50}, even)

	header := []string{"id", "description", "x", "y", "z"}
	rows := [][]string{{"1", "a fairly long description here", "1", "2", "3"}}
	widths := ColumnWidths(header, rows, 170)
	require.Len(t, widths, 5)
	total := 0.0
	for _, w := range widths {
		total += w
	}
	assert.InDelta(t, 170, total, 0.001)
	assert.Greater(t, widths[1], widths[0])
	assert.Equal(t, widths[2], widths[3])

	assert.Nil(t, ColumnWidths(nil, nil, 100))
}

func TestFileName(t *testing.T) {
	date := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "Learn_Go_Concurrency_2026-10-15.pdf", FileName("learn go concurrency", date, "pdf"))
	assert.Equal(t, "C_Unix_Pipes_2026-10-15.md", FileName("C & Unix: pipes/", date, ".md"))
	assert.Equal(t, "Book_2026-10-15.html", FileName("  ?? ", date, "html"))
	assert.Equal(t, "Learn_SQL_2026-10-15.pdf", FileName("Learn SQL", date, "pdf"))
}

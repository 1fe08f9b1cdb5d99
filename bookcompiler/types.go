package bookcompiler

// BlockKind identifies a structural markdown element.
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading
	BlockBullet
	BlockNumbered
	BlockQuote
	BlockCode
	BlockTable
	BlockRule
)

// Block is one structural element of a parsed document.
type Block struct {
	Kind   BlockKind
	Level  int      // heading level, 1-4
	Text   string   // heading, paragraph and quote text
	Items  []string // list items
	Lines  []string // code lines, verbatim
	Lang   string   // code fence info string
	Header []string
	Rows   [][]string
}

// SpanStyle is a bit set of inline formatting.
type SpanStyle uint8

const (
	SpanBold SpanStyle = 1 << iota
	SpanItalic
	SpanStrike
	SpanCode
	SpanLink
	SpanEmoji
)

// Span is a run of text with uniform formatting.
type Span struct {
	Text  string
	Style SpanStyle
	URL   string
}

// ToCEntry represents a table of contents entry
type ToCEntry struct {
	Title   string
	Level   int
	PageNum int
	Link    int // Internal PDF link identifier
}

// CodeChunk is one page-sized piece of a long code block.
type CodeChunk struct {
	Lines     []string
	Continued bool
}

// TextStyle holds a font selection
type TextStyle struct {
	FontFamily string
	Style      string
	Size       float64
}

package generator

import bookbot "github.com/opd-ai/bookbot/src"

// Level classifies a progress event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelDone    Level = "done"
)

// Event reports generation progress for one book.
type Event struct {
	BookID      string         `json:"bookId"`
	Status      bookbot.Status `json:"status"`
	ModuleIndex int            `json:"moduleIndex"`
	Total       int            `json:"total"`
	Percent     float64        `json:"percent"`
	Message     string         `json:"message"`
	Text        string         `json:"text,omitempty"`
	Level       Level          `json:"level"`
}

// Progressor receives progress events. Implementations must not block.
type Progressor interface {
	Update(ev Event)
}

// ProgressorFunc adapts a function to Progressor.
type ProgressorFunc func(ev Event)

func (f ProgressorFunc) Update(ev Event) { f(ev) }

type nullProgressor struct{}

func (nullProgressor) Update(Event) {}

// Package prompts builds the roadmap and module prompts for each persona.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	bookbot "github.com/opd-ai/bookbot/src"
)

const (
	// MinModules is the smallest roadmap the generator accepts.
	MinModules = 10
	// TargetWords is the requested minimum length of one module.
	TargetWords = 2500
	// ContextModules is how many prior modules are excerpted into a prompt.
	ContextModules = 2
	// ContextRunes bounds each prior module excerpt.
	ContextRunes = 1200
)

//go:embed templates/*.txt
var templatesFS embed.FS

// Builder produces prompts in one persona's voice. Implementations are pure.
type Builder interface {
	Persona() bookbot.Persona
	System(s bookbot.BookSession) string
	RoadmapPrompt(s bookbot.BookSession) string
	ModulePrompt(s bookbot.BookSession, spec bookbot.RoadmapModule, prior []bookbot.Module, isFirst bool, index, total int) string
}

var builders = map[bookbot.Persona]*templateBuilder{
	bookbot.PersonaFormal:   mustBuilder(bookbot.PersonaFormal),
	bookbot.PersonaInformal: mustBuilder(bookbot.PersonaInformal),
}

// For returns the builder for persona, falling back to the formal one.
func For(persona bookbot.Persona) Builder {
	if b, ok := builders[persona]; ok {
		return b
	}
	return builders[bookbot.PersonaFormal]
}

type templateBuilder struct {
	persona bookbot.Persona
	system  *template.Template
	roadmap *template.Template
	module  *template.Template
}

func mustBuilder(persona bookbot.Persona) *templateBuilder {
	load := func(kind string) *template.Template {
		path := fmt.Sprintf("templates/%s.%s.txt", persona, kind)
		raw, err := templatesFS.ReadFile(path)
		if err != nil {
			panic(fmt.Sprintf("prompts: read %s: %v", path, err))
		}
		return template.Must(template.New(path).Option("missingkey=error").Parse(strings.TrimSpace(string(raw))))
	}
	return &templateBuilder{
		persona: persona,
		system:  load("system"),
		roadmap: load("roadmap"),
		module:  load("module"),
	}
}

func (b *templateBuilder) Persona() bookbot.Persona { return b.persona }

type sessionData struct {
	Goal       string
	Language   string
	Audience   string
	Complexity string
	Reasoning  string
	MinModules int
}

// Excerpt is a shortened prior module carried into a module prompt.
type Excerpt struct {
	Title string
	Text  string
}

type moduleData struct {
	sessionData
	Module      bookbot.RoadmapModule
	Index       int
	Total       int
	IsFirst     bool
	Prior       []Excerpt
	TargetWords int
}

func newSessionData(s bookbot.BookSession) sessionData {
	data := sessionData{
		Goal:       strings.TrimSpace(s.Goal),
		Language:   strings.TrimSpace(s.Language),
		Audience:   strings.TrimSpace(s.Audience),
		Complexity: string(s.Complexity),
		Reasoning:  strings.TrimSpace(s.Reasoning),
		MinModules: MinModules,
	}
	if data.Language == "" {
		data.Language = "English"
	}
	if data.Complexity == "" {
		data.Complexity = string(bookbot.ComplexityIntermediate)
	}
	return data
}

func (b *templateBuilder) System(s bookbot.BookSession) string {
	return render(b.system, newSessionData(s))
}

func (b *templateBuilder) RoadmapPrompt(s bookbot.BookSession) string {
	return render(b.roadmap, newSessionData(s))
}

// ModulePrompt builds the prompt for module index (1-based) of total. When
// the module is not first, the last ContextModules entries of prior are
// excerpted into the prompt.
func (b *templateBuilder) ModulePrompt(s bookbot.BookSession, spec bookbot.RoadmapModule, prior []bookbot.Module, isFirst bool, index, total int) string {
	data := moduleData{
		sessionData: newSessionData(s),
		Module:      spec,
		Index:       index,
		Total:       total,
		IsFirst:     isFirst,
		TargetWords: TargetWords,
	}
	if !isFirst {
		data.Prior = Excerpts(prior, ContextModules, ContextRunes)
	}
	return render(b.module, data)
}

// Excerpts returns the last n modules of prior, each cut to maxRunes.
func Excerpts(prior []bookbot.Module, n, maxRunes int) []Excerpt {
	if n <= 0 || len(prior) == 0 {
		return nil
	}
	start := len(prior) - n
	if start < 0 {
		start = 0
	}
	out := make([]Excerpt, 0, len(prior)-start)
	for _, m := range prior[start:] {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		out = append(out, Excerpt{
			Title: m.Title,
			Text:  TruncateByRunes(text, maxRunes),
		})
	}
	return out
}

// TruncateByRunes cuts s to at most maxRunes runes, marking the cut with "...".
func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// render executes t; a failed execution yields an empty prompt.
func render(t *template.Template, data any) string {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return ""
	}
	return sb.String()
}

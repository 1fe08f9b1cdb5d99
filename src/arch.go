package bookbot

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a BookProject.
type Status string

const (
	StatusPlanning          Status = "planning"
	StatusGeneratingRoadmap Status = "generating_roadmap"
	StatusRoadmapCompleted  Status = "roadmap_completed"
	StatusGeneratingContent Status = "generating_content"
	StatusAssembling        Status = "assembling"
	StatusCompleted         Status = "completed"
	StatusCompletedWithGaps Status = "completed_with_gaps"
	StatusError             Status = "error"
)

// ModuleStatus is the generation state of a single module.
type ModuleStatus string

const (
	ModulePending    ModuleStatus = "pending"
	ModuleGenerating ModuleStatus = "generating"
	ModuleCompleted  ModuleStatus = "completed"
	ModuleError      ModuleStatus = "error"
)

// Persona selects the tone of the generated text.
type Persona string

const (
	PersonaFormal   Persona = "formal"
	PersonaInformal Persona = "informal"
)

// Complexity is the target depth of the book.
type Complexity string

const (
	ComplexityBeginner     Complexity = "beginner"
	ComplexityIntermediate Complexity = "intermediate"
	ComplexityAdvanced     Complexity = "advanced"
)

// BookSession describes what the user wants to learn.
type BookSession struct {
	Goal       string     `json:"goal" validate:"required,min=3,max=2000"`
	Language   string     `json:"language,omitempty" validate:"max=64"`
	Audience   string     `json:"audience,omitempty" validate:"max=500"`
	Complexity Complexity `json:"complexity,omitempty" validate:"omitempty,oneof=beginner intermediate advanced"`
	Persona    Persona    `json:"persona,omitempty" validate:"omitempty,oneof=formal informal"`
	Reasoning  string     `json:"reasoning,omitempty" validate:"max=2000"`
}

// RoadmapModule is one planned entry of the roadmap.
type RoadmapModule struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Objectives    []string `json:"objectives"`
	EstimatedTime string   `json:"estimatedTime,omitempty"`
	Description   string   `json:"description,omitempty"`
}

// Roadmap is the ordered plan produced before any module content.
type Roadmap struct {
	Title             string          `json:"title,omitempty"`
	Modules           []RoadmapModule `json:"modules"`
	EstimatedDuration string          `json:"estimatedDuration,omitempty"`
	DifficultyLevel   string          `json:"difficultyLevel,omitempty"`
}

// Module is the generated content for one roadmap entry.
type Module struct {
	RoadmapID   string       `json:"roadmapId"`
	Title       string       `json:"title"`
	Content     string       `json:"content,omitempty"`
	WordCount   int          `json:"wordCount"`
	Status      ModuleStatus `json:"status"`
	Attempts    int          `json:"attempts,omitempty"`
	Error       string       `json:"error,omitempty"`
	GeneratedAt *time.Time   `json:"generatedAt,omitempty"`
}

// BookProject is the unit of work and persistence.
type BookProject struct {
	ID          string      `json:"id" validate:"required"`
	UserID      string      `json:"userId,omitempty"`
	Title       string      `json:"title"`
	Session     BookSession `json:"session"`
	Status      Status      `json:"status"`
	Roadmap     *Roadmap    `json:"roadmap,omitempty"`
	Modules     []Module    `json:"modules"`
	FinalBook   string      `json:"finalBook,omitempty"`
	Provider    string      `json:"provider,omitempty"`
	Model       string      `json:"model,omitempty"`
	Error       string      `json:"error,omitempty"`
	Paused      bool        `json:"paused,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// APISettings holds provider credentials and generation defaults.
type APISettings struct {
	APIKeys          map[string]string `json:"apiKeys"`
	SelectedProvider string            `json:"selectedProvider"`
	SelectedModel    string            `json:"selectedModel"`
	DefaultLanguage  string            `json:"defaultLanguage"`
	DefaultPersona   Persona           `json:"defaultPersona"`
}

// ReadingBookmark remembers where the reader stopped in a book.
type ReadingBookmark struct {
	BookID       string    `json:"bookId"`
	ModuleIndex  int       `json:"moduleIndex"`
	ScrollOffset float64   `json:"scrollOffset"`
	Percent      float64   `json:"percent"`
	LastRead     time.Time `json:"lastRead"`
}

// NewProject builds a project in the planning state.
func NewProject(id, userID string, session BookSession, now time.Time) *BookProject {
	if session.Persona == "" {
		session.Persona = PersonaFormal
	}
	return &BookProject{
		ID:        id,
		UserID:    userID,
		Title:     titleFromGoal(session.Goal),
		Session:   session,
		Status:    StatusPlanning,
		Modules:   []Module{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Progress returns the share of completed modules, 0-100.
func (p *BookProject) Progress() float64 {
	if len(p.Modules) == 0 {
		return 0
	}
	done := 0
	for _, m := range p.Modules {
		if m.Status == ModuleCompleted {
			done++
		}
	}
	return float64(done) * 100 / float64(len(p.Modules))
}

// Gaps lists the indexes of modules that are not completed.
func (p *BookProject) Gaps() []int {
	var gaps []int
	for i, m := range p.Modules {
		if m.Status != ModuleCompleted {
			gaps = append(gaps, i)
		}
	}
	return gaps
}

// CompletedBefore returns the completed modules preceding index, in order.
func (p *BookProject) CompletedBefore(index int) []Module {
	var prior []Module
	for i := 0; i < index && i < len(p.Modules); i++ {
		if p.Modules[i].Status == ModuleCompleted {
			prior = append(prior, p.Modules[i])
		}
	}
	return prior
}

// WordCount sums the word counts of completed modules.
func (p *BookProject) WordCount() int {
	total := 0
	for _, m := range p.Modules {
		if m.Status == ModuleCompleted {
			total += m.WordCount
		}
	}
	return total
}

// Exportable reports whether the project has a final book to export.
func (p *BookProject) Exportable() bool {
	return (p.Status == StatusCompleted || p.Status == StatusCompletedWithGaps) && p.FinalBook != ""
}

// CountWords counts whitespace separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

func titleFromGoal(goal string) string {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return "Untitled book"
	}
	runes := []rune(goal)
	if len(runes) > 80 {
		return strings.TrimSpace(string(runes[:80])) + "..."
	}
	return goal
}

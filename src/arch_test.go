package bookbot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roadmapJSON(n int) string {
	var b strings.Builder
	b.WriteString("```json\n{\"title\":\"Go in Depth\",\"estimatedDuration\":\"20 hours\",\"modules\":[")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"title":"Module ` + string(rune('A'+i)) + `","objectives":["o1"," ","o2"],"estimatedTime":"1h"}`)
	}
	b.WriteString("]}\n```")
	return b.String()
}

func TestTransitionForward(t *testing.T) {
	steps := []struct {
		from Status
		ev   Event
		to   Status
	}{
		{StatusPlanning, EventStartRoadmap, StatusGeneratingRoadmap},
		{StatusGeneratingRoadmap, EventRoadmapReady, StatusRoadmapCompleted},
		{StatusRoadmapCompleted, EventStartContent, StatusGeneratingContent},
		{StatusGeneratingContent, EventContentDone, StatusAssembling},
		{StatusAssembling, EventAssembled, StatusCompleted},
		{StatusAssembling, EventAssembledWithGaps, StatusCompletedWithGaps},
		{StatusGeneratingContent, EventFail, StatusError},
		{StatusError, EventRetryRoadmap, StatusGeneratingRoadmap},
		{StatusError, EventRetryContent, StatusGeneratingContent},
		{StatusCompletedWithGaps, EventRetryContent, StatusGeneratingContent},
		{StatusCompleted, EventRegenerate, StatusGeneratingContent},
		{StatusCompleted, EventReset, StatusPlanning},
	}
	for _, s := range steps {
		got, err := Transition(s.from, s.ev)
		require.NoError(t, err, "%s on %s", s.ev, s.from)
		assert.Equal(t, s.to, got, "%s on %s", s.ev, s.from)
	}
}

func TestTransitionRejectsIllegal(t *testing.T) {
	illegal := []struct {
		from Status
		ev   Event
	}{
		{StatusPlanning, EventContentDone},
		{StatusGeneratingContent, EventAssembled},
		{StatusCompleted, EventFail},
		{StatusCompleted, EventRetryContent},
		{StatusRoadmapCompleted, EventRoadmapReady},
	}
	for _, s := range illegal {
		got, err := Transition(s.from, s.ev)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, s.from, got)
	}
}

func TestParseRoadmap(t *testing.T) {
	rm, err := ParseRoadmap(roadmapJSON(10), 10)
	require.NoError(t, err)
	require.Len(t, rm.Modules, 10)
	assert.Equal(t, "Go in Depth", rm.Title)
	assert.Equal(t, "module-01", rm.Modules[0].ID)
	assert.Equal(t, []string{"o1", "o2"}, rm.Modules[0].Objectives)

	modules := ModulesFromRoadmap(rm)
	require.Len(t, modules, len(rm.Modules))
	for i, m := range modules {
		assert.Equal(t, ModulePending, m.Status)
		assert.Equal(t, rm.Modules[i].Title, m.Title)
	}
}

func TestParseRoadmapErrors(t *testing.T) {
	_, err := ParseRoadmap(roadmapJSON(9), 10)
	assert.ErrorIs(t, err, ErrRoadmapTooShort)

	_, err = ParseRoadmap("I cannot help with that.", 10)
	assert.ErrorIs(t, err, ErrMalformedRoadmap)

	_, err = ParseRoadmap(`{"modules":[]}`, 10)
	assert.ErrorIs(t, err, ErrMalformedRoadmap)
}

func completedProject() *BookProject {
	p := NewProject("b1", "", BookSession{Goal: "Learn SQL"}, time.Unix(0, 0))
	p.Provider, p.Model = "anthropic", "claude-3-5-sonnet-latest"
	p.Modules = []Module{
		{Title: "Select", Content: "select body words", WordCount: 3, Status: ModuleCompleted},
		{Title: "Joins", Status: ModuleError, Error: "boom"},
		{Title: "Indexes", Content: "# Indexes\n\nindex body", WordCount: 4, Status: ModuleCompleted},
	}
	return p
}

func TestAssembleFinalBookExcludesFailedModules(t *testing.T) {
	p := completedProject()
	book := AssembleFinalBook(p, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	assert.Contains(t, book, "# Learn SQL")
	assert.Contains(t, book, "anthropic / claude-3-5-sonnet-latest")
	assert.Contains(t, book, "2026-01-02T03:04:05Z")
	assert.Contains(t, book, "Missing modules:** 2. Joins")
	assert.Contains(t, book, "# Select\n\nselect body words")
	assert.Equal(t, 1, strings.Count(book, "# Indexes\n"))
	assert.NotContains(t, book, "boom")
	assert.Equal(t, []int{1}, p.Gaps())
	assert.InDelta(t, 66.66, p.Progress(), 0.1)
	assert.Equal(t, 7, p.WordCount())
}

func TestCompletedBefore(t *testing.T) {
	p := completedProject()
	prior := p.CompletedBefore(2)
	require.Len(t, prior, 1)
	assert.Equal(t, "Select", prior[0].Title)
}

func TestSessionValidate(t *testing.T) {
	s := BookSession{Goal: "  go  "}
	err := s.Validate()
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.Contains(t, err.Error(), "goal")

	s = BookSession{Goal: "Learn Rust", Persona: "pirate"}
	assert.ErrorIs(t, s.Validate(), ErrInvalidSession)

	s = BookSession{Goal: " Learn Rust ", Complexity: ComplexityBeginner, Persona: PersonaInformal}
	require.NoError(t, s.Validate())
	assert.Equal(t, "Learn Rust", s.Goal)
}

func TestSettingsNormalize(t *testing.T) {
	s := APISettings{SelectedProvider: "openai", SelectedModel: "claude-3-5-sonnet-latest"}
	s.Normalize()
	assert.Equal(t, "openai", s.SelectedProvider)
	assert.Equal(t, "gpt-4o", s.SelectedModel)

	s = APISettings{SelectedProvider: "acme", SelectedModel: "x", APIKeys: map[string]string{"acme": " "}}
	s.Normalize()
	assert.Equal(t, "anthropic", s.SelectedProvider)
	assert.Equal(t, "claude-3-5-sonnet-latest", s.SelectedModel)
	assert.Empty(t, s.APIKeys)
	assert.Equal(t, PersonaFormal, s.DefaultPersona)
	assert.Equal(t, "English", s.DefaultLanguage)
}

func TestSaveToFiles(t *testing.T) {
	dir := t.TempDir()
	p := completedProject()
	p.Roadmap = &Roadmap{Modules: []RoadmapModule{{Title: "Select", Objectives: []string{"query rows"}}}}
	require.NoError(t, SaveToFiles(p, dir))

	toc, err := os.ReadFile(filepath.Join(dir, "00_Contents", "Contents.md"))
	require.NoError(t, err)
	assert.Contains(t, string(toc), "- query rows")

	body, err := os.ReadFile(filepath.Join(dir, "01_Module", "Module.md"))
	require.NoError(t, err)
	assert.Equal(t, "select body words", string(body))

	_, err = os.Stat(filepath.Join(dir, "02_Module"))
	assert.True(t, os.IsNotExist(err))
}

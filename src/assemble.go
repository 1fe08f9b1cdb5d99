package bookbot

import (
	"fmt"
	"strings"
	"time"
)

// AssembleFinalBook concatenates completed modules under a metadata header.
// Modules that are not completed are left out and listed as gaps.
func AssembleFinalBook(p *BookProject, generatedAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	fmt.Fprintf(&b, "**Goal:** %s\n\n", p.Session.Goal)
	if p.Provider != "" {
		fmt.Fprintf(&b, "**Generated with:** %s / %s\n\n", p.Provider, p.Model)
	}
	fmt.Fprintf(&b, "**Generated at:** %s\n\n", generatedAt.UTC().Format(time.RFC3339))

	completed := 0
	for _, m := range p.Modules {
		if m.Status == ModuleCompleted {
			completed++
		}
	}
	fmt.Fprintf(&b, "**Modules:** %d of %d, %d words\n\n", completed, len(p.Modules), p.WordCount())

	if gaps := p.Gaps(); len(gaps) > 0 {
		b.WriteString("> **Missing modules:** ")
		titles := make([]string, 0, len(gaps))
		for _, i := range gaps {
			titles = append(titles, fmt.Sprintf("%d. %s", i+1, p.Modules[i].Title))
		}
		b.WriteString(strings.Join(titles, "; "))
		b.WriteString("\n\n")
	}

	b.WriteString("## Table of Contents\n\n")
	for i, m := range p.Modules {
		if m.Status != ModuleCompleted {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Title)
	}
	b.WriteString("\n---\n\n")

	for _, m := range p.Modules {
		if m.Status != ModuleCompleted {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if !strings.HasPrefix(content, "# ") {
			fmt.Fprintf(&b, "# %s\n\n", m.Title)
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

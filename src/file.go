package bookbot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SaveToFiles writes the roadmap and every completed module as markdown
// under outputDir, one directory per module.
func SaveToFiles(p *BookProject, outputDir string) error {
	contentPath := filepath.Join(outputDir, "00_Contents")
	if err := os.MkdirAll(contentPath, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tocPath := filepath.Join(contentPath, "Contents.md")
	if err := os.WriteFile(tocPath, []byte(RoadmapMarkdown(p)), 0o644); err != nil {
		return fmt.Errorf("saving contents: %w", err)
	}
	for i, m := range p.Modules {
		if m.Status != ModuleCompleted {
			continue
		}
		moduleDir := filepath.Join(outputDir, fmt.Sprintf("%02d_Module", i+1))
		if err := os.MkdirAll(moduleDir, 0o755); err != nil {
			return fmt.Errorf("creating module directory: %w", err)
		}
		modulePath := filepath.Join(moduleDir, "Module.md")
		if err := os.WriteFile(modulePath, []byte(m.Content), 0o644); err != nil {
			return fmt.Errorf("saving module %d: %w", i+1, err)
		}
	}
	return nil
}

// RoadmapMarkdown renders the roadmap as a markdown outline.
func RoadmapMarkdown(p *BookProject) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	if p.Roadmap == nil {
		b.WriteString("_No roadmap yet._\n")
		return b.String()
	}
	if p.Roadmap.EstimatedDuration != "" {
		fmt.Fprintf(&b, "Estimated duration: %s\n\n", p.Roadmap.EstimatedDuration)
	}
	for i, spec := range p.Roadmap.Modules {
		fmt.Fprintf(&b, "## %d. %s\n", i+1, spec.Title)
		if spec.EstimatedTime != "" {
			fmt.Fprintf(&b, "Time: %s\n", spec.EstimatedTime)
		}
		for _, o := range spec.Objectives {
			fmt.Fprintf(&b, "- %s\n", o)
		}
		b.WriteString("\n")
	}
	return b.String()
}

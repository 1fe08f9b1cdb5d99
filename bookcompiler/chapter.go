package bookcompiler

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	bookbot "github.com/opd-ai/bookbot/src"
)

var moduleDirRe = regexp.MustCompile(`^(\d+)_Module$`)

// chapter is one module directory written by bookbot.SaveToFiles.
type chapter struct {
	Number int
	Path   string
}

// LoadDirectory rebuilds a completed book from a directory written by
// bookbot.SaveToFiles, so it can be exported again.
func LoadDirectory(dir string, now time.Time) (*bookbot.BookProject, error) {
	chapters, err := getChapters(dir)
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("no module directories in %s", dir)
	}

	title := filepath.Base(dir)
	if toc, err := os.ReadFile(filepath.Join(dir, "00_Contents", "Contents.md")); err == nil {
		if entries := Headings(string(toc)); len(entries) > 0 && entries[0].Level == 1 {
			title = entries[0].Title
		}
	}

	p := bookbot.NewProject("dir-"+filepath.Base(dir), "", bookbot.BookSession{Goal: title}, now)
	p.Title = title
	for _, ch := range chapters {
		content, err := os.ReadFile(filepath.Join(ch.Path, "Module.md"))
		if err != nil {
			return nil, fmt.Errorf("error reading chapter %s: %w", ch.Path, err)
		}
		text := strings.TrimSpace(string(content))
		moduleTitle := fmt.Sprintf("Module %d", ch.Number)
		if entries := Headings(text); len(entries) > 0 {
			moduleTitle = entries[0].Title
		}
		p.Modules = append(p.Modules, bookbot.Module{
			Title:     moduleTitle,
			Content:   text,
			WordCount: bookbot.CountWords(text),
			Status:    bookbot.ModuleCompleted,
		})
	}
	p.Status = bookbot.StatusCompleted
	p.CompletedAt = &now
	p.FinalBook = bookbot.AssembleFinalBook(p, now)
	return p, nil
}

func getChapters(root string) ([]chapter, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("error reading root directory: %w", err)
	}
	var chapters []chapter
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := moduleDirRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		chapters = append(chapters, chapter{Number: n, Path: filepath.Join(root, entry.Name())})
	}
	sort.Slice(chapters, func(i, j int) bool {
		return chapters[i].Number < chapters[j].Number
	})
	return chapters, nil
}

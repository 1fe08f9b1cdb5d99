package bookbot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opd-ai/bookbot/llm"
)

var (
	// ErrMalformedRoadmap means the model output held no usable roadmap JSON.
	ErrMalformedRoadmap = errors.New("malformed roadmap")
	// ErrRoadmapTooShort means the roadmap has fewer modules than required.
	ErrRoadmapTooShort = errors.New("roadmap below minimum module count")
)

type roadmapPayload struct {
	Title             string `json:"title"`
	EstimatedDuration string `json:"estimatedDuration"`
	DifficultyLevel   string `json:"difficultyLevel"`
	Modules           []struct {
		Title         string   `json:"title"`
		Objectives    []string `json:"objectives"`
		EstimatedTime string   `json:"estimatedTime"`
		Description   string   `json:"description"`
	} `json:"modules"`
}

// ParseRoadmap extracts a Roadmap from raw model output.
func ParseRoadmap(raw string, minModules int) (*Roadmap, error) {
	var payload roadmapPayload
	if err := llm.DecodeJSON(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRoadmap, err)
	}
	rm := &Roadmap{
		Title:             strings.TrimSpace(payload.Title),
		EstimatedDuration: strings.TrimSpace(payload.EstimatedDuration),
		DifficultyLevel:   strings.TrimSpace(payload.DifficultyLevel),
	}
	for _, m := range payload.Modules {
		title := strings.TrimSpace(m.Title)
		if title == "" {
			continue
		}
		objectives := make([]string, 0, len(m.Objectives))
		for _, o := range m.Objectives {
			if o = strings.TrimSpace(o); o != "" {
				objectives = append(objectives, o)
			}
		}
		rm.Modules = append(rm.Modules, RoadmapModule{
			ID:            fmt.Sprintf("module-%02d", len(rm.Modules)+1),
			Title:         title,
			Objectives:    objectives,
			EstimatedTime: strings.TrimSpace(m.EstimatedTime),
			Description:   strings.TrimSpace(m.Description),
		})
	}
	if len(rm.Modules) == 0 {
		return nil, fmt.Errorf("%w: no modules", ErrMalformedRoadmap)
	}
	if len(rm.Modules) < minModules {
		return nil, fmt.Errorf("%w: got %d, want at least %d", ErrRoadmapTooShort, len(rm.Modules), minModules)
	}
	return rm, nil
}

// ModulesFromRoadmap creates one pending module slot per roadmap entry.
func ModulesFromRoadmap(rm *Roadmap) []Module {
	if rm == nil {
		return nil
	}
	modules := make([]Module, len(rm.Modules))
	for i, spec := range rm.Modules {
		modules[i] = Module{
			RoadmapID: spec.ID,
			Title:     spec.Title,
			Status:    ModulePending,
		}
	}
	return modules
}

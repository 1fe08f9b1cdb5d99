package bookbot

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// Event drives a project from one Status to the next.
type Event string

const (
	EventStartRoadmap      Event = "start_roadmap"
	EventRoadmapReady      Event = "roadmap_ready"
	EventStartContent      Event = "start_content"
	EventContentDone       Event = "content_done"
	EventAssembled         Event = "assembled"
	EventAssembledWithGaps Event = "assembled_with_gaps"
	EventFail              Event = "fail"
	EventRetryRoadmap      Event = "retry_roadmap"
	EventRetryContent      Event = "retry_content"
	EventRegenerate        Event = "regenerate"
	EventReset             Event = "reset"
)

var transitions = map[Status]map[Event]Status{
	StatusPlanning: {
		EventStartRoadmap: StatusGeneratingRoadmap,
	},
	StatusGeneratingRoadmap: {
		EventRoadmapReady: StatusRoadmapCompleted,
	},
	StatusRoadmapCompleted: {
		EventStartContent: StatusGeneratingContent,
		EventRegenerate:   StatusGeneratingContent,
	},
	StatusGeneratingContent: {
		EventContentDone: StatusAssembling,
		EventRegenerate:  StatusGeneratingContent,
	},
	StatusAssembling: {
		EventAssembled:         StatusCompleted,
		EventAssembledWithGaps: StatusCompletedWithGaps,
	},
	StatusCompleted: {
		EventRegenerate: StatusGeneratingContent,
	},
	StatusCompletedWithGaps: {
		EventRetryContent: StatusGeneratingContent,
		EventRegenerate:   StatusGeneratingContent,
	},
	StatusError: {
		EventRetryRoadmap: StatusGeneratingRoadmap,
		EventRetryContent: StatusGeneratingContent,
		EventRegenerate:   StatusGeneratingContent,
	},
}

// Terminal reports whether no further generation happens without user action.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompletedWithGaps || s == StatusError
}

// Transition returns the status reached from "from" on ev.
func Transition(from Status, ev Event) (Status, error) {
	if ev == EventReset {
		return StatusPlanning, nil
	}
	if ev == EventFail {
		if from == StatusCompleted || from == StatusCompletedWithGaps {
			return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
		}
		return StatusError, nil
	}
	if next, ok := transitions[from][ev]; ok {
		return next, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}

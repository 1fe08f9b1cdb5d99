package ui

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/opd-ai/bookbot/generator"
)

const (
	maxHistory    = 500
	subscriberBuf = 64
)

// MessageHistory is the progress of one generation run.
type MessageHistory struct {
	mu       sync.RWMutex
	Messages []generator.Event
	subs     map[chan generator.Event]struct{}
	done     bool
}

func (h *MessageHistory) add(ev generator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.Messages = append(h.Messages, ev)
	if len(h.Messages) > maxHistory {
		h.Messages = h.Messages[len(h.Messages)-maxHistory:]
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// slow reader; it can catch up from /progress
		}
	}
}

// GetMessages returns a copy of the recorded events.
func (h *MessageHistory) GetMessages() []generator.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	messages := make([]generator.Event, len(h.Messages))
	copy(messages, h.Messages)
	return messages
}

func (h *MessageHistory) subscribe() ([]generator.Event, <-chan generator.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	messages := make([]generator.Event, len(h.Messages))
	copy(messages, h.Messages)

	ch := make(chan generator.Event, subscriberBuf)
	if h.done {
		close(ch)
		return messages, ch, func() {}
	}
	if h.subs == nil {
		h.subs = make(map[chan generator.Event]struct{})
	}
	h.subs[ch] = struct{}{}
	return messages, ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *MessageHistory) finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}

// Hub collects generation progress per book and fans it out to websocket
// subscribers. Finished runs stay readable from a cache until they expire.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*MessageHistory
	cache    *cache.Cache
}

// NewHub keeps finished histories for ttl.
func NewHub(ttl time.Duration) *Hub {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Hub{
		sessions: make(map[string]*MessageHistory),
		cache:    cache.New(ttl, ttl/2),
	}
}

// Start opens a fresh history for bookID.
func (h *Hub) Start(bookID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.sessions[bookID]; ok {
		old.finish()
	}
	h.sessions[bookID] = &MessageHistory{}
	h.cache.Delete(bookID)
}

// Update implements generator.Progressor.
func (h *Hub) Update(ev generator.Event) {
	h.mu.Lock()
	history, ok := h.sessions[ev.BookID]
	if !ok {
		history = &MessageHistory{}
		h.sessions[ev.BookID] = history
	}
	h.mu.Unlock()
	history.add(ev)
}

// Finish closes the run of bookID and caches its history.
func (h *Hub) Finish(bookID string) {
	h.mu.Lock()
	history, ok := h.sessions[bookID]
	delete(h.sessions, bookID)
	h.mu.Unlock()
	if !ok {
		return
	}
	history.finish()
	h.cache.Set(bookID, history, cache.DefaultExpiration)
}

func (h *Hub) lookup(bookID string) (*MessageHistory, bool) {
	h.mu.Lock()
	history, ok := h.sessions[bookID]
	h.mu.Unlock()
	if ok {
		return history, true
	}
	if cached, found := h.cache.Get(bookID); found {
		return cached.(*MessageHistory), true
	}
	return nil, false
}

// History returns the events recorded for bookID.
func (h *Hub) History(bookID string) ([]generator.Event, bool) {
	history, ok := h.lookup(bookID)
	if !ok {
		return nil, false
	}
	return history.GetMessages(), true
}

// Subscribe returns the events so far and a channel of later ones. The
// channel is closed when the run finishes or cancel is called.
func (h *Hub) Subscribe(bookID string) ([]generator.Event, <-chan generator.Event, func(), bool) {
	history, ok := h.lookup(bookID)
	if !ok {
		return nil, nil, nil, false
	}
	messages, ch, cancel := history.subscribe()
	return messages, ch, cancel, true
}

package generator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/bookbot/llm"
	bookbot "github.com/opd-ai/bookbot/src"
	"github.com/opd-ai/bookbot/store"
)

var moduleTitleRe = regexp.MustCompile(`(?m)^Module title: (.+)$`)

const roadmapLabel = "roadmap"

// fakeClient answers roadmap and module prompts and records every call.
type fakeClient struct {
	mu      sync.Mutex
	calls   []string
	prompts map[string]string
	counts  map[string]int

	roadmap func(n int) (string, error)
	module  func(title string, n int) (string, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		prompts: map[string]string{},
		counts:  map[string]int{},
		roadmap: func(int) (string, error) { return roadmapJSON(10), nil },
		module: func(title string, n int) (string, error) {
			return fmt.Sprintf("# %s\n\nBody of %s, version %d.", title, title, n), nil
		},
	}
}

func (f *fakeClient) SendMessage(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	label := roadmapLabel
	if m := moduleTitleRe.FindStringSubmatch(user); m != nil {
		label = m[1]
	}
	f.mu.Lock()
	f.calls = append(f.calls, label)
	f.prompts[label] = user
	f.counts[label]++
	n := f.counts[label]
	f.mu.Unlock()

	if label == roadmapLabel {
		return f.roadmap(n)
	}
	return f.module(label, n)
}

func (f *fakeClient) Provider() llm.Provider { return llm.ProviderAnthropic }
func (f *fakeClient) Model() string          { return "claude-3-5-sonnet-latest" }

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func topic(i int) string { return fmt.Sprintf("Topic %02d", i) }

func roadmapJSON(n int) string {
	mods := make([]string, n)
	for i := range mods {
		mods[i] = fmt.Sprintf(`{"title":%q,"objectives":["understand %s"]}`, topic(i+1), topic(i+1))
	}
	return `{"title":"Concurrency in Go","modules":[` + strings.Join(mods, ",") + `]}`
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Update(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) levels(level Level) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Level == level {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	client *fakeClient
	store  *store.Store
	events *recorder
	sleeps []time.Duration
	orch   *Orchestrator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		client: newFakeClient(),
		store:  store.New(store.NewMemoryKV(), nil),
		events: &recorder{},
	}
	base := []Option{
		WithProgressor(h.events),
		WithRetryBackoff(time.Second, 4*time.Second),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	}
	h.orch = New(StaticClient(h.client), h.store, append(base, opts...)...)
	return h
}

func newBook() *bookbot.BookProject {
	return bookbot.NewProject("book-1", "", bookbot.BookSession{
		Goal:       "Learn Go concurrency",
		Complexity: bookbot.ComplexityIntermediate,
		Persona:    bookbot.PersonaFormal,
	}, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
}

// bookWithModules returns a book whose roadmap has n modules in the given states.
func bookWithModules(states ...bookbot.ModuleStatus) *bookbot.BookProject {
	p := newBook()
	rm, err := bookbot.ParseRoadmap(roadmapJSON(len(states)), 1)
	if err != nil {
		panic(err)
	}
	p.Roadmap = rm
	p.Modules = bookbot.ModulesFromRoadmap(rm)
	for i, st := range states {
		p.Modules[i].Status = st
		if st == bookbot.ModuleCompleted {
			p.Modules[i].Content = fmt.Sprintf("# %s\n\nEarlier text about %s.", topic(i+1), topic(i+1))
			p.Modules[i].WordCount = bookbot.CountWords(p.Modules[i].Content)
		}
		if st == bookbot.ModuleError {
			p.Modules[i].Error = "provider error"
		}
	}
	return p
}

func TestRunGeneratesWholeBook(t *testing.T) {
	h := newHarness(t)
	p := newBook()

	require.NoError(t, h.orch.Run(context.Background(), p))

	assert.Equal(t, bookbot.StatusCompleted, p.Status)
	assert.Equal(t, "Concurrency in Go", p.Title)
	require.Len(t, p.Modules, 10)
	expected := []string{roadmapLabel}
	for i := 1; i <= 10; i++ {
		expected = append(expected, topic(i))
		assert.Equal(t, bookbot.ModuleCompleted, p.Modules[i-1].Status)
	}
	assert.Equal(t, expected, h.client.Calls())
	assert.Contains(t, p.FinalBook, "Body of Topic 10, version 1.")
	assert.NotNil(t, p.CompletedAt)
	assert.Equal(t, "anthropic", p.Provider)
	assert.Len(t, h.events.levels(LevelDone), 1)

	stored, err := h.store.Book(context.Background(), "", p.ID)
	require.NoError(t, err)
	assert.Equal(t, bookbot.StatusCompleted, stored.Status)
	assert.Equal(t, p.FinalBook, stored.FinalBook)

	assert.Contains(t, h.client.prompts[topic(1)], "opening module")
	assert.Contains(t, h.client.prompts[topic(3)], "Body of Topic 02")
	assert.Contains(t, h.client.prompts[topic(3)], "Body of Topic 01")
	assert.NotContains(t, h.client.prompts[topic(4)], "Body of Topic 01")
}

func TestRunResumesAtFirstIncompleteModule(t *testing.T) {
	h := newHarness(t)
	p := bookWithModules(bookbot.ModuleCompleted, bookbot.ModuleCompleted, bookbot.ModuleError, bookbot.ModulePending)
	p.Status = bookbot.StatusError
	p.Error = "previous run failed"
	first := p.Modules[0].Content

	require.NoError(t, h.orch.Run(context.Background(), p))

	assert.Equal(t, []string{topic(3), topic(4)}, h.client.Calls())
	assert.Equal(t, first, p.Modules[0].Content)
	assert.Equal(t, bookbot.StatusCompleted, p.Status)
	assert.Empty(t, p.Error)
	assert.Contains(t, h.client.prompts[topic(3)], "Earlier text about Topic 02.")
}

func TestRunResumesGeneratingModuleAfterCrash(t *testing.T) {
	h := newHarness(t)
	p := bookWithModules(bookbot.ModuleCompleted, bookbot.ModuleGenerating, bookbot.ModulePending)
	p.Status = bookbot.StatusGeneratingContent

	require.NoError(t, h.orch.Run(context.Background(), p))
	assert.Equal(t, []string{topic(2), topic(3)}, h.client.Calls())
}

func TestPermanentModuleFailureCompletesWithGaps(t *testing.T) {
	h := newHarness(t, WithModuleAttempts(3))
	h.client.module = func(title string, n int) (string, error) {
		if title == topic(5) {
			return "", &llm.Error{Kind: llm.KindProvider, StatusCode: 503, Message: "overloaded"}
		}
		return "# " + title + "\n\ncontent", nil
	}
	p := newBook()

	require.NoError(t, h.orch.Run(context.Background(), p))

	assert.Equal(t, bookbot.StatusCompletedWithGaps, p.Status)
	assert.Equal(t, 3, h.client.counts[topic(5)])
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeps)
	completed := 0
	for _, m := range p.Modules {
		if m.Status == bookbot.ModuleCompleted {
			completed++
		}
	}
	assert.Equal(t, 9, completed)
	assert.Equal(t, bookbot.ModuleError, p.Modules[4].Status)
	assert.Contains(t, p.Modules[4].Error, "overloaded")
	assert.Contains(t, p.FinalBook, "Missing modules:** 5. Topic 05")
	assert.True(t, p.Exportable())
	assert.NotEmpty(t, h.events.levels(LevelWarning))

	// a later run only retries the gap
	h.client.module = func(title string, n int) (string, error) { return "# " + title + "\n\nfixed", nil }
	before := len(h.client.Calls())
	require.NoError(t, h.orch.Run(context.Background(), p))
	assert.Equal(t, []string{topic(5)}, h.client.Calls()[before:])
	assert.Equal(t, bookbot.StatusCompleted, p.Status)
}

func TestNonRetryableModuleErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.client.module = func(title string, n int) (string, error) {
		if title == topic(2) {
			return "", &llm.Error{Kind: llm.KindAuth, StatusCode: 401}
		}
		return "text", nil
	}
	p := newBook()
	require.NoError(t, h.orch.Run(context.Background(), p))
	assert.Equal(t, 1, h.client.counts[topic(2)])
	assert.Equal(t, bookbot.StatusCompletedWithGaps, p.Status)
}

func TestEmptyModuleIsRetried(t *testing.T) {
	h := newHarness(t)
	h.client.module = func(title string, n int) (string, error) {
		if n == 1 {
			return "   ", nil
		}
		return "text for " + title, nil
	}
	p := newBook()
	require.NoError(t, h.orch.Run(context.Background(), p))
	assert.Equal(t, bookbot.StatusCompleted, p.Status)
	assert.Equal(t, 2, h.client.counts[topic(1)])
	assert.Equal(t, 2, p.Modules[0].Attempts)
}

func TestRoadmapRetryThenFatal(t *testing.T) {
	h := newHarness(t, WithRoadmapAttempts(2))
	h.client.roadmap = func(int) (string, error) { return "Sorry, I can't produce JSON today.", nil }
	p := newBook()

	err := h.orch.Run(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, bookbot.ErrMalformedRoadmap)
	assert.Equal(t, 2, h.client.counts[roadmapLabel])
	assert.Equal(t, bookbot.StatusError, p.Status)
	assert.NotEmpty(t, p.Error)
	assert.Empty(t, p.Modules)
	assert.NotEmpty(t, h.events.levels(LevelError))

	// retrying an errored book without a roadmap restarts the roadmap stage
	h.client.roadmap = func(int) (string, error) { return roadmapJSON(10), nil }
	require.NoError(t, h.orch.Run(context.Background(), p))
	assert.Equal(t, bookbot.StatusCompleted, p.Status)
}

func TestShortRoadmapIsRetried(t *testing.T) {
	h := newHarness(t)
	h.client.roadmap = func(n int) (string, error) {
		if n == 1 {
			return roadmapJSON(6), nil
		}
		return roadmapJSON(12), nil
	}
	p := newBook()
	require.NoError(t, h.orch.Run(context.Background(), p))
	assert.Equal(t, 2, h.client.counts[roadmapLabel])
	assert.Len(t, p.Modules, 12)
}

func TestMissingCredentialFailsRun(t *testing.T) {
	st := store.New(store.NewMemoryKV(), nil)
	source := func(context.Context) (llm.Client, error) { return nil, llm.ErrNoCredential }
	orch := New(source, st)
	p := newBook()

	err := orch.Run(context.Background(), p)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, llm.ErrNoCredential)
	assert.Equal(t, bookbot.StatusError, p.Status)

	stored, err := st.Book(context.Background(), "", p.ID)
	require.NoError(t, err)
	assert.Equal(t, bookbot.StatusError, stored.Status)
}

func TestCancelPausesBeforeNextModule(t *testing.T) {
	h := newHarness(t)
	p := newBook()
	h.client.module = func(title string, n int) (string, error) {
		if title == topic(3) {
			assert.True(t, h.orch.Cancel(p.ID))
		}
		return "text for " + title, nil
	}

	err := h.orch.Run(context.Background(), p)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, p.Paused)
	assert.Equal(t, bookbot.StatusGeneratingContent, p.Status)
	assert.False(t, h.orch.Running(p.ID))

	stored, err := h.store.Book(context.Background(), "", p.ID)
	require.NoError(t, err)
	assert.True(t, stored.Paused)
	for i, m := range stored.Modules {
		assert.NotEqual(t, bookbot.ModuleGenerating, m.Status, "module %d", i+1)
	}
	assert.Equal(t, bookbot.ModuleCompleted, stored.Modules[1].Status)

	h.client.module = func(title string, n int) (string, error) { return "text for " + title, nil }
	before := len(h.client.Calls())
	require.NoError(t, h.orch.Run(context.Background(), p))
	resumed := h.client.Calls()[before:]
	require.NotEmpty(t, resumed)
	assert.NotContains(t, resumed, topic(1))
	assert.NotContains(t, resumed, topic(2))
	assert.Equal(t, topic(10), resumed[len(resumed)-1])
	assert.False(t, p.Paused)
	assert.Equal(t, bookbot.StatusCompleted, p.Status)
}

func TestContextCancellationReturnsModuleToPending(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.client.module = func(title string, n int) (string, error) {
		if title == topic(2) {
			cancel()
			return "", context.Canceled
		}
		return "text", nil
	}
	p := newBook()

	err := h.orch.Run(ctx, p)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, bookbot.ModuleCompleted, p.Modules[0].Status)
	assert.Equal(t, bookbot.ModulePending, p.Modules[1].Status)
	assert.Equal(t, 1, h.client.counts[topic(2)])
}

func TestSecondConcurrentRunIsRejected(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.client.roadmap = func(int) (string, error) {
		close(started)
		<-release
		return roadmapJSON(10), nil
	}
	p := newBook()

	done := make(chan error, 1)
	go func() { done <- h.orch.Run(context.Background(), p) }()
	<-started

	other := newBook()
	assert.ErrorIs(t, h.orch.Run(context.Background(), other), ErrAlreadyRunning)
	assert.True(t, h.orch.Running(p.ID))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.orch.Running(p.ID))
}

func TestBeginClaimsRunUntilReleased(t *testing.T) {
	h := newHarness(t)
	p := newBook()

	slot, err := h.orch.Begin(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, h.orch.Running(p.ID))
	_, err = h.orch.Begin(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, h.orch.Run(context.Background(), p), ErrAlreadyRunning)
	assert.Empty(t, h.client.Calls())

	slot.Release()
	assert.False(t, h.orch.Running(p.ID))

	next, err := h.orch.Begin(context.Background(), p.ID)
	require.NoError(t, err)
	slot.Release()
	assert.True(t, h.orch.Running(p.ID), "a stale release leaves the new claim alone")

	require.NoError(t, next.Run(p))
	assert.Equal(t, bookbot.StatusCompleted, p.Status)
	assert.False(t, h.orch.Running(p.ID))
}

func TestRegenerateModuleReplacesOnlyThatModule(t *testing.T) {
	h := newHarness(t)
	p := bookWithModules(bookbot.ModuleCompleted, bookbot.ModuleCompleted, bookbot.ModuleCompleted)
	p.Status = bookbot.StatusCompleted
	p.FinalBook = bookbot.AssembleFinalBook(p, time.Now())

	require.NoError(t, h.orch.RegenerateModule(context.Background(), p, 1))

	assert.Equal(t, []string{topic(2)}, h.client.Calls())
	assert.Equal(t, "# Topic 02\n\nBody of Topic 02, version 1.", p.Modules[1].Content)
	assert.Contains(t, p.Modules[0].Content, "Earlier text")
	assert.Equal(t, bookbot.StatusCompleted, p.Status)
	assert.Contains(t, p.FinalBook, "Body of Topic 02, version 1.")

	assert.ErrorIs(t, h.orch.RegenerateModule(context.Background(), p, 7), ErrInvalidModule)
}

func TestRegenerateModuleReportsFailure(t *testing.T) {
	h := newHarness(t, WithModuleAttempts(1))
	h.client.module = func(string, int) (string, error) {
		return "", &llm.Error{Kind: llm.KindRateLimit, StatusCode: 429}
	}
	p := bookWithModules(bookbot.ModuleCompleted, bookbot.ModuleCompleted)
	p.Status = bookbot.StatusCompleted

	before := p.Modules[0].Content

	err := h.orch.RegenerateModule(context.Background(), p, 0)
	assert.ErrorIs(t, err, ErrModuleFailed)
	assert.Equal(t, bookbot.StatusCompleted, p.Status)
	assert.Equal(t, bookbot.ModuleCompleted, p.Modules[0].Status)
	assert.Equal(t, before, p.Modules[0].Content)
	assert.Empty(t, p.Modules[0].Error)
	assert.Contains(t, p.FinalBook, "Earlier text about "+topic(1))
}

func TestRegenerateRoadmapStartsOver(t *testing.T) {
	h := newHarness(t)
	p := bookWithModules(bookbot.ModuleCompleted, bookbot.ModuleCompleted)
	p.Status = bookbot.StatusCompleted

	require.NoError(t, h.orch.RegenerateRoadmap(context.Background(), p))
	calls := h.client.Calls()
	require.Len(t, calls, 11)
	assert.Equal(t, roadmapLabel, calls[0])
	assert.Len(t, p.Modules, 10)
	assert.Equal(t, bookbot.StatusCompleted, p.Status)
}

type failingCheckpointer struct{}

func (failingCheckpointer) SaveBook(context.Context, *bookbot.BookProject) error {
	return errors.New("disk full")
}

func TestCheckpointFailureDoesNotAbort(t *testing.T) {
	client := newFakeClient()
	events := &recorder{}
	orch := New(StaticClient(client), failingCheckpointer{}, WithProgressor(events))
	p := newBook()

	require.NoError(t, orch.Run(context.Background(), p))
	assert.Equal(t, bookbot.StatusCompleted, p.Status)
	warnings := events.levels(LevelWarning)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0].Message, "disk full")
}

func TestBackoffDelay(t *testing.T) {
	o := New(nil, nil, WithRetryBackoff(time.Second, 5*time.Second))
	assert.Equal(t, time.Second, o.backoffDelay(1))
	assert.Equal(t, 2*time.Second, o.backoffDelay(2))
	assert.Equal(t, 4*time.Second, o.backoffDelay(3))
	assert.Equal(t, 5*time.Second, o.backoffDelay(4))
	assert.Equal(t, 5*time.Second, o.backoffDelay(10))

	o = New(nil, nil, WithRetryBackoff(0, 0))
	assert.Zero(t, o.backoffDelay(3))
}

func TestSettingsClient(t *testing.T) {
	settings := bookbot.DefaultSettings()
	load := func(context.Context) bookbot.APISettings { return settings }
	source := SettingsClient(load, llm.Config{Timeout: time.Second})

	_, err := source(context.Background())
	assert.ErrorIs(t, err, llm.ErrNoCredential)

	settings.SelectedProvider = "openai"
	settings.SelectedModel = "gpt-4o"
	settings.APIKeys = map[string]string{"openai": "sk-test"}
	client, err := source(context.Background())
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderOpenAI, client.Provider())
	assert.Equal(t, "gpt-4o", client.Model())
}

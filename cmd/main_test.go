package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/bookbot/generator"
	"github.com/opd-ai/bookbot/llm"
)

var moduleTitleRe = regexp.MustCompile(`(?m)^Module title: (.+)$`)

type fakeLLM struct{}

func (fakeLLM) SendMessage(_ context.Context, _, user string) (string, error) {
	if m := moduleTitleRe.FindStringSubmatch(user); m != nil {
		return fmt.Sprintf("# %s\n\n## Core Concepts\n\nSome words about %s.", m[1], m[1]), nil
	}
	var b strings.Builder
	b.WriteString(`{"title":"Go in Depth","modules":[`)
	for i := 1; i <= 10; i++ {
		if i > 1 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"title":"Topic %02d","objectives":["learn %d"]}`, i, i)
	}
	b.WriteString("]}")
	return b.String(), nil
}

func (fakeLLM) Provider() llm.Provider { return llm.ProviderAnthropic }
func (fakeLLM) Model() string          { return "claude-3-5-sonnet-latest" }

type cliTestEnv struct {
	base       string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(base, "data"))

	configPath := filepath.Join(base, "bookbot.yaml")
	yaml := fmt.Sprintf(`log:
  level: error
  format: json
store:
  backend: file
  dir: %s
export:
  dir: %s
  lock_path: %s
generation:
  retry_delay: 0s
  max_retry_delay: 0s
`, filepath.Join(base, "store"), filepath.Join(base, "exports"), filepath.Join(base, "export.lock"))
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o644))
	return &cliTestEnv{base: base, configPath: configPath}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cc := newCommandContext()
	cc.source = generator.StaticClient(fakeLLM{})

	root := newRootCommand(cc)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliTestEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, out)
	return out
}

var createdRe = regexp.MustCompile(`Book ([0-9a-f-]{36}) created`)

func (e *cliTestEnv) generate(t *testing.T, args ...string) string {
	t.Helper()
	out := e.mustRun(t, append([]string{"generate", "Learn Go concurrency"}, args...)...)
	m := createdRe.FindStringSubmatch(out)
	require.NotNil(t, m, out)
	return m[1]
}

func TestGenerateListShow(t *testing.T) {
	env := setupCLITestEnv(t)
	modules := filepath.Join(env.base, "modules")
	id := env.generate(t, "--audience", "backend developers", "--out", modules)

	_, err := os.Stat(filepath.Join(modules, "10_Module", "Module.md"))
	require.NoError(t, err)

	out := env.mustRun(t, "list")
	assert.Contains(t, out, id[:8])
	assert.Contains(t, out, "Go in Depth")
	assert.Contains(t, out, "100%")

	out = env.mustRun(t, "show", id[:8], "--outline")
	assert.Contains(t, out, "Topic 07")
	assert.Contains(t, out, "Core Concepts")
	assert.Contains(t, out, "anthropic / claude-3-5-sonnet-latest")

	out = env.mustRun(t, "resume", id)
	assert.Contains(t, out, "already complete")
}

func TestGenerateRejectsInvalidSession(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.run(t, "generate", "Learn", "--persona", "pirate")
	assert.Error(t, err)

	_, err = env.run(t, "show", "missing")
	assert.Error(t, err)
}

func TestExportFormats(t *testing.T) {
	env := setupCLITestEnv(t)
	id := env.generate(t)

	out := env.mustRun(t, "export", id, "--format", "md,html,pdf", "--modules")
	paths := strings.Fields(out)
	require.Len(t, paths, 4)
	for _, p := range paths {
		assert.True(t, strings.HasPrefix(p, filepath.Join(env.base, "exports")), p)
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	md, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Topic 03")

	target := filepath.Join(env.base, "again")
	out = env.mustRun(t, "export", "--from-dir", paths[3], "-f", "md", "-o", target)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), target))

	_, err = env.run(t, "export")
	assert.Error(t, err)
	_, err = env.run(t, "export", id, "-f", "docx")
	assert.Error(t, err)
}

func TestRegenerateAndDelete(t *testing.T) {
	env := setupCLITestEnv(t)
	id := env.generate(t)

	_, err := env.run(t, "regenerate", id)
	assert.Error(t, err)
	_, err = env.run(t, "regenerate", id, "--module", "11")
	assert.Error(t, err)

	out := env.mustRun(t, "regenerate", id, "--module", "2")
	assert.Contains(t, out, "Generating module 2 of 10")
	assert.Contains(t, out, "Go in Depth: completed")

	out = env.mustRun(t, "regenerate", id, "--roadmap")
	assert.Contains(t, out, "Planning the roadmap")

	env.mustRun(t, "delete", id)
	out = env.mustRun(t, "list")
	assert.Contains(t, out, "No books yet")
}

func TestSettings(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.mustRun(t, "settings", "set", "--provider", "openai", "--key", "sk-1234567890", "--language", "German")
	assert.Contains(t, out, "gpt-4o")
	assert.Contains(t, out, "****7890")
	assert.NotContains(t, out, "sk-1234567890")
	assert.Contains(t, out, "German")

	_, err := env.run(t, "settings", "set", "--model", "claude-3-5-sonnet-latest")
	assert.Error(t, err)
	_, err = env.run(t, "settings", "set")
	assert.Error(t, err)

	out = env.mustRun(t, "settings", "reset")
	assert.Contains(t, out, "Keys:      none")

	out = env.mustRun(t, "providers")
	assert.Contains(t, out, "openrouter")
}

func TestBackupRoundTrip(t *testing.T) {
	env := setupCLITestEnv(t)
	id := env.generate(t, "--user", "alice")
	file := filepath.Join(env.base, "backup.json")

	env.mustRun(t, "backup", "export", "-o", file, "-u", "alice")
	out := env.mustRun(t, "backup", "import", file, "--mode", "replace", "-u", "bob")
	assert.Contains(t, out, "Imported 1 books")

	out = env.mustRun(t, "list", "-u", "bob")
	assert.Contains(t, out, id[:8])

	_, err := env.run(t, "backup", "import", file, "--mode", "upsert")
	assert.Error(t, err)
}

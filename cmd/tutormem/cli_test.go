package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dotsetgreg/tutormem/pkg/agent"
	"github.com/dotsetgreg/tutormem/pkg/config"
	"github.com/dotsetgreg/tutormem/pkg/memory"
	"github.com/spf13/cobra"
)

func runRootCommandForTest(stdin string, args ...string) (string, error) {
	root := buildRootCommand(false)
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Memory.DBPath = filepath.Join(dir, "teaching_memory.db")
	cfg.Memory.SnapshotPath = filepath.Join(dir, "teaching_memory.json")
	cfg.Logging.Level = "error"
	path := filepath.Join(dir, "config.json")
	if err := config.SaveConfig(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return path
}

func decodeOutput(t *testing.T, out string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := runRootCommandForTest("", "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, want := range []string{"course", "section", "progress", "interaction", "topic", "summary", "review", "shell", "migrate"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "docs") {
		t.Fatalf("docs command should not be listed:\n%s", out)
	}
}

func TestRootRequiresSubcommand(t *testing.T) {
	if _, err := runRootCommandForTest(""); err == nil {
		t.Fatalf("expected error without subcommand")
	}
}

func TestCLI_CourseLifecycle(t *testing.T) {
	cfgPath := writeTestConfig(t)
	outline := `{"title":"Fractions","description":"Parts of a whole","sections":[{"id":"s1","title":"Halves","key_points":["numerator"]},{"id":"s2","title":"Quarters"}]}`

	out, err := runRootCommandForTest(outline, "--config", cfgPath, "course", "add", "--topic", "fractions", "--file", "-", "--with-content")
	if err != nil {
		t.Fatalf("course add: %v\n%s", err, out)
	}
	var added struct {
		CourseID int64 `json:"course_id"`
	}
	decodeOutput(t, out, &added)
	if added.CourseID <= 0 {
		t.Fatalf("expected course id, got %s", out)
	}

	out, err = runRootCommandForTest("", "--config", cfgPath, "course", "structure", "1")
	if err != nil {
		t.Fatalf("course structure: %v\n%s", err, out)
	}
	var structure memory.CourseStructure
	decodeOutput(t, out, &structure)
	if structure.TotalSections != 2 || structure.SectionsWithContent != 2 {
		t.Fatalf("unexpected structure %s", out)
	}

	out, err = runRootCommandForTest("", "--config", cfgPath, "course", "search", "fraction")
	if err != nil {
		t.Fatalf("course search: %v\n%s", err, out)
	}
	var found []memory.CourseSummary
	decodeOutput(t, out, &found)
	if len(found) != 1 || found[0].Title != "Fractions" {
		t.Fatalf("unexpected search result %s", out)
	}

	if _, err := runRootCommandForTest("", "--config", cfgPath, "course", "show", "99"); err == nil {
		t.Fatalf("expected not found error")
	}
	if _, err := runRootCommandForTest("", "--config", cfgPath, "course", "show", "abc"); err == nil {
		t.Fatalf("expected invalid id error")
	}
}

func TestCLI_TopicInteractionAndProgress(t *testing.T) {
	cfgPath := writeTestConfig(t)
	base := []string{"--config", cfgPath}

	if out, err := runRootCommandForTest("", append(base, "topic", "set", "--client", "u1", "--session", "s1", "math", "addition")...); err != nil {
		t.Fatalf("topic set: %v\n%s", err, out)
	}

	out, err := runRootCommandForTest("", append(base, "interaction", "record", "--client", "u1", "--session", "s1", "--topic", "math addition", "--content", "I love painting")...)
	if err != nil {
		t.Fatalf("interaction record: %v\n%s", err, out)
	}
	var recorded struct {
		ID        int64   `json:"interaction_id"`
		Relevance float64 `json:"topic_relevance"`
	}
	decodeOutput(t, out, &recorded)
	if recorded.ID <= 0 || recorded.Relevance != 0.1 {
		t.Fatalf("unexpected record output %s", out)
	}

	out, err = runRootCommandForTest("", append(base, "topic", "show", "--client", "u1", "--session", "s1")...)
	if err != nil {
		t.Fatalf("topic show: %v\n%s", err, out)
	}
	var seg memory.TopicSegment
	decodeOutput(t, out, &seg)
	if seg.Topic != "math addition" || seg.TotalInteractions != 1 || seg.DeviationCount != 1 {
		t.Fatalf("unexpected segment %s", out)
	}

	out, err = runRootCommandForTest("", append(base, "progress", "update", "--client", "u1", "--course", "1", "--section", "s1", "--message", "I don't understand")...)
	if err != nil {
		t.Fatalf("progress update: %v\n%s", err, out)
	}
	out, err = runRootCommandForTest("", append(base, "review", "--client", "u1")...)
	if err != nil {
		t.Fatalf("review: %v\n%s", err, out)
	}
	// No stored section content, so nothing to suggest.
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty review list, got %s", out)
	}

	out, err = runRootCommandForTest("", append(base, "summary", "--client", "u1")...)
	if err != nil {
		t.Fatalf("summary: %v\n%s", err, out)
	}
	var summary memory.MemorySummary
	decodeOutput(t, out, &summary)
	if summary.TotalInteractions != 1 || summary.AverageScore != 0.3 {
		t.Fatalf("unexpected summary %s", out)
	}
}

func TestCLI_Analyze(t *testing.T) {
	out, err := runRootCommandForTest("", "analyze", "relevance", "math addition", "what is addition")
	if err != nil {
		t.Fatalf("analyze relevance: %v", err)
	}
	var rel struct {
		Relevance float64 `json:"topic_relevance"`
	}
	decodeOutput(t, out, &rel)
	if rel.Relevance != 0.5 {
		t.Fatalf("expected 0.5, got %s", out)
	}

	out, err = runRootCommandForTest("", "analyze", "keywords", "the basics of adding fractions")
	if err != nil {
		t.Fatalf("analyze keywords: %v", err)
	}
	var kws []string
	decodeOutput(t, out, &kws)
	if len(kws) != 3 || kws[0] != "adding" {
		t.Fatalf("unexpected keywords %s", out)
	}
}

func TestCLI_MigrateToSnapshot(t *testing.T) {
	cfgPath := writeTestConfig(t)
	base := []string{"--config", cfgPath}
	if _, err := runRootCommandForTest(`{"title":"Fractions"}`, append(base, "course", "add", "--topic", "fractions", "--file", "-")...); err != nil {
		t.Fatalf("course add: %v", err)
	}

	snapshot := filepath.Join(t.TempDir(), "export.json")
	out, err := runRootCommandForTest("", append(base, "migrate", "--to", "memory", "--to-path", snapshot)...)
	if err != nil {
		t.Fatalf("migrate: %v\n%s", err, out)
	}
	var report memory.MigrationReport
	decodeOutput(t, out, &report)
	if !report.Match || report.Destination.Courses != 1 || report.DestinationBackend != "memory" {
		t.Fatalf("unexpected report %s", out)
	}
	if _, err := os.Stat(snapshot); err != nil {
		t.Fatalf("expected snapshot file: %v", err)
	}

	out, err = runRootCommandForTest("", append(base, "migrate", "--to", "memory", "--to-path", snapshot, "--check")...)
	if err != nil {
		t.Fatalf("migrate check: %v\n%s", err, out)
	}
}

type scriptedReader struct {
	lines   []string
	prompts []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) SetPrompt(prompt string) {
	r.prompts = append(r.prompts, prompt)
}

func TestShellSession_Run(t *testing.T) {
	store, err := memory.NewMemoryStore("")
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	mem, err := memory.NewManager(store, memory.Config{})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer mem.Close()

	out := &bytes.Buffer{}
	sh := &shellSession{
		builder:  agent.NewTurnContextBuilder(mem, agent.BuilderConfig{}),
		clientID: "u1",
		session:  "s1",
		out:      out,
	}
	rl := &scriptedReader{lines: []string{
		"/topic math addition",
		"what is addition",
		"It's combining numbers.",
		"/summary",
		"/bogus",
	}}
	if err := sh.run(context.Background(), rl); err != nil {
		t.Fatalf("run: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		`Topic set to "math addition"`,
		"Current topic: math addition",
		"[Learner message]\nwhat is addition",
		`"total_interactions": 1`,
		`unknown command "bogus"`,
		"Goodbye!",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("shell output missing %q:\n%s", want, text)
		}
	}
	if !containsString(rl.prompts, tutorPrompt) {
		t.Fatalf("expected tutor prompt, got %v", rl.prompts)
	}

	history, err := mem.GetTeachingHistory(context.Background(), "u1", "s1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Response != "It's combining numbers." {
		t.Fatalf("unexpected history %#v", history)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestDocsGenerate_RewritesReferences(t *testing.T) {
	dir := t.TempDir()
	factory := func() *cobra.Command { return buildRootCommand(false) }
	if err := generateDocumentation(factory, dir); err != nil {
		t.Fatalf("generate docs: %v", err)
	}
	stale := filepath.Join(dir, "reference", "cli", "tutormem_removed.md")
	if err := os.WriteFile(stale, []byte("# old\n"), 0o644); err != nil {
		t.Fatalf("write stale page: %v", err)
	}
	if err := generateDocumentation(factory, dir); err != nil {
		t.Fatalf("regenerate docs: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale cli page removed, stat err=%v", err)
	}

	for _, name := range []string{"tutormem.md", "tutormem_course_add.md"} {
		if _, err := os.Stat(filepath.Join(dir, "reference", "cli", name)); err != nil {
			t.Fatalf("expected cli page %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "reference", "cli", "tutormem_docs.md")); !os.IsNotExist(err) {
		t.Fatalf("hidden docs command should not get a page, stat err=%v", err)
	}

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dir, "reference", name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		return string(data)
	}
	if ref := read("metrics.md"); !strings.Contains(ref, "tutormem_memory_operations_total") {
		t.Fatalf("metrics reference missing operations counter:\n%s", ref)
	}
	configRef := read("config.md")
	for _, want := range []string{
		"| `memory.backend` | `string` | `TUTORMEM_MEMORY_BACKEND` | `sqlite` |",
		"| `memory.deviation_threshold` | `float64` | `TUTORMEM_MEMORY_DEVIATION_THRESHOLD` | `0.3` |",
		"| `metrics.enabled` | `bool` | `TUTORMEM_METRICS_ENABLED` | `false` |",
	} {
		if !strings.Contains(configRef, want) {
			t.Fatalf("config reference missing %q:\n%s", want, configRef)
		}
	}
	if ref := read("interactions.md"); !strings.Contains(ref, "`assessment`") {
		t.Fatalf("interaction reference missing block kinds:\n%s", ref)
	}
}

package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/diagnostics"
	"github.com/Ramsey-B/clover/pkg/kafka"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

const libraryManifest = `
entities:
  author:
    source: authors.json
    primaryKey: id
    root: true
    children:
      - entity: book
        alias: books
        foreignKey: authorId
        orderBy: { field: title, direction: asc }
  book:
    source: books.json
    primaryKey: id
`

type workspace struct {
	manifest string
	raw      string
	out      string
}

func newWorkspace(t *testing.T, manifestYAML string, files map[string]string) *workspace {
	t.Helper()
	dir := t.TempDir()

	ws := &workspace{
		manifest: filepath.Join(dir, "manifest.yaml"),
		raw:      filepath.Join(dir, "raw"),
		out:      filepath.Join(dir, "out"),
	}
	require.NoError(t, os.WriteFile(ws.manifest, []byte(manifestYAML), 0o644))
	require.NoError(t, os.MkdirAll(ws.raw, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(ws.raw, name), []byte(content), 0o644))
	}
	return ws
}

func (ws *workspace) options() Options {
	return Options{ManifestPath: ws.manifest, RawRoot: ws.raw, OutputRoot: ws.out}
}

func newTestCompiler(cfg Config) *Compiler {
	c := NewCompiler(testLogger(), cfg)
	c.newID = func() string { return "run-1" }
	return c
}

func readTree(t *testing.T, root string) map[string]any {
	t.Helper()
	out := make(map[string]any)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[filepath.ToSlash(rel)] = v
		return nil
	})
	require.NoError(t, err)
	return out
}

func kinds(warnings []diagnostics.Warning) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.Kind.String())
	}
	return out
}

func TestCompile_PublishesNestedDocuments(t *testing.T) {
	ws := newWorkspace(t, libraryManifest, map[string]string{
		"authors.json": `[{"id": 1, "name": "A"}, {"id": 2, "name": "B"}]`,
		"books.json": `[
			{"id": 11, "authorId": "1", "title": "Y"},
			{"id": 10, "authorId": 1, "title": "X"},
			{"id": 12, "authorId": 99, "title": "Z"}
		]`,
	})

	result, err := newTestCompiler(Config{}).Compile(context.Background(), ws.options())
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode())
	assert.Empty(t, result.Diagnostics, "orphans are not diagnostics")
	assert.True(t, result.Published)
	assert.Equal(t, 2, result.Compiled)
	assert.NotEmpty(t, result.Fingerprint)

	for _, stage := range []string{StageManifest, StageLoad, StageIndex, StageAssemble, StageWrite, StagePromote} {
		_, ran := result.Timing(stage)
		assert.True(t, ran, stage)
	}

	want := map[string]any{
		"author/1.json": map[string]any{
			"id":   float64(1),
			"name": "A",
			"books": []any{
				map[string]any{"id": float64(10), "authorId": float64(1), "title": "X"},
				map[string]any{"id": float64(11), "authorId": "1", "title": "Y"},
			},
		},
		"author/2.json": map[string]any{"id": float64(2), "name": "B", "books": []any{}},
	}
	if diff := cmp.Diff(want, readTree(t, ws.out)); diff != "" {
		t.Errorf("published tree mismatch (-want +got):\n%s", diff)
	}

	matches, err := filepath.Glob(ws.out + ".*")
	require.NoError(t, err)
	assert.Empty(t, matches, "no staging or previous root is left behind")
}

func TestCompile_DuplicateKeyKeepsPreviousOutput(t *testing.T) {
	ws := newWorkspace(t, libraryManifest, map[string]string{
		"authors.json": `[{"id": 1, "name": "A"}]`,
		"books.json":   `[]`,
	})

	c := newTestCompiler(Config{})
	first, err := c.Compile(context.Background(), ws.options())
	require.NoError(t, err)
	require.True(t, first.Published)
	before := readTree(t, ws.out)

	require.NoError(t, os.WriteFile(filepath.Join(ws.raw, "authors.json"), []byte(`[{"id": 1, "name": "A2"}, {"id": "1", "name": "dup"}]`), 0o644))

	result, err := c.Compile(context.Background(), ws.options())
	require.NoError(t, err)

	assert.Equal(t, 1, result.ExitCode())
	assert.False(t, result.Published)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, diagnostics.DuplicateKey, result.Diagnostics[0].Kind)
	assert.Equal(t, "$[1].id", result.Diagnostics[0].Location)
	assert.Equal(t, 1, result.Summary.Errors)

	_, assembled := result.Timing(StageAssemble)
	assert.False(t, assembled, "the pipeline stops after the index stage")
	assert.Equal(t, before, readTree(t, ws.out))
}

func TestCompile_InvalidManifest(t *testing.T) {
	ws := newWorkspace(t, `
entities:
  author:
    primaryKey: id
    root: true
    children:
      - { entity: ghost, alias: ghosts, foreignKey: authorId }
`, nil)

	result, err := newTestCompiler(Config{}).Compile(context.Background(), ws.options())
	require.NoError(t, err)

	assert.Equal(t, 1, result.ExitCode())
	assert.Equal(t, []string{"ManifestInvalid"}, kinds(result.Diagnostics))
	assert.Contains(t, result.Diagnostics[0].Message, `"ghost"`)
	_, loaded := result.Timing(StageLoad)
	assert.False(t, loaded)
	assert.NoDirExists(t, ws.out)
}

func TestCompile_MissingManifest(t *testing.T) {
	ws := newWorkspace(t, libraryManifest, nil)
	opts := ws.options()
	opts.ManifestPath = filepath.Join(ws.raw, "missing.yaml")

	result, err := newTestCompiler(Config{}).Compile(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"ManifestInvalid"}, kinds(result.Diagnostics))
}

func TestCompile_DryRun(t *testing.T) {
	ws := newWorkspace(t, libraryManifest, map[string]string{
		"authors.json": `[{"id": 1}]`,
		"books.json":   `[{"id": 10, "title": "X"}]`,
	})
	opts := ws.options()
	opts.DryRun = true
	opts.OutputRoot = ""

	result, err := newTestCompiler(Config{}).Compile(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode())
	assert.Equal(t, []string{"MissingForeignKey"}, kinds(result.Diagnostics))
	assert.Equal(t, 1, result.Compiled)
	assert.False(t, result.Published)
	_, wrote := result.Timing(StageWrite)
	assert.False(t, wrote)
	assert.NoDirExists(t, ws.out)
}

func TestCompile_MaxDepthOption(t *testing.T) {
	ws := newWorkspace(t, libraryManifest, map[string]string{
		"authors.json": `[{"id": 1}]`,
		"books.json":   `[{"id": 10, "authorId": 1, "title": "X"}]`,
	})
	opts := ws.options()
	zero := 0
	opts.MaxDepth = &zero

	result, err := newTestCompiler(Config{DefaultMaxDepth: intPtr(5)}).Compile(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode())
	assert.Equal(t, []string{"MaxDepthExceeded"}, kinds(result.Diagnostics))
	assert.Equal(t, map[string]any{"author/1.json": map[string]any{"id": float64(1)}}, readTree(t, ws.out))
}

func intPtr(v int) *int { return &v }

func TestCompile_ConfiguredZeroMaxDepth(t *testing.T) {
	ws := newWorkspace(t, libraryManifest, map[string]string{
		"authors.json": `[{"id": 1}]`,
		"books.json":   `[{"id": 10, "authorId": 1, "title": "X"}]`,
	})

	result, err := newTestCompiler(Config{DefaultMaxDepth: intPtr(0)}).Compile(context.Background(), ws.options())
	require.NoError(t, err)

	assert.Equal(t, []string{"MaxDepthExceeded"}, kinds(result.Diagnostics), "zero is honored, not replaced by the default")
	assert.Equal(t, map[string]any{"author/1.json": map[string]any{"id": float64(1)}}, readTree(t, ws.out))
}

func TestCompile_Cancelled(t *testing.T) {
	ws := newWorkspace(t, libraryManifest, map[string]string{
		"authors.json": `[{"id": 1}]`,
		"books.json":   `[]`,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newTestCompiler(Config{}).Compile(ctx, ws.options())
	require.NoError(t, err)

	assert.Equal(t, 1, result.ExitCode())
	assert.Equal(t, []string{"Cancelled"}, kinds(result.Diagnostics))
	assert.False(t, result.Published)
	assert.NoDirExists(t, ws.out)
}

func TestCompile_RequiresOutputRoot(t *testing.T) {
	ws := newWorkspace(t, libraryManifest, nil)
	opts := ws.options()
	opts.OutputRoot = ""

	_, err := newTestCompiler(Config{}).Compile(context.Background(), opts)
	assert.Error(t, err)
}

type recordingNotifier struct {
	events []*kafka.CompileEvent
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, event *kafka.CompileEvent) error {
	n.events = append(n.events, event)
	return n.err
}

type recordingLocker struct {
	keys []string
}

func (l *recordingLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	l.keys = append(l.keys, key)
	return fn()
}

func TestCompile_NotifiesAfterPublish(t *testing.T) {
	ws := newWorkspace(t, libraryManifest, map[string]string{
		"authors.json": `[{"id": 1}, {"id": 2}]`,
		"books.json":   `[]`,
	})
	notifier := &recordingNotifier{}
	locker := &recordingLocker{}

	result, err := newTestCompiler(Config{Notifier: notifier, Locker: locker}).Compile(context.Background(), ws.options())
	require.NoError(t, err)
	require.True(t, result.Published)

	require.Len(t, notifier.events, 1)
	event := notifier.events[0]
	assert.Equal(t, kafka.EventCompileCompleted, event.Type)
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, 2, event.Documents)
	assert.Equal(t, map[string]int{"author": 2}, event.Entities)
	assert.Equal(t, result.Fingerprint, event.Fingerprint)
	assert.Equal(t, []string{result.OutputRoot}, locker.keys)

	_, notified := result.Timing(StageNotify)
	assert.True(t, notified)
}

func TestCompile_NotificationFailureIsAWarning(t *testing.T) {
	ws := newWorkspace(t, libraryManifest, map[string]string{
		"authors.json": `[{"id": 1}]`,
		"books.json":   `[]`,
	})
	notifier := &recordingNotifier{err: errors.New("broker down")}

	result, err := newTestCompiler(Config{Notifier: notifier}).Compile(context.Background(), ws.options())
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode())
	assert.True(t, result.Published)
	require.Equal(t, []string{"NotificationFailed"}, kinds(result.Diagnostics))
	assert.True(t, strings.Contains(result.Diagnostics[0].Message, "broker down"))
}

func TestCompile_NoNotificationWithoutPublish(t *testing.T) {
	ws := newWorkspace(t, libraryManifest, map[string]string{
		"authors.json": `[{"id": 1}, {"id": 1}]`,
		"books.json":   `[]`,
	})
	notifier := &recordingNotifier{}

	result, err := newTestCompiler(Config{Notifier: notifier}).Compile(context.Background(), ws.options())
	require.NoError(t, err)

	assert.Equal(t, 1, result.ExitCode())
	assert.Empty(t, notifier.events)
}

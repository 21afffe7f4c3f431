package output

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/assembler"
	"github.com/Ramsey-B/clover/pkg/diagnostics"
	"github.com/Ramsey-B/clover/pkg/keys"
	"github.com/Ramsey-B/clover/pkg/manifest"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func parseManifest(t *testing.T, yaml string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(yaml))
	require.NoError(t, err)
	return m
}

func doc(entity string, pk any, payload map[string]any) assembler.CompiledDocument {
	return assembler.CompiledDocument{
		Entity:     entity,
		PrimaryKey: keys.MustCanonicalize(pk),
		Payload:    payload,
	}
}

func newWriter(t *testing.T, root string, locker Locker) *Writer {
	t.Helper()
	w, err := NewWriter(testLogger(), Config{OutputRoot: root, RunID: "run1", Locker: locker})
	require.NoError(t, err)
	return w
}

// tree returns every file under root relative to root, with its contents
func tree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

const authorManifest = `
buildInfo: _build.json
entities:
  author:
    source: authors.json
    primaryKey: id
    root: true
    blobPath: "authors/{{ row.country }}/{{ pk }}.json"
    indexes:
      - { name: by-tag, field: tags, path: "indexes/{{ entity }}-{{ name }}.json" }
`

func TestWriter_WriteAndPromote(t *testing.T) {
	m := parseManifest(t, authorManifest)
	root := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stale.json"), []byte(`{}`), 0o644))

	docs := []assembler.CompiledDocument{
		doc("author", 1, map[string]any{"id": json.Number("1"), "country": "us", "tags": []any{"sf", "poetry", "sf"}, "note": "<b>&</b>"}),
		doc("author", "a-2", map[string]any{"id": "a-2", "country": "uk", "tags": []any{"sf", map[string]any{"x": 1}}}),
		doc("author", 3, map[string]any{"id": json.Number("3"), "country": "us"}),
	}

	w := newWriter(t, root, nil)
	sink := diagnostics.NewSink(testLogger())
	staged, err := w.Write(context.Background(), m, docs, sink)
	require.NoError(t, err)
	require.NotNil(t, staged)
	assert.Empty(t, sink.Warnings())

	assert.Equal(t, 3, staged.Documents)
	assert.Equal(t, map[string]int{"author": 3}, staged.ByEntity)
	assert.Equal(t, []string{"indexes/author-by-tag.json"}, staged.Indexes)
	assert.DirExists(t, w.StagingRoot())
	assert.FileExists(t, filepath.Join(root, "stale.json"), "the output root is untouched until promotion")

	require.NoError(t, w.Promote(context.Background(), staged))

	files := tree(t, root)
	assert.Len(t, files, 5)
	assert.NotContains(t, files, "stale.json")
	assert.Contains(t, files["authors/us/1.json"], `"note": "<b>&</b>"`)
	assert.Contains(t, files["authors/us/1.json"], `"id": 1,`)
	assert.Contains(t, files, "authors/uk/a-2.json")
	assert.Contains(t, files, "authors/us/3.json")
	assert.NoDirExists(t, w.StagingRoot())

	var raw struct {
		Name    string           `json:"name"`
		Entries map[string][]any `json:"entries"`
	}
	readJSON(t, filepath.Join(root, "indexes/author-by-tag.json"), &raw)
	assert.Equal(t, "by-tag", raw.Name)
	assert.Equal(t, map[string][]any{
		"sf":     {float64(1), "a-2"},
		"poetry": {float64(1)},
	}, raw.Entries)

	var info BuildInfo
	readJSON(t, filepath.Join(root, "_build.json"), &info)
	assert.Equal(t, "run1", info.RunID)
	assert.Equal(t, 3, info.Documents)
	assert.Len(t, info.Files, 3)
	assert.Equal(t, staged.Fingerprint, info.Fingerprint)
}

func TestWriter_PathProblems(t *testing.T) {
	t.Run("collision", func(t *testing.T) {
		m := parseManifest(t, `
entities:
  author:
    primaryKey: id
    root: true
    blobPath: "authors/{{ row.country }}.json"
`)
		root := filepath.Join(t.TempDir(), "out")
		w := newWriter(t, root, nil)
		sink := diagnostics.NewSink(testLogger())

		staged, err := w.Write(context.Background(), m, []assembler.CompiledDocument{
			doc("author", 1, map[string]any{"country": "us"}),
			doc("author", 2, map[string]any{"country": "us"}),
		}, sink)
		require.NoError(t, err)
		assert.Nil(t, staged)

		collisions := sink.Filter(diagnostics.BlobPathCollision)
		require.Len(t, collisions, 1)
		assert.Contains(t, collisions[0].Message, "already used by author 1")
		assert.NoDirExists(t, w.StagingRoot())
		assert.NoDirExists(t, root)
	})

	t.Run("invalid", func(t *testing.T) {
		m := parseManifest(t, `
entities:
  author:
    primaryKey: id
    root: true
    blobPath: "{{ row.dir }}/{{ pk }}.json"
`)
		w := newWriter(t, filepath.Join(t.TempDir(), "out"), nil)
		sink := diagnostics.NewSink(testLogger())

		staged, err := w.Write(context.Background(), m, []assembler.CompiledDocument{
			doc("author", 1, map[string]any{"dir": "../.."}),
			doc("author", 2, map[string]any{"dir": "/etc"}),
			doc("author", 3, map[string]any{}),
			doc("author", 4, map[string]any{"dir": "ok"}),
		}, sink)
		require.NoError(t, err)
		assert.Nil(t, staged)
		assert.Len(t, sink.Filter(diagnostics.BlobPathInvalid), 3)
	})

	t.Run("build info collides with a document", func(t *testing.T) {
		m := parseManifest(t, `
buildInfo: author/1.json
entities:
  author:
    primaryKey: id
    root: true
`)
		w := newWriter(t, filepath.Join(t.TempDir(), "out"), nil)
		sink := diagnostics.NewSink(testLogger())

		staged, err := w.Write(context.Background(), m, []assembler.CompiledDocument{doc("author", 1, map[string]any{})}, sink)
		require.NoError(t, err)
		assert.Nil(t, staged)
		assert.Len(t, sink.Filter(diagnostics.BlobPathCollision), 1)
	})
}

func TestWriter_WriteFailureLeavesOutputUntouched(t *testing.T) {
	m := parseManifest(t, `
entities:
  author:
    primaryKey: id
    root: true
    blobPath: "{{ row.path }}"
`)
	root := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.json"), []byte(`{"v":1}`), 0o644))
	before := tree(t, root)

	w := newWriter(t, root, nil)
	sink := diagnostics.NewSink(testLogger())
	staged, err := w.Write(context.Background(), m, []assembler.CompiledDocument{
		doc("author", 1, map[string]any{"path": "a.json"}),
		doc("author", 2, map[string]any{"path": "a.json/b.json"}),
	}, sink)
	require.NoError(t, err)
	assert.Nil(t, staged)

	failures := sink.Filter(diagnostics.OutputWriteFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, "a.json/b.json", failures[0].Location)
	assert.NoDirExists(t, w.StagingRoot())
	assert.Equal(t, before, tree(t, root))
}

func TestWriter_PromoteCancelled(t *testing.T) {
	m := parseManifest(t, `
entities:
  author:
    primaryKey: id
    root: true
`)
	root := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.json"), []byte(`{"v":1}`), 0o644))
	before := tree(t, root)

	w := newWriter(t, root, nil)
	staged, err := w.Write(context.Background(), m, []assembler.CompiledDocument{doc("author", 1, map[string]any{})}, diagnostics.NewSink(testLogger()))
	require.NoError(t, err)
	require.NotNil(t, staged)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, w.Promote(ctx, staged), context.Canceled)
	assert.Equal(t, before, tree(t, root), "the previous output is byte-identical")
	assert.NoDirExists(t, w.StagingRoot())
}

type recordingLocker struct {
	keys []string
}

func (l *recordingLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	l.keys = append(l.keys, key)
	return fn()
}

func TestWriter_PromoteWithLock(t *testing.T) {
	m := parseManifest(t, `
entities:
  author:
    primaryKey: id
    root: true
`)
	root := filepath.Join(t.TempDir(), "nested", "out")
	locker := &recordingLocker{}
	w := newWriter(t, root, locker)

	staged, err := w.Write(context.Background(), m, []assembler.CompiledDocument{doc("author", 1, map[string]any{"id": json.Number("1")})}, diagnostics.NewSink(testLogger()))
	require.NoError(t, err)
	require.NoError(t, w.Promote(context.Background(), staged))

	assert.Equal(t, []string{w.OutputRoot()}, locker.keys)
	assert.FileExists(t, filepath.Join(root, "author", "1.json"))
	assert.ErrorIs(t, w.Promote(context.Background(), nil), ErrNothingStaged)
}

func TestCleanBlobPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  error
	}{
		{in: "a/b.json", want: "a/b.json"},
		{in: "./a//b.json", want: "a/b.json"},
		{in: "a/../b.json", want: "b.json"},
		{in: "a\\b.json", want: "a/b.json"},
		{in: "", err: ErrEmptyPath},
		{in: "a/", err: ErrEmptyPath},
		{in: ".", err: ErrEmptyPath},
		{in: "/abs.json", err: ErrAbsolutePath},
		{in: "C:/abs.json", err: ErrAbsolutePath},
		{in: "../x.json", err: ErrEscapesRoot},
		{in: "a/../../x.json", err: ErrEscapesRoot},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cleanBlobPath(tt.in)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

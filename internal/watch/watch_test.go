package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposearch/pkg/types"
)

// recorder is a Reindexer that records paths
type recorder struct {
	mu    sync.Mutex
	paths []string
	err   func(path string, call int) error
	calls map[string]int
}

func (r *recorder) Reindex(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[path]++
	if r.err != nil {
		if err := r.err(path, r.calls[path]); err != nil {
			return err
		}
	}
	r.paths = append(r.paths, path)
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func tsOnly(path string) bool {
	return strings.HasSuffix(path, ".ts")
}

func TestNew_RequiresTarget(t *testing.T) {
	_, err := New(nil, Config{}, nil)
	assert.Error(t, err)
}

func TestFlush_SortedAndFiltered(t *testing.T) {
	rec := &recorder{}
	var reported []string
	w, err := New(rec, Config{
		Indexable: tsOnly,
		OnReindex: func(path string, err error) { reported = append(reported, path) },
	}, nil)
	require.NoError(t, err)

	assert.True(t, w.add("src/b.ts"))
	assert.True(t, w.add("a.ts"))
	assert.True(t, w.add("src/b.ts"))
	assert.False(t, w.add("README.md"))

	assert.False(t, w.flush(context.Background()))
	assert.Equal(t, []string{"a.ts", "src/b.ts"}, rec.seen())
	assert.Equal(t, []string{"a.ts", "src/b.ts"}, reported)
	assert.Empty(t, w.pending)

	assert.False(t, w.flush(context.Background()))
	assert.Len(t, rec.seen(), 2)
}

func TestFlush_RetriesWhileIndexing(t *testing.T) {
	rec := &recorder{err: func(path string, call int) error {
		if call == 1 {
			return types.ErrIndexingInProgress
		}
		return nil
	}}
	w, err := New(rec, Config{}, nil)
	require.NoError(t, err)

	w.add("a.ts")
	assert.True(t, w.flush(context.Background()))
	assert.Empty(t, rec.seen())
	assert.Contains(t, w.pending, "a.ts")

	assert.False(t, w.flush(context.Background()))
	assert.Equal(t, []string{"a.ts"}, rec.seen())
}

func TestFlush_DropsFailedFiles(t *testing.T) {
	rec := &recorder{err: func(string, int) error { return errors.New("parse failure") }}
	var failures int
	w, err := New(rec, Config{OnReindex: func(_ string, err error) {
		if err != nil {
			failures++
		}
	}}, nil)
	require.NoError(t, err)

	w.add("a.ts")
	assert.False(t, w.flush(context.Background()))
	assert.Empty(t, w.pending)
	assert.Equal(t, 1, failures)
}

func TestRun_ReindexesChangedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0755))

	rec := &recorder{}
	w, err := New(rec, Config{Root: root, Debounce: 50 * time.Millisecond, Indexable: tsOnly}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-w.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.ts"), []byte("export const x = 1;\n"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("# notes\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep.ts"), []byte("export {};\n"), 0644))

	require.Eventually(t, func() bool {
		for _, p := range rec.seen() {
			if p == "src/a.ts" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	for _, p := range rec.seen() {
		assert.Equal(t, "src/a.ts", p)
	}
}

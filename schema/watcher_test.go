package schema

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/fedgateway/testutil"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []FileEvent
}

func (r *eventRecorder) record(ev FileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) last() FileEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestWatcher(t *testing.T, path string) (*FileWatcher, *eventRecorder) {
	t.Helper()
	w, err := NewFileWatcher(path,
		WithPollInterval(20*time.Millisecond),
		WithDebounceDelay(30*time.Millisecond))
	require.NoError(t, err)
	rec := &eventRecorder{}
	w.OnChange(rec.record)
	return w, rec
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "RENAME", FileOpRename.String())
	assert.Equal(t, "UNKNOWN", FileOp(99).String())
}

func TestFileWatcher_DetectsWrite(t *testing.T) {
	path := testutil.WriteFile(t, "supergraph.graphql", "one")
	w, rec := newTestWatcher(t, path)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("two, longer"), 0o644))

	testutil.AssertEventuallyTrue(t, func() bool { return rec.count() > 0 }, 3*time.Second)
	assert.Equal(t, w.Path(), rec.last().Path)
}

func TestFileWatcher_DetectsCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.graphql")
	w, rec := newTestWatcher(t, path)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	testutil.AssertEventuallyTrue(t, func() bool { return rec.count() > 0 }, 3*time.Second)
}

func TestFileWatcher_IgnoresSiblings(t *testing.T) {
	path := testutil.WriteFile(t, "supergraph.graphql", "one")
	w, rec := newTestWatcher(t, path)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.txt"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestFileWatcher_Debounces(t *testing.T) {
	path := testutil.WriteFile(t, "supergraph.graphql", "0")
	w, err := NewFileWatcher(path,
		WithPollInterval(time.Hour),
		WithDebounceDelay(150*time.Millisecond))
	require.NoError(t, err)
	rec := &eventRecorder{}
	w.OnChange(rec.record)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	testutil.AssertEventuallyTrue(t, func() bool { return rec.count() > 0 }, 3*time.Second)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestFileWatcher_Restartable(t *testing.T) {
	path := testutil.WriteFile(t, "supergraph.graphql", "one")
	w, rec := newTestWatcher(t, path)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.True(t, w.IsRunning())

	require.NoError(t, os.WriteFile(path, []byte("after restart"), 0o644))
	testutil.AssertEventuallyTrue(t, func() bool { return rec.count() > 0 }, 3*time.Second)
}

func TestFileWatcher_Relevant(t *testing.T) {
	w, err := NewFileWatcher(filepath.Join(t.TempDir(), "supergraph.graphql"))
	require.NoError(t, err)

	assert.True(t, w.relevant(w.Path()))
	assert.True(t, w.relevant(filepath.Join(filepath.Dir(w.Path()), "..data")))
	assert.False(t, w.relevant(filepath.Join(filepath.Dir(w.Path()), "notes.md")))
}

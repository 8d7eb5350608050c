package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdir(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.Mkdir(dir, 0o755))
	return dir
}

func writeAnnounce(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, announceFile), []byte(content), 0o644))
}

// nextEvent returns the next non-quiescence event.
func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-events:
			require.True(t, ok, "event stream closed")
			if event.Kind == Quiescence {
				continue
			}
			return event
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func newTestWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	watcher, err := NewWithOptions(Options{
		Root:             root,
		Debounce:         10 * time.Millisecond,
		QuiescenceWindow: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Close() })
	return watcher
}

func TestNewRequiresExistingRoot(t *testing.T) {
	_, err := NewWithOptions(Options{Root: filepath.Join(t.TempDir(), "missing")})

	assert.Error(t, err)
}

func TestDirectoryCreatedIsArmedBeforeDelivery(t *testing.T) {
	root := t.TempDir()
	watcher := newTestWatcher(t, root)

	dir := mkdir(t, root, "web1")

	event := nextEvent(t, watcher.Events())
	assert.Equal(t, DirectoryCreated, event.Kind)
	assert.Equal(t, dir, event.Path)
	assert.Equal(t, "web1", event.Name)
	assert.True(t, watcher.Watched(dir))

	writeAnnounce(t, dir, "announce A\n")
	event = nextEvent(t, watcher.Events())
	assert.Equal(t, FileCreated, event.Kind)
	assert.Equal(t, dir, event.Dir)
	assert.Equal(t, announceFile, event.Name)
}

func TestAnnounceRemovedAndMovedIn(t *testing.T) {
	root := t.TempDir()
	dir := mkdir(t, root, "web1")
	writeAnnounce(t, dir, "announce A\n")
	watcher := newTestWatcher(t, root)
	require.NoError(t, watcher.Add(dir))

	require.NoError(t, os.Remove(filepath.Join(dir, announceFile)))
	event := nextEvent(t, watcher.Events())
	assert.Equal(t, FileRemoved, event.Kind)

	staged := filepath.Join(dir, ".announce.tmp")
	require.NoError(t, os.WriteFile(staged, []byte("announce B\n"), 0o644))
	require.NoError(t, os.Rename(staged, filepath.Join(dir, announceFile)))
	event = nextEvent(t, watcher.Events())
	assert.Equal(t, FileCreated, event.Kind)
	assert.Equal(t, filepath.Join(dir, announceFile), event.Path)
}

func TestOtherFilesAreIgnored(t *testing.T) {
	root := t.TempDir()
	dir := mkdir(t, root, "web1")
	watcher := newTestWatcher(t, root)
	require.NoError(t, watcher.Add(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644))
	writeAnnounce(t, dir, "announce A\n")

	event := nextEvent(t, watcher.Events())
	assert.Equal(t, FileCreated, event.Kind)
	assert.Equal(t, announceFile, event.Name)
}

func TestDirectoryRemoved(t *testing.T) {
	root := t.TempDir()
	dir := mkdir(t, root, "web1")
	watcher := newTestWatcher(t, root)
	require.NoError(t, watcher.Add(dir))

	require.NoError(t, os.RemoveAll(dir))

	event := nextEvent(t, watcher.Events())
	assert.Equal(t, DirectoryRemoved, event.Kind)
	assert.Equal(t, dir, event.Path)
	require.NoError(t, watcher.Remove(dir))
	assert.False(t, watcher.Watched(dir))
}

func TestQuiescenceEmittedWhenIdle(t *testing.T) {
	watcher, err := NewWithOptions(Options{Root: t.TempDir(), QuiescenceWindow: 20 * time.Millisecond})
	require.NoError(t, err)
	defer watcher.Close()

	select {
	case event := <-watcher.Events():
		assert.Equal(t, Quiescence, event.Kind)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quiescence")
	}
}

func TestResyncReportsDirectoriesWithoutEvents(t *testing.T) {
	root := t.TempDir()
	dir := mkdir(t, root, "web1")
	watcher := newTestWatcher(t, root)

	watcher.requestResync(false)

	event := nextEvent(t, watcher.Events())
	assert.Equal(t, DirectoryCreated, event.Kind)
	assert.Equal(t, dir, event.Path)
	assert.True(t, watcher.Watched(dir))
}

func TestMaxWatchesExceeded(t *testing.T) {
	root := t.TempDir()
	first := mkdir(t, root, "web1")
	second := mkdir(t, root, "web2")
	watcher, err := NewWithOptions(Options{Root: root, MaxWatches: 2, QuiescenceWindow: time.Hour})
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, watcher.Add(first))
	require.NoError(t, watcher.Add(first))
	assert.ErrorIs(t, watcher.Add(second), ErrMaxWatchesExceeded)
	assert.Equal(t, 2, watcher.Metrics().ActiveWatches)
}

func TestCloseClosesEventStream(t *testing.T) {
	watcher, err := NewWithOptions(Options{Root: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, watcher.Close())
	require.NoError(t, watcher.Close())

	select {
	case _, ok := <-watcher.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("event stream not closed")
	}
}

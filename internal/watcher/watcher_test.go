package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestFileWatcherDebouncesWrites(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "app.ts")
	require.NoError(t, os.WriteFile(testFile, []byte("export {}"), 0644))

	watcher, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	var mu sync.Mutex
	var batches [][]ChangeEvent
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, events)
		return nil
	})

	require.NoError(t, watcher.AddRecursive(tempDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))
	time.Sleep(50 * time.Millisecond)

	// Rapid writes to the same file must coalesce into one batch entry.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(testFile, []byte("export {} //"), 0644))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, testFile, batches[0][0].Path)
	assert.Equal(t, EventTypeModified, batches[0][0].Type)
}

func TestFileWatcherFilters(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, "node_modules", "pkg"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, "src"), 0755))

	watcher, err := NewFileWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.AddFilter(IgnoreDirsFilter("node_modules"))

	var mu sync.Mutex
	var seen []string
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			seen = append(seen, e.Path)
		}
		return nil
	})

	require.NoError(t, watcher.AddRecursive(tempDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "src", "app.ts"), []byte("x"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, path := range seen {
		assert.NotContains(t, path, "node_modules")
	}
}

func TestIgnoreDirsFilter(t *testing.T) {
	filter := IgnoreDirsFilter("node_modules", ".git")

	sep := string(filepath.Separator)
	assert.False(t, filter("project"+sep+"node_modules"+sep+"pkg"+sep+"index.js"))
	assert.False(t, filter("project"+sep+".git"))
	assert.True(t, filter("project"+sep+"src"+sep+"app.ts"))
}

func TestNoHiddenFilter(t *testing.T) {
	assert.False(t, NoHiddenFilter(filepath.Join("project", ".cache")))
	assert.True(t, NoHiddenFilter(filepath.Join("project", "src")))
	assert.True(t, NoHiddenFilter("."))
}

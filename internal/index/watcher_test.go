package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/zettelstack/internal/models"
	"github.com/starford/zettelstack/internal/storage"
)

// watcherTestEnv sets up a site dir, storage, and DB for watcher tests.
func watcherTestEnv(t *testing.T) (string, storage.Provider, *DB) {
	t.Helper()
	siteDir := t.TempDir()
	store, err := storage.NewFS(siteDir)
	if err != nil {
		t.Fatal(err)
	}
	dbFile, err := os.CreateTemp("", "zettelstack-watcher-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })
	db, err := Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return siteDir, store, db
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	siteDir, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string

	go Watch(ctx, db, store, siteDir, logger, func(kind string, id models.NoteID) {
		mu.Lock()
		events = append(events, kind+":"+string(id))
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(siteDir, "new.html"), []byte(`<div class="page"><h1>New</h1></div>`), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("/new.html")
		return cs != ""
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "created:/new.html" {
				return true
			}
		}
		return false
	}, "expected created:/new.html callback")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	siteDir, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, siteDir, logger, nil)

	time.Sleep(100 * time.Millisecond)

	subDir := filepath.Join(siteDir, "subdir")
	_ = os.MkdirAll(subDir, 0o755)

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return true
	}, "")

	_ = os.WriteFile(filepath.Join(subDir, "deep.html"), []byte(`<div class="page">Deep</div>`), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("/subdir/deep.html")
		return cs != ""
	}, "file in new subdir not indexed by watcher")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	siteDir, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_ = os.WriteFile(filepath.Join(siteDir, "del.html"), []byte(`<div class="page">Delete Me</div>`), 0o644)
	Sync(db, store, logger)

	cs, _ := db.GetChecksum("/del.html")
	if cs == "" {
		t.Fatal("precondition: file should be indexed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, siteDir, logger, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(siteDir, "del.html"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("/del.html")
		return cs == ""
	}, "deleted file still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	siteDir, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_ = os.WriteFile(filepath.Join(siteDir, "old.html"), []byte(`<div class="page">Rename</div>`), 0o644)
	Sync(db, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, siteDir, logger, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(siteDir, "old.html"), filepath.Join(siteDir, "renamed.html"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldCS, _ := db.GetChecksum("/old.html")
		newCS, _ := db.GetChecksum("/renamed.html")
		return oldCS == "" && newCS != ""
	}, "rename reconciliation failed: old path should be removed and new path indexed")
}

func TestWatcher_UnchangedRewriteIsSilent(t *testing.T) {
	siteDir, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	page := []byte(`<div class="page">Same</div>`)
	_ = os.WriteFile(filepath.Join(siteDir, "same.html"), page, 0o644)
	_ = os.WriteFile(filepath.Join(siteDir, "edit.html"), []byte(`<div class="page">v1</div>`), 0o644)
	if err := Sync(db, store, logger); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	go Watch(ctx, db, store, siteDir, logger, func(kind string, id models.NoteID) {
		mu.Lock()
		events = append(events, kind+":"+string(id))
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	// A regeneration rewrites both pages; only one actually changes.
	_ = os.WriteFile(filepath.Join(siteDir, "same.html"), page, 0o644)
	for _, v := range []string{"v2", "v3", "v4"} {
		_ = os.WriteFile(filepath.Join(siteDir, "edit.html"), []byte(`<div class="page">`+v+`</div>`), 0o644)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	}, "expected an update callback")
	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != "updated:/edit.html" {
		t.Errorf("events = %v, want [updated:/edit.html]", events)
	}
}

func TestWatcher_HiddenDirIgnored(t *testing.T) {
	siteDir, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	_ = os.MkdirAll(filepath.Join(siteDir, ".cache"), 0o755)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, store, siteDir, logger, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(siteDir, ".cache", "tmp.html"), []byte(`<div class="page">x</div>`), 0o644)
	_ = os.WriteFile(filepath.Join(siteDir, "real.html"), []byte(`<div class="page">y</div>`), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("/real.html")
		return cs != ""
	}, "real page not indexed")
	if cs, _ := db.GetChecksum("/.cache/tmp.html"); cs != "" {
		t.Error("page in hidden dir was indexed")
	}
}

// Package testutil provides shared test helpers for setting up sites and databases.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/zettelstack/internal/index"
	"github.com/starford/zettelstack/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "zettelstack-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestSite creates a temporary site directory holding files (slash paths
// relative to the root) and returns it with a storage.Provider.
func TestSite(t *testing.T, files map[string]string) (string, storage.Provider) {
	t.Helper()
	siteDir := t.TempDir()
	for name, body := range files {
		p := filepath.Join(siteDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	store, err := storage.NewFS(siteDir)
	if err != nil {
		t.Fatal(err)
	}
	return siteDir, store
}

// IndexedSite is TestSite plus a synced link index.
func IndexedSite(t *testing.T, files map[string]string) (storage.Provider, *index.DB) {
	t.Helper()
	_, store := TestSite(t, files)
	db := TestDB(t)
	if err := index.Sync(db, store, Logger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	return store, db
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Page wraps body in the note page markup.
func Page(title, body string) string {
	return `<!DOCTYPE html><html><head><title>` + title + `</title></head><body>
<div class="grid-container"><div class="grid"><div class="page" data-level="1"><div class="content">
<h1>` + title + `</h1>` + body + `</div></div></div></div></body></html>`
}

package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/zettelstack/internal/models"
	"github.com/starford/zettelstack/internal/storage"
)

// Watcher event kinds.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventCallback is called after a watcher-driven index change with one of
// EventCreated, EventUpdated or EventDeleted.
type EventCallback func(kind string, id models.NoteID)

// settleDelay is how long the site must stay quiet before pending changes
// are applied. A generator run touches many pages in a burst.
const settleDelay = 150 * time.Millisecond

// Watch follows the site directory with fsnotify until ctx is cancelled.
//
// Changed paths are collected and applied together once the site has been
// quiet for a moment; each page is re-read and compared by checksum, so
// touching a file without changing it reports nothing. Directories created
// at runtime are watched and their pages picked up. A rename anywhere
// triggers a full reconcile, since fsnotify only names the old path.
func Watch(ctx context.Context, db *DB, store storage.Provider, siteRoot string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := watchTree(w, siteRoot); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", siteRoot))

	pending := make(map[models.NoteID]struct{})
	var fullPass bool

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	flush := func() {
		if fullPass {
			if err := reconcile(db, store, logger, cb); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}
		} else {
			ids := make([]string, 0, len(pending))
			for id := range pending {
				ids = append(ids, string(id))
			}
			sort.Strings(ids)
			for _, id := range ids {
				refresh(db, store, models.NoteID(id), logger, cb)
			}
		}
		clear(pending)
		fullPass = false
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case <-settle.C:
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if hidden(siteRoot, ev.Name) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := watchTree(w, ev.Name); err != nil {
						logger.Warn("watcher: add new dir failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
					}
					// Pages may have landed before the watch was added.
					for _, id := range pagesUnder(siteRoot, ev.Name) {
						pending[id] = struct{}{}
					}
					settle.Reset(settleDelay)
					continue
				}
			}

			if ev.Op&fsnotify.Rename != 0 {
				fullPass = true
				settle.Reset(settleDelay)
				continue
			}

			if !strings.HasSuffix(ev.Name, storage.NoteExt) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove) == 0 {
				continue
			}
			if id, ok := siteID(siteRoot, ev.Name); ok {
				pending[id] = struct{}{}
				settle.Reset(settleDelay)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

// siteID maps an absolute file path to its note id.
func siteID(siteRoot, abs string) (models.NoteID, bool) {
	rel, err := filepath.Rel(siteRoot, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return models.NormalizeID(filepath.ToSlash(rel)), true
}

// hidden reports whether abs lies in a dot directory below siteRoot.
func hidden(siteRoot, abs string) bool {
	rel, err := filepath.Rel(siteRoot, abs)
	if err != nil {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	return false
}

func pagesUnder(siteRoot, dir string) []models.NoteID {
	var out []models.NoteID
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, storage.NoteExt) {
			return nil
		}
		if id, ok := siteID(siteRoot, p); ok {
			out = append(out, id)
		}
		return nil
	})
	return out
}

// watchTree adds root and every non-hidden directory below it.
func watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

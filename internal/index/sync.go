package index

import (
	"errors"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/starford/zettelstack/internal/address"
	"github.com/starford/zettelstack/internal/checksum"
	"github.com/starford/zettelstack/internal/models"
	"github.com/starford/zettelstack/internal/parser"
	"github.com/starford/zettelstack/internal/storage"
)

// Sync walks the site and brings the index up to date: changed pages are
// parsed and upserted, pages gone from disk are deleted.
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	return reconcile(db, store, logger, nil)
}

// reconcile diffs the whole site against the index by checksum and reports
// every change through cb.
func reconcile(db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}
	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[models.NoteID]struct{}, len(metas))
	for _, m := range metas {
		id := models.NormalizeID(m.Path)
		disk[id] = struct{}{}
		prev, known := checksums[id]
		if prev == m.Checksum {
			continue
		}
		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := indexFile(db, id, data, m.UpdatedAt); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: indexed", slog.String("id", string(id)))
		notify(cb, known, id)
	}

	for id := range checksums {
		if _, ok := disk[id]; ok {
			continue
		}
		if err := db.DeleteNote(id); err != nil {
			logger.Warn("sync: delete failed", slog.String("id", string(id)), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("id", string(id)))
		if cb != nil {
			cb(EventDeleted, id)
		}
	}
	return nil
}

// refresh re-reads one page and reports what changed, if anything. A page
// whose checksum is unchanged produces no event.
func refresh(db *DB, store storage.Provider, id models.NoteID, logger *slog.Logger, cb EventCallback) {
	prev, err := db.GetChecksum(id)
	if err != nil {
		logger.Warn("watcher: checksum lookup failed", slog.String("id", string(id)), slog.String("error", err.Error()))
		return
	}

	data, err := store.Read(string(id))
	switch {
	case errors.Is(err, os.ErrNotExist):
		if prev == "" {
			return
		}
		if err := db.DeleteNote(id); err != nil {
			logger.Warn("watcher: delete failed", slog.String("id", string(id)), slog.String("error", err.Error()))
			return
		}
		logger.Debug("watcher: deleted", slog.String("id", string(id)))
		if cb != nil {
			cb(EventDeleted, id)
		}
		return
	case err != nil:
		logger.Warn("watcher: read failed", slog.String("id", string(id)), slog.String("error", err.Error()))
		return
	}

	if checksum.Sum(data) == prev {
		return
	}
	if err := indexFile(db, id, data, time.Now()); err != nil {
		logger.Warn("watcher: index failed", slog.String("id", string(id)), slog.String("error", err.Error()))
		return
	}
	logger.Debug("watcher: indexed", slog.String("id", string(id)))
	notify(cb, prev != "", id)
}

func notify(cb EventCallback, known bool, id models.NoteID) {
	if cb == nil {
		return
	}
	if known {
		cb(EventUpdated, id)
	} else {
		cb(EventCreated, id)
	}
}

// indexFile parses a note page and upserts it with its outgoing note links.
// Links carrying the stack parameter point back at a stacked view of the
// site, not at a note, and are skipped.
func indexFile(db *DB, id models.NoteID, data []byte, modTime time.Time) error {
	doc, err := parser.ParseDocument(data)
	if err != nil {
		return err
	}
	if modTime.IsZero() {
		modTime = time.Now()
	}
	row := NoteRow{
		ID:        id,
		Title:     parser.Title(doc),
		Checksum:  checksum.Sum(data),
		UpdatedAt: modTime.UTC(),
	}
	links := parser.NoteLinks(doc, &url.URL{Path: string(id)}, address.DefaultParam)
	return db.UpsertNote(row, links)
}

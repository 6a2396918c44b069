package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/models"
)

// NoteRow represents a row in the notes table plus its link degrees.
type NoteRow struct {
	ID        models.NoteID
	Title     string
	Checksum  string
	UpdatedAt time.Time
	// Outgoing and Incoming are filled by reads only.
	Outgoing int
	Incoming int
}

// UpsertNote inserts or replaces a note and its outgoing links within a transaction.
func (db *DB) UpsertNote(n NoteRow, links []models.NoteID) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO notes (id, title, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title      = excluded.title,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, string(n.ID), n.Title, n.Checksum, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}

	// Replace links: delete old then bulk insert.
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, string(n.ID)); err != nil {
		return fmt.Errorf("index: clear links: %w", err)
	}
	if len(links) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, target := range links {
			if target == n.ID {
				continue
			}
			if _, err := stmt.Exec(string(n.ID), string(target)); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteNote removes a note and its outgoing links.
func (db *DB) DeleteNote(id models.NoteID) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, string(id))
	_, _ = tx.Exec(`DELETE FROM notes WHERE id = ?`, string(id))

	return tx.Commit()
}

// GetChecksum returns the stored checksum for a note, or empty string if not found.
func (db *DB) GetChecksum(id models.NoteID) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM notes WHERE id = ?`, string(id)).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

const noteColumns = `
	n.id, n.title, n.checksum, n.updated_at,
	(SELECT count(*) FROM links o WHERE o.source = n.id),
	(SELECT count(*) FROM links i WHERE i.target = n.id)`

func scanNote(s interface{ Scan(...any) error }) (NoteRow, error) {
	var (
		r  NoteRow
		id string
	)
	if err := s.Scan(&id, &r.Title, &r.Checksum, &r.UpdatedAt, &r.Outgoing, &r.Incoming); err != nil {
		return NoteRow{}, err
	}
	r.ID = models.NoteID(id)
	return r, nil
}

// GetNote returns one note with its link degrees.
func (db *DB) GetNote(id models.NoteID) (*NoteRow, error) {
	row := db.conn.QueryRow(`SELECT `+noteColumns+` FROM notes n WHERE n.id = ?`, string(id))
	r, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: note %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get note: %w", err)
	}
	return &r, nil
}

// ListNotes returns a page of notes ordered by id and the total count.
func (db *DB) ListNotes(limit, offset int) ([]NoteRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count notes: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+noteColumns+` FROM notes n ORDER BY n.id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list notes: %w", err)
	}
	defer rows.Close()

	var out []NoteRow
	for rows.Next() {
		r, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (db *DB) ids(query string, arg models.NoteID) ([]models.NoteID, error) {
	rows, err := db.conn.Query(query, string(arg))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NoteID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, models.NoteID(s))
	}
	return out, rows.Err()
}

// Outgoing returns the targets linked from a note.
func (db *DB) Outgoing(id models.NoteID) ([]models.NoteID, error) {
	out, err := db.ids(`SELECT target FROM links WHERE source = ? ORDER BY target`, id)
	if err != nil {
		return nil, fmt.Errorf("index: outgoing: %w", err)
	}
	return out, nil
}

// Backlinks returns all notes that link to the given target.
func (db *DB) Backlinks(target models.NoteID) ([]models.NoteID, error) {
	out, err := db.ids(`SELECT source FROM links WHERE target = ? ORDER BY source`, target)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	return out, nil
}

// AllChecksums returns the stored checksum of every indexed note.
func (db *DB) AllChecksums() (map[models.NoteID]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[models.NoteID]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[models.NoteID(id)] = cs
	}
	return out, rows.Err()
}

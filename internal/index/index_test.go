package index

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "zettelstack-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func upsert(t *testing.T, db *DB, id models.NoteID, title string, links ...models.NoteID) {
	t.Helper()
	if err := db.UpsertNote(NoteRow{ID: id, Title: title, Checksum: "cs-" + string(id), UpdatedAt: time.Now()}, links); err != nil {
		t.Fatalf("UpsertNote(%s): %v", id, err)
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&count); err != nil {
		t.Fatalf("notes table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM links`).Scan(&count); err != nil {
		t.Fatalf("links table missing: %v", err)
	}
}

func TestReopenKeepsDataAndVersion(t *testing.T) {
	f, err := os.CreateTemp("", "zettelstack-reopen-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	upsert(t, db, "/a.html", "A")
	db.Close()

	db, err = Open(f.Name())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var version int
	if err := db.conn.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != len(migrations) {
		t.Errorf("user_version = %d, want %d", version, len(migrations))
	}
	if cs, _ := db.GetChecksum("/a.html"); cs == "" {
		t.Error("data lost on reopen")
	}
}

func TestUpsertAndGetChecksum(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "/hello.html", "Hello", "/other.html")
	cs, err := db.GetChecksum("/hello.html")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "cs-/hello.html" {
		t.Errorf("checksum = %q", cs)
	}
}

func TestGetNoteDegrees(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "/1.html", "One", "/2.html", "/3.html", "/1.html")
	upsert(t, db, "/2.html", "Two", "/1.html")

	n, err := db.GetNote("/1.html")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if n.Title != "One" || n.Outgoing != 2 || n.Incoming != 1 {
		t.Errorf("note = %+v", n)
	}
	if _, err := db.GetNote("/9.html"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing note err = %v", err)
	}
}

func TestListNotes(t *testing.T) {
	db := testDB(t)
	for _, id := range []models.NoteID{"/c.html", "/a.html", "/b.html"} {
		upsert(t, db, id, string(id))
	}
	rows, total, err := db.ListNotes(2, 0)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if total != 3 || len(rows) != 2 || rows[0].ID != "/a.html" || rows[1].ID != "/b.html" {
		t.Errorf("rows = %+v total = %d", rows, total)
	}
	rows, _, _ = db.ListNotes(2, 2)
	if len(rows) != 1 || rows[0].ID != "/c.html" {
		t.Errorf("second page = %+v", rows)
	}
}

func TestBacklinks(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "/a.html", "A", "/b.html")
	upsert(t, db, "/c.html", "C", "/b.html")

	bl, err := db.Backlinks("/b.html")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(bl) != 2 || bl[0] != "/a.html" || bl[1] != "/c.html" {
		t.Fatalf("backlinks = %v", bl)
	}
}

func TestDeleteNote(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "/del.html", "Del", "/target.html")

	if err := db.DeleteNote("/del.html"); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	cs, _ := db.GetChecksum("/del.html")
	if cs != "" {
		t.Errorf("deleted note still has checksum %q", cs)
	}
	bl, _ := db.Backlinks("/target.html")
	if len(bl) != 0 {
		t.Errorf("expected 0 backlinks after delete, got %d", len(bl))
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "/up.html", "Old", "/x.html")
	upsert(t, db, "/up.html", "New", "/y.html")

	n, _ := db.GetNote("/up.html")
	if n.Title != "New" {
		t.Errorf("title = %q", n.Title)
	}
	if bl, _ := db.Backlinks("/x.html"); len(bl) != 0 {
		t.Error("old link should be removed on upsert")
	}
	if bl, _ := db.Backlinks("/y.html"); len(bl) != 1 {
		t.Error("new link should exist")
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("/nonexistent.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestNeighborhood(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "/1.html", "One", "/2.html")
	upsert(t, db, "/2.html", "Two", "/3.html")
	upsert(t, db, "/3.html", "Three")
	upsert(t, db, "/4.html", "Four", "/1.html")

	nodes, edges, err := db.Neighborhood("/1.html", 1)
	if err != nil {
		t.Fatalf("Neighborhood: %v", err)
	}
	got := map[string]string{}
	for _, n := range nodes {
		got[n.ID] = n.Label
	}
	if len(got) != 3 || got["1"] != "One" || got["2"] != "Two" || got["4"] != "Four" {
		t.Errorf("nodes = %+v", nodes)
	}
	if len(edges) != 2 {
		t.Errorf("edges = %+v", edges)
	}

	nodes, _, _ = db.Neighborhood("/1.html", 2)
	if len(nodes) != 4 {
		t.Errorf("depth 2 nodes = %+v", nodes)
	}

	if _, _, err := db.Neighborhood("/9.html", 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing note err = %v", err)
	}
}

func TestNodeID(t *testing.T) {
	if got := NodeID("/12.html"); got != "12" {
		t.Errorf("NodeID = %q", got)
	}
	if got := NodeID("/sub/a.html"); got != "sub/a" {
		t.Errorf("NodeID = %q", got)
	}
}

package protocol_test

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"strata/pkg/protocol"
)

func TestSchemaExecsCleanly(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("exec schema DDL: %v", err)
	}
	// Applying the DDL twice must be a no-op, so startup can always run it.
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("re-exec schema DDL: %v", err)
	}
}

func TestSchemaCreatesExpectedTables(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("exec schema DDL: %v", err)
	}

	expected := []string{"frames", "events", "anchors", "handoff_requests", "traces"}
	for _, table := range expected {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("expected table %q not found: %v", table, err)
		}
	}
}

func TestTimeFormatMatchesSQLite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	defer func() { _ = db.Close() }()

	var now string
	if err := db.QueryRow("SELECT datetime('now')").Scan(&now); err != nil {
		t.Fatalf("datetime: %v", err)
	}
	if _, err := time.Parse(protocol.TimeFormat, now); err != nil {
		t.Errorf("TimeFormat does not parse datetime('now') output %q: %v", now, err)
	}
}

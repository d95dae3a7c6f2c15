package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// sqliteCacheFileName is a companion cache some iMazing export
// variants drop alongside the CSV files so a later run can skip
// re-parsing every "Messages - *.csv" file. It is read-only,
// optional, and never required: a plain CSV-only export (the common
// case) is unaffected by its absence.
//
// Expected schema:
//
//	CREATE TABLE message_cache (
//	    chat_session    TEXT,
//	    message_date    TEXT NOT NULL,
//	    service         TEXT,
//	    type            TEXT,
//	    sender_id       TEXT,
//	    sender_name     TEXT,
//	    status          TEXT,
//	    text            TEXT,
//	    attachment      TEXT NOT NULL,
//	    attachment_type TEXT
//	);
const sqliteCacheFileName = "MessageCache.sqlite"

// loadSQLiteCache reads the companion cache if present, returning an
// empty, nil-error result when it is absent so callers can treat it as
// a pure enrichment step. Rows use the same csvKey shape as the CSV
// loader; merging precedence between the two is the caller's concern.
func loadSQLiteCache(inputDir string) (map[csvKey]csvInfo, int, error) {
	path := filepath.Join(inputDir, sqliteCacheFileName)
	if _, err := os.Stat(path); err != nil {
		return map[csvKey]csvInfo{}, 0, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, 0, fmt.Errorf("imessage: open %s: %w", path, err)
	}
	defer db.Close()
	db.Exec("PRAGMA busy_timeout = 5000")

	rows, err := db.QueryContext(context.Background(), `
		SELECT chat_session, message_date, service, type, sender_id,
		       sender_name, status, text, attachment, attachment_type
		FROM message_cache`)
	if err != nil {
		return nil, 0, fmt.Errorf("imessage: query %s: %w", path, err)
	}
	defer rows.Close()

	cache := map[csvKey]csvInfo{}
	count := 0
	for rows.Next() {
		var k csvKey
		var v csvInfo
		if err := rows.Scan(&v.ChatSession, &k.MessageDate, &v.Service, &v.Type,
			&v.SenderID, &v.SenderName, &v.Status, &v.Text, &k.Attachment, &v.AttachmentType); err != nil {
			return nil, 0, fmt.Errorf("imessage: scan %s: %w", path, err)
		}
		if k.MessageDate == "" || k.Attachment == "" {
			continue
		}
		cache[k] = v
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("imessage: iterate %s: %w", path, err)
	}
	return cache, count, nil
}

// mergeCSVCache copies every entry from extra into base that base does
// not already have a key for. The CSV export is the authoritative
// source; the SQLite companion only fills gaps it left.
func mergeCSVCache(base, extra map[csvKey]csvInfo) {
	for k, v := range extra {
		if _, ok := base[k]; !ok {
			base[k] = v
		}
	}
}

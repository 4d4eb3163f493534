package activity

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS channel_activity (
    channel_id   TEXT NOT NULL,
    account_id   TEXT NOT NULL,
    inbound_at   INTEGER,
    outbound_at  INTEGER,
    PRIMARY KEY (channel_id, account_id)
);
`

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(path string) (*sqliteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite activity store requires a path")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create activity dir: %w", err)
		}
	}

	dsn := "file:" + url.PathEscape(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open activity db: %w", err)
	}
	// modernc sqlite is happiest with one writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init activity schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) loadAll() (map[key]Record, error) {
	rows, err := s.db.Query(`SELECT channel_id, account_id, inbound_at, outbound_at FROM channel_activity`)
	if err != nil {
		return nil, fmt.Errorf("load activity: %w", err)
	}
	defer rows.Close()

	out := map[key]Record{}
	for rows.Next() {
		var (
			ch, acc  string
			in, outb sql.NullInt64
		)
		if err := rows.Scan(&ch, &acc, &in, &outb); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		r := Record{}
		if in.Valid {
			v := in.Int64
			r.InboundAt = &v
		}
		if outb.Valid {
			v := outb.Int64
			r.OutboundAt = &v
		}
		out[key{channel: ch, account: acc}] = r
	}
	return out, rows.Err()
}

func (s *sqliteStore) upsert(k key, r Record) error {
	var in, outb any
	if r.InboundAt != nil {
		in = *r.InboundAt
	}
	if r.OutboundAt != nil {
		outb = *r.OutboundAt
	}
	_, err := s.db.Exec(`
INSERT INTO channel_activity (channel_id, account_id, inbound_at, outbound_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(channel_id, account_id) DO UPDATE SET
    inbound_at  = COALESCE(excluded.inbound_at,  channel_activity.inbound_at),
    outbound_at = COALESCE(excluded.outbound_at, channel_activity.outbound_at)`,
		k.channel, k.account, in, outb)
	if err != nil {
		return fmt.Errorf("upsert activity: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

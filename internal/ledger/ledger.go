package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"drivethru/lane/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	session_id     TEXT PRIMARY KEY,
	lane_id        TEXT NOT NULL,
	vehicle_seq    INTEGER NOT NULL,
	outcome        TEXT NOT NULL,
	reason         TEXT NOT NULL,
	item_code      INTEGER,
	item_label     TEXT,
	order_text     TEXT,
	utterances     TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	completed_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_completed_at ON outcomes(completed_at);
`

// Ledger is the durable record of every outcome the lane handed off.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path in WAL mode.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	log.Printf("[ledger] opened %s", path)
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Ping reports whether the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error { return l.db.PingContext(ctx) }

// Deliver inserts o. It satisfies handoff.Sink. A repeated session id is
// ignored.
func (l *Ledger) Deliver(ctx context.Context, o types.OrderOutcome) error {
	heard, err := json.Marshal(o.RawUtterances)
	if err != nil {
		return fmt.Errorf("marshal utterances: %w", err)
	}
	var code sql.NullInt64
	var label sql.NullString
	if o.SelectedItem != nil {
		code = sql.NullInt64{Int64: int64(o.SelectedItem.Code), Valid: true}
		label = sql.NullString{String: o.SelectedItem.Label, Valid: true}
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO outcomes
			(session_id, lane_id, vehicle_seq, outcome, reason, item_code, item_label, order_text, utterances, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SessionID, o.LaneID, o.VehicleSeq, string(o.Outcome), o.Reason, code, label, o.OrderText, string(heard),
		o.CreatedAt.UnixMilli(), o.CompletedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit outcomes, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]types.OrderOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT session_id, lane_id, vehicle_seq, outcome, reason, item_code, item_label, order_text, utterances, created_at, completed_at
		FROM outcomes
		ORDER BY completed_at DESC, vehicle_seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []types.OrderOutcome
	for rows.Next() {
		var (
			o            types.OrderOutcome
			outcome      string
			code         sql.NullInt64
			label, text  sql.NullString
			heard        string
			created, end int64
		)
		if err := rows.Scan(&o.SessionID, &o.LaneID, &o.VehicleSeq, &outcome, &o.Reason, &code, &label, &text, &heard, &created, &end); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Outcome = types.Outcome(outcome)
		if code.Valid {
			o.SelectedItem = &types.SelectedItem{Code: int(code.Int64), Label: label.String}
		}
		o.OrderText = text.String
		if err := json.Unmarshal([]byte(heard), &o.RawUtterances); err != nil {
			return nil, fmt.Errorf("decode utterances for %s: %w", o.SessionID, err)
		}
		o.CreatedAt = time.UnixMilli(created).UTC()
		o.CompletedAt = time.UnixMilli(end).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outcomes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outcomes: %w", err)
	}
	return n, nil
}

package recorder

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"RewardPool/internal/model"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteRecorder persists ledger events to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *slog.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log *slog.Logger) (*SQLiteRecorder, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	// WAL mode so dashboards can read while the daemon writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("sqlite recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(r.db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Amounts are stored as decimal text; SQLite integers are signed 64-bit.
func formatAmount(v uint64) string { return strconv.FormatUint(v, 10) }

func parseAmount(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }

func (r *SQLiteRecorder) RecordEvent(ctx context.Context, evt *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_events
		(event_id, ledger_seq, timestamp, kind, participant, period, amount, remainder)
		VALUES (?,?,?,?,?,?,?,?)`,
		evt.ID, int64(evt.Seq), evt.At.UnixMilli(), string(evt.Kind), evt.Participant,
		int64(evt.Period), formatAmount(evt.Amount), formatAmount(evt.Remainder),
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	for _, s := range evt.Shares {
		if _, err := tx.ExecContext(ctx, `INSERT INTO reward_shares
			(event_id, period, participant, contribution, amount)
			VALUES (?,?,?,?,?)`,
			evt.ID, int64(evt.Period), s.Participant,
			formatAmount(s.Contribution), formatAmount(s.Amount),
		); err != nil {
			return fmt.Errorf("insert share: %w", err)
		}
	}
	return tx.Commit()
}

// ListEvents returns matching events, newest first by ledger commit sequence
// rather than arrival order. A participant filter also matches reward events
// that credited the participant.
func (r *SQLiteRecorder) ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		where []string
		args  []any
	)
	if f.Participant != "" {
		where = append(where, `(participant = ? OR event_id IN (SELECT event_id FROM reward_shares WHERE participant = ?))`)
		args = append(args, f.Participant, f.Participant)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Period != 0 {
		where = append(where, "period = ?")
		args = append(args, int64(f.Period))
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := `SELECT event_id, ledger_seq, timestamp, kind, participant, period, amount, remainder FROM ledger_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ledger_seq DESC, seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	var events []model.Event
	for rows.Next() {
		var (
			evt               model.Event
			ts, period, lseq  int64
			kind              string
			amount, remainder string
		)
		if err := rows.Scan(&evt.ID, &lseq, &ts, &kind, &evt.Participant, &period, &amount, &remainder); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.At = time.UnixMilli(ts).UTC()
		evt.Kind = model.EventKind(kind)
		evt.Period = uint64(period)
		evt.Seq = uint64(lseq)
		if evt.Amount, err = parseAmount(amount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse amount of %s: %w", evt.ID, err)
		}
		if evt.Remainder, err = parseAmount(remainder); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse remainder of %s: %w", evt.ID, err)
		}
		events = append(events, evt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range events {
		if events[i].Kind != model.EventRewardDeposited {
			continue
		}
		shares, err := r.loadShares(ctx, events[i].ID)
		if err != nil {
			return nil, err
		}
		events[i].Shares = shares
	}
	return events, nil
}

func (r *SQLiteRecorder) loadShares(ctx context.Context, eventID string) ([]model.Share, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT participant, contribution, amount
		FROM reward_shares WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query shares: %w", err)
	}
	defer rows.Close()

	var shares []model.Share
	for rows.Next() {
		var (
			s                    model.Share
			contribution, amount string
		)
		if err := rows.Scan(&s.Participant, &contribution, &amount); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		if s.Contribution, err = parseAmount(contribution); err != nil {
			return nil, err
		}
		if s.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("closing sqlite recorder")
	return r.db.Close()
}

package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"linkgate.ai/internal/sim/link"
)

// SQLiteIndex is a queryable secondary index of link passes. Writes are
// queued to a single writer goroutine; the JSONL journal stays the source of
// truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan link.PassReport
	wg   sync.WaitGroup
	once sync.Once

	closed    atomic.Bool
	dropTotal atomic.Uint64
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTotal     uint64 `json:"drop_total"`
}

// ChangeRow is one indexed link change.
type ChangeRow struct {
	Pass   uint64
	Seq    int
	Kind   link.ChangeKind
	From   string
	To     string
	Label  string
	Reason string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan link.PassReport, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS passes (
			pass INTEGER PRIMARY KEY,
			started TEXT NOT NULL,
			duration_ms REAL NOT NULL,
			steps INTEGER NOT NULL,
			candidates INTEGER NOT NULL,
			unlinked INTEGER NOT NULL,
			linked INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS changes (
			pass INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			label TEXT NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (pass, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_changes_from ON changes(from_id, pass);`,
		`CREATE INDEX IF NOT EXISTS idx_changes_label ON changes(label, pass);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// ObservePass implements link.Observer. Reports are dropped when the writer
// falls behind.
func (s *SQLiteIndex) ObservePass(r link.PassReport) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropTotal.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropTotal.Load(),
	}
}

func (s *SQLiteIndex) PassCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passes`).Scan(&n)
	return n, err
}

// LastPass returns the highest recorded pass number, or zero for an empty
// index. The link cycle resumes numbering from it so a restarted host does
// not overwrite earlier history.
func (s *SQLiteIndex) LastPass(ctx context.Context) (uint64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(pass) FROM passes`).Scan(&n); err != nil {
		return 0, err
	}
	if !n.Valid || n.Int64 < 0 {
		return 0, nil
	}
	return uint64(n.Int64), nil
}

// ChangesFor lists the changes that touched id, oldest first.
func (s *SQLiteIndex) ChangesFor(ctx context.Context, id string) ([]ChangeRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pass, seq, kind, from_id, to_id, label, COALESCE(reason,'') FROM changes
		 WHERE from_id = ? OR to_id = ? ORDER BY pass, seq`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChangeRow
	for rows.Next() {
		var r ChangeRow
		var kind string
		if err := rows.Scan(&r.Pass, &r.Seq, &kind, &r.From, &r.To, &r.Label, &r.Reason); err != nil {
			return nil, err
		}
		r.Kind = link.ChangeKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertPass, _ := s.db.Prepare(`INSERT OR REPLACE INTO passes(pass,started,duration_ms,steps,candidates,unlinked,linked) VALUES(?,?,?,?,?,?,?)`)
	insertChange, _ := s.db.Prepare(`INSERT OR REPLACE INTO changes(pass,seq,kind,from_id,to_id,label,reason,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertPass != nil {
			_ = insertPass.Close()
		}
		if insertChange != nil {
			_ = insertChange.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil || insertPass == nil || insertChange == nil {
			continue
		}
		st := r.Stats
		if _, err := tx.Stmt(insertPass).Exec(
			int64(st.Pass),
			st.Started.UTC().Format(time.RFC3339Nano),
			float64(st.Duration)/float64(time.Millisecond),
			st.Steps,
			st.Candidates,
			st.Unlinked,
			st.Linked,
		); err != nil {
			rollback()
			continue
		}
		opCount++
		for i, c := range r.Changes {
			raw, _ := json.Marshal(c)
			if _, err := tx.Stmt(insertChange).Exec(
				int64(st.Pass),
				i,
				string(c.Kind),
				c.From.String(),
				c.To.String(),
				c.Label,
				c.Reason,
				string(raw),
			); err != nil {
				rollback()
				break
			}
			opCount++
		}
		// Passes arrive seconds apart; commit whenever the queue is idle.
		if tx != nil && (len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

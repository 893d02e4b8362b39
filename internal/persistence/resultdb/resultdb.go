package resultdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxeltest.ai/internal/gametest"
)

var ErrClosed = errors.New("resultdb: closed")

// Fixed-width UTC timestamps so text ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// DB indexes test outcomes per run. Writes go through a single writer
// goroutine and are committed in batches.
type DB struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	failed atomic.Uint64
}

type reqKind int

const (
	reqOutcome reqKind = iota + 1
	reqRun
	reqSync
)

type req struct {
	kind    reqKind
	outcome Outcome
	run     Run
	done    chan struct{}
}

// Outcome is one terminal attempt of a test.
type Outcome struct {
	RunID      string
	Test       string
	Batch      string
	Attempt    int
	Required   bool
	State      string
	Code       string
	Error      string
	Ticks      int64
	FinishedAt time.Time
}

type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	Total          int
	Passed         int
	FailedRequired int
	FailedOptional int
	Halted         bool
}

func Open(path string) (*DB, error) {
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

	s := &DB{db: db, ch: make(chan req, 4096)}
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
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			total INTEGER NOT NULL DEFAULT 0,
			passed INTEGER NOT NULL DEFAULT 0,
			failed_required INTEGER NOT NULL DEFAULT 0,
			failed_optional INTEGER NOT NULL DEFAULT 0,
			halted INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			run_id TEXT NOT NULL,
			test TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			batch TEXT NOT NULL,
			required INTEGER NOT NULL,
			state TEXT NOT NULL,
			code TEXT,
			error TEXT,
			ticks INTEGER NOT NULL,
			finished_at TEXT NOT NULL,
			PRIMARY KEY (run_id, test, attempt)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_test ON outcomes(test, run_id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteErrors counts rows that were not stored: writer failures and outcomes
// the listener recorded after Close.
func (s *DB) WriteErrors() uint64 { return s.failed.Load() }

func (s *DB) send(r req) error {
	if s == nil || s.closed.Load() {
		return ErrClosed
	}
	s.ch <- r
	return nil
}

// Record queues an outcome for writing.
func (s *DB) Record(o Outcome) error { return s.send(req{kind: reqOutcome, outcome: o}) }

// SaveRun queues an insert or update of a run row.
func (s *DB) SaveRun(r Run) error { return s.send(req{kind: reqRun, run: r}) }

// Sync waits until everything queued before it is committed.
func (s *DB) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.send(req{kind: reqSync, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FailedTests returns the tests whose last attempt failed in the most
// recently started run. Like the other queries it first waits for queued
// writes.
func (s *DB) FailedTests(ctx context.Context) ([]string, error) {
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.test FROM outcomes o
		WHERE o.run_id = (SELECT id FROM runs ORDER BY started_at DESC LIMIT 1)
		  AND o.attempt = (SELECT MAX(attempt) FROM outcomes WHERE run_id = o.run_id AND test = o.test)
		  AND o.state = 'FAILED'
		ORDER BY o.test`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Runs lists up to limit runs, newest first.
func (s *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, COALESCE(finished_at, ''), total, passed, failed_required, failed_optional, halted
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
			halted            int
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Total, &r.Passed, &r.FailedRequired, &r.FailedOptional, &halted); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(tsLayout, started)
		if finished != "" {
			r.FinishedAt, _ = time.Parse(tsLayout, finished)
		}
		r.Halted = halted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Outcomes lists every recorded attempt of a run ordered by test and attempt.
func (s *DB) Outcomes(ctx context.Context, runID string) ([]Outcome, error) {
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT test, attempt, batch, required, state, COALESCE(code, ''), COALESCE(error, ''), ticks, finished_at
		FROM outcomes WHERE run_id = ? ORDER BY test, attempt`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Outcome
	for rows.Next() {
		o := Outcome{RunID: runID}
		var (
			required int
			finished string
		)
		if err := rows.Scan(&o.Test, &o.Attempt, &o.Batch, &required, &o.State, &o.Code, &o.Error, &o.Ticks, &finished); err != nil {
			return nil, err
		}
		o.Required = required != 0
		o.FinishedAt, _ = time.Parse(tsLayout, finished)
		out = append(out, o)
	}
	return out, rows.Err()
}

func ts(t time.Time) string { return t.UTC().Format(tsLayout) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *DB) loop() {
	ctx := context.Background()

	insertOutcome, _ := s.db.Prepare(`INSERT OR REPLACE INTO outcomes(run_id,test,attempt,batch,required,state,code,error,ticks,finished_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	upsertRun, _ := s.db.Prepare(`INSERT INTO runs(id,started_at,finished_at,total,passed,failed_required,failed_optional,halted) VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET finished_at=excluded.finished_at, total=excluded.total, passed=excluded.passed,
		failed_required=excluded.failed_required, failed_optional=excluded.failed_optional, halted=excluded.halted`)
	defer func() {
		if insertOutcome != nil {
			_ = insertOutcome.Close()
		}
		if upsertRun != nil {
			_ = upsertRun.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
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
		if err := tx.Commit(); err != nil {
			s.failed.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failed.Add(uint64(opCount) + 1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	handle := func(r req) {
		if r.kind == reqSync {
			commit()
			close(r.done)
			return
		}
		begin()
		if tx == nil {
			s.failed.Add(1)
			return
		}
		switch r.kind {
		case reqOutcome:
			o := r.outcome
			if insertOutcome == nil {
				s.failed.Add(1)
				return
			}
			if _, err := tx.Stmt(insertOutcome).Exec(
				o.RunID, o.Test, o.Attempt, o.Batch, boolInt(o.Required), o.State, o.Code, o.Error, o.Ticks, ts(o.FinishedAt),
			); err != nil {
				rollback()
				return
			}
			opCount++

		case reqRun:
			ru := r.run
			if upsertRun == nil {
				s.failed.Add(1)
				return
			}
			var finished any
			if !ru.FinishedAt.IsZero() {
				finished = ts(ru.FinishedAt)
			}
			if _, err := tx.Stmt(upsertRun).Exec(
				ru.ID, ts(ru.StartedAt), finished, ru.Total, ru.Passed, ru.FailedRequired, ru.FailedOptional, boolInt(ru.Halted),
			); err != nil {
				rollback()
				return
			}
			opCount++
		}
		if opCount >= commitEvery {
			commit()
		}
	}

	// Readers share the single connection, so an idle open tx is committed
	// on a timer.
	flush := time.NewTicker(commitMaxWait)
	defer flush.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			handle(r)
		case <-flush.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}

// Listener records every terminal attempt under runID.
func (s *DB) Listener(runID string) gametest.Listener { return recorder{db: s, runID: runID} }

type recorder struct {
	gametest.NopListener
	db    *DB
	runID string
}

func (l recorder) OnPassed(inst *gametest.Instance, _ *gametest.Runner) { l.record(inst) }
func (l recorder) OnFailed(inst *gametest.Instance, _ *gametest.Runner) { l.record(inst) }

func (l recorder) record(inst *gametest.Instance) {
	o := Outcome{
		RunID:      l.runID,
		Test:       inst.Name(),
		Batch:      inst.Definition().Batch,
		Attempt:    inst.Attempt(),
		Required:   inst.Required(),
		State:      inst.State().String(),
		Ticks:      inst.Tick(),
		FinishedAt: time.Now(),
	}
	if err := inst.Err(); err != nil {
		o.Code = gametest.Code(err)
		o.Error = err.Error()
	}
	if err := l.db.Record(o); err != nil {
		l.db.failed.Add(1)
	}
}

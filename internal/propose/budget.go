package propose

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucasnoah/repairloop/internal/db"
)

// ErrBudgetStore wraps failures of the persistent budget stores.
var ErrBudgetStore = errors.New("proposer budget store")

// Usage is the spend for one UTC day, overall and for one task.
type Usage struct {
	CallsDay   int     `json:"calls_day"`
	SecondsDay float64 `json:"seconds_day"`
	CallsTask  int     `json:"calls_task"`
}

// Snapshot rounds seconds to microseconds for logging.
func (u Usage) Snapshot() Usage {
	u.SecondsDay = math.Round(u.SecondsDay*1e6) / 1e6
	return u
}

// BudgetStore keeps proposer spend keyed by UTC day ("20060102") and task.
// Record returns the usage after the call was counted.
type BudgetStore interface {
	Usage(ctx context.Context, day, taskID string) (Usage, error)
	Record(ctx context.Context, day, taskID string, seconds float64) (Usage, error)
}

// BudgetState is the process-local store. All counters reset together the
// first time a new day is seen.
type BudgetState struct {
	mu      sync.Mutex
	day     string
	calls   int
	seconds float64
	perTask map[string]int
}

// NewBudgetState returns an empty in-memory store.
func NewBudgetState() *BudgetState {
	return &BudgetState{perTask: map[string]int{}}
}

func (b *BudgetState) rollover(day string) {
	if day == b.day {
		return
	}
	b.day = day
	b.calls = 0
	b.seconds = 0
	b.perTask = map[string]int{}
}

func (b *BudgetState) Usage(_ context.Context, day, taskID string) (Usage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover(day)
	return Usage{CallsDay: b.calls, SecondsDay: b.seconds, CallsTask: b.perTask[taskID]}, nil
}

func (b *BudgetState) Record(_ context.Context, day, taskID string, seconds float64) (Usage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover(day)
	b.calls++
	b.seconds += seconds
	b.perTask[taskID]++
	return Usage{CallsDay: b.calls, SecondsDay: b.seconds, CallsTask: b.perTask[taskID]}, nil
}

// SQLiteBudgetStore shares the budget between processes on one machine
// through the local index database.
type SQLiteBudgetStore struct {
	DB *db.DB
}

func (s *SQLiteBudgetStore) Usage(ctx context.Context, day, taskID string) (Usage, error) {
	calls, secs, task, err := s.DB.BudgetUsage(ctx, day, taskID)
	if err != nil {
		return Usage{}, fmt.Errorf("%w: %v", ErrBudgetStore, err)
	}
	return Usage{CallsDay: calls, SecondsDay: secs, CallsTask: task}, nil
}

func (s *SQLiteBudgetStore) Record(ctx context.Context, day, taskID string, seconds float64) (Usage, error) {
	if err := s.DB.RecordBudget(ctx, day, taskID, seconds); err != nil {
		return Usage{}, fmt.Errorf("%w: %v", ErrBudgetStore, err)
	}
	return s.Usage(ctx, day, taskID)
}

const pgBudgetSchema = `
CREATE TABLE IF NOT EXISTS proposer_budget (
    day TEXT NOT NULL,
    task_id TEXT NOT NULL,
    calls INTEGER NOT NULL DEFAULT 0,
    seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (day, task_id)
)`

// PostgresBudgetStore shares one budget between every process that points
// at the same database.
type PostgresBudgetStore struct {
	pool *pgxpool.Pool
}

// NewPostgresBudgetStore connects to dsn and creates the budget table if
// needed.
func NewPostgresBudgetStore(ctx context.Context, dsn string) (*PostgresBudgetStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrBudgetStore, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrBudgetStore, err)
	}
	if _, err := pool.Exec(ctx, pgBudgetSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: create table: %v", ErrBudgetStore, err)
	}
	return &PostgresBudgetStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresBudgetStore) Close() {
	s.pool.Close()
}

func (s *PostgresBudgetStore) Usage(ctx context.Context, day, taskID string) (Usage, error) {
	var calls, task int64
	var secs float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(calls), 0),
		       COALESCE(SUM(seconds), 0),
		       COALESCE(SUM(calls) FILTER (WHERE task_id = $2), 0)
		FROM proposer_budget WHERE day = $1`, day, taskID).Scan(&calls, &secs, &task)
	if err != nil {
		return Usage{}, fmt.Errorf("%w: usage: %v", ErrBudgetStore, err)
	}
	return Usage{CallsDay: int(calls), SecondsDay: secs, CallsTask: int(task)}, nil
}

func (s *PostgresBudgetStore) Record(ctx context.Context, day, taskID string, seconds float64) (Usage, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO proposer_budget (day, task_id, calls, seconds) VALUES ($1, $2, 1, $3)
		ON CONFLICT (day, task_id) DO UPDATE
		SET calls = proposer_budget.calls + 1, seconds = proposer_budget.seconds + EXCLUDED.seconds`,
		day, taskID, seconds)
	if err != nil {
		return Usage{}, fmt.Errorf("%w: record: %v", ErrBudgetStore, err)
	}
	return s.Usage(ctx, day, taskID)
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"studiobook/internal/domain"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// pq error code for serialization_failure.
const pqSerializationFailure = "40001"

type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type executor struct {
	run     runner
	builder squirrel.StatementBuilderType
	driver  string
}

// SQLBackend implements Backend over database/sql for sqlite3 and postgres.
type SQLBackend struct {
	executor
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// OpenSQLite opens the database file at path in WAL mode. Write transactions take the
// database lock on BEGIN so concurrent verify-then-write sequences are serialized.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLBackend, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	b := NewSQLBackend(db, DriverSQLite, logger)
	b.path = path
	return b, nil
}

// OpenPostgres opens a postgres connection pool.
func OpenPostgres(dsn string, logger zerolog.Logger) (*SQLBackend, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewSQLBackend(db, DriverPostgres, logger), nil
}

// NewSQLBackend wraps an open *sql.DB.
func NewSQLBackend(db *sql.DB, driver string, logger zerolog.Logger) *SQLBackend {
	builder := squirrel.StatementBuilder
	if driver == DriverPostgres {
		builder = builder.PlaceholderFormat(squirrel.Dollar)
	}
	return &SQLBackend{
		executor: executor{run: db, builder: builder, driver: driver},
		db:       db,
		logger:   logger.With().Str("component", "database").Str("driver", driver).Logger(),
	}
}

// Path returns the sqlite file path, empty for other drivers.
func (b *SQLBackend) Path() string { return b.path }

// DB exposes the pool for maintenance tasks.
func (b *SQLBackend) DB() *sql.DB { return b.db }

func (b *SQLBackend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

func (b *SQLBackend) Close() error { return b.db.Close() }

func (b *SQLBackend) Tx(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error {
	var opts *sql.TxOptions
	if b.driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	tx, err := b.db.BeginTx(ctx, opts)
	if err != nil {
		return classify("begin tx", err)
	}

	if err := fn(ctx, &sqlTx{executor: executor{run: tx, builder: b.builder, driver: b.driver}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			b.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

type sqlTx struct {
	executor
}

// Tx on an open transaction joins it.
func (t *sqlTx) Tx(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error {
	return fn(ctx, t)
}

func (t *sqlTx) Ping(context.Context) error { return nil }

func (t *sqlTx) Close() error { return nil }

func (e executor) Query(ctx context.Context, table string, filter Filter, orderBy ...string) ([]Row, error) {
	if err := checkTable(table); err != nil {
		return nil, fmt.Errorf("%w: %s", err, table)
	}
	q := e.builder.Select("*").From(table)
	where, err := sqlizeFilter(filter)
	if err != nil {
		return nil, err
	}
	if where != nil {
		q = q.Where(where)
	}
	if len(orderBy) > 0 {
		q = q.OrderBy(orderBy...)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", ErrBuildQuery, table, err)
	}

	rows, err := e.run.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query "+table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify("columns "+table, err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify("scan "+table, err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("rows "+table, err)
	}
	return out, nil
}

func (e executor) Insert(ctx context.Context, table string, rows ...Row) ([]Row, error) {
	if err := checkTable(table); err != nil {
		return nil, fmt.Errorf("%w: %s", err, table)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := columnsOf(rows)
	q := e.builder.Insert(table).Columns(cols...)
	for _, r := range rows {
		values := make([]any, len(cols))
		for i, c := range cols {
			values[i] = r[c]
		}
		q = q.Values(values...)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: insert %s: %v", ErrBuildQuery, table, err)
	}
	if _, err := e.run.ExecContext(ctx, query, args...); err != nil {
		return nil, classify("insert "+table, err)
	}

	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = cloneRow(r)
	}
	return out, nil
}

func (e executor) Update(ctx context.Context, table string, filter Filter, patch Row) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, fmt.Errorf("%w: %s", err, table)
	}
	if len(patch) == 0 {
		return 0, fmt.Errorf("%w: update %s: empty patch", ErrBuildQuery, table)
	}
	q := e.builder.Update(table).SetMap(map[string]any(patch))
	where, err := sqlizeFilter(filter)
	if err != nil {
		return 0, err
	}
	if where != nil {
		q = q.Where(where)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: update %s: %v", ErrBuildQuery, table, err)
	}
	res, err := e.run.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify("update "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("rows affected "+table, err)
	}
	return n, nil
}

func (e executor) Delete(ctx context.Context, table string, filter Filter) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, fmt.Errorf("%w: %s", err, table)
	}
	q := e.builder.Delete(table)
	where, err := sqlizeFilter(filter)
	if err != nil {
		return 0, err
	}
	if where != nil {
		q = q.Where(where)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: delete %s: %v", ErrBuildQuery, table, err)
	}
	res, err := e.run.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify("delete "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("rows affected "+table, err)
	}
	return n, nil
}

func sqlizeFilter(filter Filter) (squirrel.Sqlizer, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	and := make(squirrel.And, 0, len(filter))
	for _, c := range filter {
		switch c.Op {
		case OpEq:
			and = append(and, squirrel.Eq{c.Column: c.Value})
		case OpNeq:
			and = append(and, squirrel.NotEq{c.Column: c.Value})
		case OpGte:
			and = append(and, squirrel.GtOrEq{c.Column: c.Value})
		case OpLte:
			and = append(and, squirrel.LtOrEq{c.Column: c.Value})
		case OpIn:
			values, _ := c.Value.([]any)
			if len(values) == 0 {
				// IN () matches nothing.
				and = append(and, squirrel.Expr("1 = 0"))
				continue
			}
			and = append(and, squirrel.Eq{c.Column: values})
		default:
			return nil, fmt.Errorf("%w: unsupported operator %q on %s", ErrBuildQuery, c.Op, c.Column)
		}
	}
	return and, nil
}

func columnsOf(rows []Row) []string {
	seen := map[string]struct{}{}
	var cols []string
	for _, r := range rows {
		for c := range r {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			cols = append(cols, c)
		}
	}
	sort.Strings(cols)
	return cols
}

// classify maps driver errors onto the domain taxonomy. A postgres serialization failure
// means a concurrent transaction won the same slots.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqSerializationFailure {
		return fmt.Errorf("%w: %s: concurrent write: %v", domain.ErrSlotConflict, op, err)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && (liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %s: database busy: %v", domain.ErrBackendUnavailable, op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", domain.ErrBackendUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrBackendUnavailable, op, err)
}

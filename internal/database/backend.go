package database

import (
	"context"
	"errors"
)

// Logical tables.
const (
	TableWeeklySchedule = "weekly_schedule"
	TableExceptions     = "exceptions"
	TableConfig         = "studio_config"
)

var (
	// ErrBuildQuery is returned when a statement cannot be built from the filter or patch.
	ErrBuildQuery = errors.New("build query")
	// ErrUnknownTable is returned for tables outside the schema.
	ErrUnknownTable = errors.New("unknown table")
)

// Row is one record keyed by column name.
type Row map[string]any

// Op is a comparison operator of a filter condition.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGte Op = "gte"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Cond is one column comparison.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Filter is a conjunction of conditions. An empty filter matches every row.
type Filter []Cond

func Eq(column string, value any) Cond  { return Cond{Column: column, Op: OpEq, Value: value} }
func Neq(column string, value any) Cond { return Cond{Column: column, Op: OpNeq, Value: value} }
func Gte(column string, value any) Cond { return Cond{Column: column, Op: OpGte, Value: value} }
func Lte(column string, value any) Cond { return Cond{Column: column, Op: OpLte, Value: value} }

// In matches any of values. With no values it matches nothing.
func In(column string, values ...any) Cond {
	return Cond{Column: column, Op: OpIn, Value: values}
}

// Where builds a Filter.
func Where(conds ...Cond) Filter { return Filter(conds) }

// Backend is the persistence collaborator of the stores.
//
// Implementations wrap I/O failures with domain.ErrBackendUnavailable. Tx runs fn
// with a Backend bound to one serializable transaction; returning an error rolls it back.
type Backend interface {
	Query(ctx context.Context, table string, filter Filter, orderBy ...string) ([]Row, error)
	Insert(ctx context.Context, table string, rows ...Row) ([]Row, error)
	Update(ctx context.Context, table string, filter Filter, patch Row) (int64, error)
	Delete(ctx context.Context, table string, filter Filter) (int64, error)
	Tx(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error
	Ping(ctx context.Context) error
	Close() error
}

func checkTable(table string) error {
	switch table {
	case TableWeeklySchedule, TableExceptions, TableConfig:
		return nil
	}
	return ErrUnknownTable
}

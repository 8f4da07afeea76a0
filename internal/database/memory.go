package database

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBackend keeps tables in process memory. Transactions are serialized
// with every other read and write and roll back on error, so a reader never
// sees rows of an uncommitted transaction.
type MemoryBackend struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data map[string][]Row
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]Row)}
}

func (m *MemoryBackend) Query(ctx context.Context, table string, filter Filter, orderBy ...string) ([]Row, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.query(table, filter, orderBy)
}

func (m *MemoryBackend) Insert(ctx context.Context, table string, rows ...Row) ([]Row, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.insert(table, rows)
}

func (m *MemoryBackend) Update(ctx context.Context, table string, filter Filter, patch Row) (int64, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.update(table, filter, patch)
}

func (m *MemoryBackend) Delete(ctx context.Context, table string, filter Filter) (int64, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.delete(table, filter)
}

func (m *MemoryBackend) Tx(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapshot := m.snapshot()
	if err := fn(ctx, &memoryTx{m: m}); err != nil {
		m.mu.Lock()
		m.data = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }

// memoryTx runs inside MemoryBackend.Tx and already holds txMu.
type memoryTx struct {
	m *MemoryBackend
}

func (t *memoryTx) Query(ctx context.Context, table string, filter Filter, orderBy ...string) ([]Row, error) {
	return t.m.query(table, filter, orderBy)
}

func (t *memoryTx) Insert(ctx context.Context, table string, rows ...Row) ([]Row, error) {
	return t.m.insert(table, rows)
}

func (t *memoryTx) Update(ctx context.Context, table string, filter Filter, patch Row) (int64, error) {
	return t.m.update(table, filter, patch)
}

func (t *memoryTx) Delete(ctx context.Context, table string, filter Filter) (int64, error) {
	return t.m.delete(table, filter)
}

func (t *memoryTx) Tx(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error {
	return fn(ctx, t)
}

func (t *memoryTx) Ping(context.Context) error { return nil }

func (t *memoryTx) Close() error { return nil }

func (m *MemoryBackend) snapshot() map[string][]Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]Row, len(m.data))
	for table, rows := range m.data {
		copied := make([]Row, len(rows))
		for i, r := range rows {
			copied[i] = cloneRow(r)
		}
		out[table] = copied
	}
	return out
}

func (m *MemoryBackend) query(table string, filter Filter, orderBy []string) ([]Row, error) {
	if err := checkTable(table); err != nil {
		return nil, fmt.Errorf("%w: %s", err, table)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Row
	for _, r := range m.data[table] {
		ok, err := matches(r, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cloneRow(r))
		}
	}
	if len(orderBy) > 0 {
		sortRows(out, orderBy)
	}
	return out, nil
}

func (m *MemoryBackend) insert(table string, rows []Row) ([]Row, error) {
	if err := checkTable(table); err != nil {
		return nil, fmt.Errorf("%w: %s", err, table)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := primaryKey(table)
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		for _, existing := range m.data[table] {
			if compare(existing[key], r[key]) == 0 {
				return nil, fmt.Errorf("insert %s: duplicate %s %v", table, key, r[key])
			}
		}
		m.data[table] = append(m.data[table], normalizeRow(r))
		out = append(out, cloneRow(r))
	}
	return out, nil
}

func (m *MemoryBackend) update(table string, filter Filter, patch Row) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, fmt.Errorf("%w: %s", err, table)
	}
	if len(patch) == 0 {
		return 0, fmt.Errorf("%w: update %s: empty patch", ErrBuildQuery, table)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, r := range m.data[table] {
		ok, err := matches(r, filter)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		for k, v := range patch {
			r[k] = normalize(v)
		}
		n++
	}
	return n, nil
}

func (m *MemoryBackend) delete(table string, filter Filter) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, fmt.Errorf("%w: %s", err, table)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.data[table][:0]
	var n int64
	for _, r := range m.data[table] {
		ok, err := matches(r, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.data[table] = kept
	return n, nil
}

func primaryKey(table string) string {
	switch table {
	case TableWeeklySchedule:
		return "day_of_week"
	case TableConfig:
		return "config_key"
	}
	return "id"
}

func matches(r Row, filter Filter) (bool, error) {
	for _, c := range filter {
		v := normalize(r[c.Column])
		switch c.Op {
		case OpEq:
			if compare(v, normalize(c.Value)) != 0 {
				return false, nil
			}
		case OpNeq:
			if compare(v, normalize(c.Value)) == 0 {
				return false, nil
			}
		case OpGte:
			if v == nil || compare(v, normalize(c.Value)) < 0 {
				return false, nil
			}
		case OpLte:
			if v == nil || compare(v, normalize(c.Value)) > 0 {
				return false, nil
			}
		case OpIn:
			values, _ := c.Value.([]any)
			found := false
			for _, want := range values {
				if compare(v, normalize(want)) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("%w: unsupported operator %q on %s", ErrBuildQuery, c.Op, c.Column)
		}
	}
	return true, nil
}

func sortRows(rows []Row, orderBy []string) {
	type key struct {
		col  string
		desc bool
	}
	keys := make([]key, 0, len(orderBy))
	for _, o := range orderBy {
		fields := strings.Fields(o)
		if len(fields) == 0 {
			continue
		}
		keys = append(keys, key{col: fields[0], desc: len(fields) > 1 && strings.EqualFold(fields[1], "DESC")})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			c := compare(normalize(rows[i][k.col]), normalize(rows[j][k.col]))
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func normalizeRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = normalize(v)
	}
	return out
}

// normalize folds named and sized scalar types onto string, int64, float64, bool and time.Time.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, int64, float64, bool:
		return x
	case time.Time:
		return x.UTC()
	case []byte:
		return string(x)
	case *string:
		if x == nil {
			return nil
		}
		return *x
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

// compare orders normalized values; nil sorts first, mismatched types compare by their text.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y)
		case float64:
			return cmpOrdered(float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpOrdered(x, y)
		case int64:
			return cmpOrdered(x, float64(y))
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

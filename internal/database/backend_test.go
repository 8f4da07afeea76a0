package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) *SQLBackend {
	t.Helper()
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Migrate(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func backends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": newSQLite(t),
	}
}

func exceptionRow(id, date, kind, status string) Row {
	return Row{
		"id":           id,
		"booking_date": date,
		"kind":         kind,
		"time_slots":   `["10:00"]`,
		"status":       status,
		"customer_ref": nil,
		"created_at":   time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestBackendCRUD(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Insert(ctx, TableExceptions,
				exceptionRow("a", "2025-03-01", "booking", "pending"),
				exceptionRow("b", "2025-03-02", "admin_block", "confirmed"),
				exceptionRow("c", "2025-03-03", "booking", "cancelled"),
			)
			require.NoError(t, err)

			rows, err := b.Query(ctx, TableExceptions, Where(Gte("booking_date", "2025-03-02"), Lte("booking_date", "2025-03-03")), "booking_date")
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, "b", rows[0].String("id"))
			assert.Equal(t, "c", rows[1].String("id"))
			assert.Nil(t, rows[0].NullString("customer_ref"))
			assert.Equal(t, 2025, rows[0].Time("created_at").Year())

			rows, err = b.Query(ctx, TableExceptions, Where(Neq("status", "cancelled")), "id DESC")
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, "b", rows[0].String("id"))

			rows, err = b.Query(ctx, TableExceptions, Where(In("id", "a", "c")))
			require.NoError(t, err)
			assert.Len(t, rows, 2)

			rows, err = b.Query(ctx, TableExceptions, Where(In("id")))
			require.NoError(t, err)
			assert.Empty(t, rows)

			n, err := b.Update(ctx, TableExceptions, Where(Eq("id", "a")), Row{"status": "confirmed"})
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			rows, err = b.Query(ctx, TableExceptions, Where(Eq("status", "confirmed")))
			require.NoError(t, err)
			assert.Len(t, rows, 2)

			n, err = b.Delete(ctx, TableExceptions, Where(Eq("kind", "booking")))
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			rows, err = b.Query(ctx, TableExceptions, nil)
			require.NoError(t, err)
			assert.Len(t, rows, 1)
		})
	}
}

func TestBackendBooleans(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Insert(ctx, TableWeeklySchedule,
				Row{"day_of_week": 1, "is_active": true, "time_slots": "[]"},
				Row{"day_of_week": 0, "is_active": false, "time_slots": "[]"},
			)
			require.NoError(t, err)

			rows, err := b.Query(ctx, TableWeeklySchedule, Where(Eq("is_active", true)))
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, int64(1), rows[0].Int64("day_of_week"))
			assert.True(t, rows[0].Bool("is_active"))

			rows, err = b.Query(ctx, TableWeeklySchedule, nil, "day_of_week")
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.False(t, rows[0].Bool("is_active"))
		})
	}
}

func TestBackendTxRollback(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := b.Tx(ctx, func(ctx context.Context, tx Backend) error {
				if _, err := tx.Insert(ctx, TableConfig, Row{"config_key": "k", "config_value": "v"}); err != nil {
					return err
				}
				rows, err := tx.Query(ctx, TableConfig, Where(Eq("config_key", "k")))
				if err != nil {
					return err
				}
				assert.Len(t, rows, 1)
				return boom
			})
			assert.ErrorIs(t, err, boom)

			rows, err := b.Query(ctx, TableConfig, nil)
			require.NoError(t, err)
			assert.Empty(t, rows)

			err = b.Tx(ctx, func(ctx context.Context, tx Backend) error {
				return tx.Tx(ctx, func(ctx context.Context, inner Backend) error {
					_, err := inner.Insert(ctx, TableConfig, Row{"config_key": "k", "config_value": "v"})
					return err
				})
			})
			require.NoError(t, err)

			rows, err = b.Query(ctx, TableConfig, nil)
			require.NoError(t, err)
			assert.Len(t, rows, 1)
		})
	}
}

func TestBackendRejectsUnknownTable(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Query(ctx, "users", nil)
			assert.ErrorIs(t, err, ErrUnknownTable)
			_, err = b.Update(ctx, TableConfig, nil, Row{})
			assert.ErrorIs(t, err, ErrBuildQuery)
		})
	}
}

func TestMemoryBackendDuplicateKey(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	_, err := b.Insert(ctx, TableWeeklySchedule, Row{"day_of_week": 3})
	require.NoError(t, err)
	_, err = b.Insert(ctx, TableWeeklySchedule, Row{"day_of_week": int64(3)})
	assert.Error(t, err)
}

func TestMemoryBackendHidesUncommittedRows(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	boom := errors.New("boom")

	inserted := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- b.Tx(ctx, func(ctx context.Context, tx Backend) error {
			if _, err := tx.Insert(ctx, TableExceptions, exceptionRow("a", "2025-06-02", "booking", "pending")); err != nil {
				return err
			}
			close(inserted)
			<-release
			return boom
		})
	}()
	<-inserted

	result := make(chan []Row, 1)
	go func() {
		rows, err := b.Query(ctx, TableExceptions, nil)
		assert.NoError(t, err)
		result <- rows
	}()

	select {
	case rows := <-result:
		t.Fatalf("query returned %d rows while the transaction was open", len(rows))
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.ErrorIs(t, <-txDone, boom)
	assert.Empty(t, <-result)
}

func TestRowAccessors(t *testing.T) {
	r := Row{
		"s":   []byte("text"),
		"b":   int64(1),
		"bs":  "true",
		"n":   "42",
		"t":   "2025-03-01 10:00:00+00:00",
		"nil": nil,
	}
	assert.Equal(t, "text", r.String("s"))
	assert.True(t, r.Bool("b"))
	assert.True(t, r.Bool("bs"))
	assert.Equal(t, int64(42), r.Int64("n"))
	assert.Equal(t, 10, r.Time("t").Hour())
	assert.Nil(t, r.NullString("nil"))
	assert.Equal(t, "", r.String("missing"))
}

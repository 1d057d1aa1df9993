package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/insight/internal/observability"
)

func setupStore(t *testing.T, audit *observability.AuditLog) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Path:   filepath.Join(t.TempDir(), "business.db"),
		Seed:   true,
		Logger: zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.ErrorLevel),
		Audit:  audit,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSeeds(t *testing.T) {
	s := setupStore(t, nil)
	ctx := context.Background()

	rs, err := s.Query(ctx, "SELECT COUNT(*) AS n FROM products")
	require.NoError(t, err)
	assert.Equal(t, int64(len(SampleProducts)), rs.Rows[0][0])

	rs, err = s.Query(ctx, "SELECT COUNT(*) FROM sales")
	require.NoError(t, err)
	assert.Equal(t, int64(len(SampleSales)), rs.Rows[0][0])

	t.Run("should not seed twice", func(t *testing.T) {
		require.NoError(t, s.ensureSchema(ctx, true))
		rs, err := s.Query(ctx, "SELECT COUNT(*) FROM products")
		require.NoError(t, err)
		assert.Equal(t, int64(len(SampleProducts)), rs.Rows[0][0])
	})
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(context.Background(), Config{Path: ":memory:", Seed: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer s.Close()

	tables, err := s.Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"products", "sales"}, tables)
}

func TestQuery(t *testing.T) {
	s := setupStore(t, nil)
	ctx := context.Background()

	t.Run("should return columns and rows", func(t *testing.T) {
		rs, err := s.Query(ctx, "SELECT name, stock_quantity FROM products WHERE name LIKE '%MacBook%'")
		require.NoError(t, err)

		assert.Equal(t, []string{"name", "stock_quantity"}, rs.Columns)
		require.Len(t, rs.Rows, 1)
		assert.Equal(t, "name | stock_quantity\nApple MacBook Pro 14 | 25", rs.Render(RenderOptions{}))
	})

	t.Run("should keep only the row cap in memory and count the rest", func(t *testing.T) {
		capped, err := Open(ctx, Config{Path: ":memory:", Seed: true, MaxRows: 3, Logger: zerolog.Nop()})
		require.NoError(t, err)
		defer capped.Close()

		rs, err := capped.Query(ctx, "SELECT sale_id FROM sales ORDER BY sale_id")
		require.NoError(t, err)
		assert.Len(t, rs.Rows, 3)
		assert.Equal(t, 10, rs.TotalRows)
		assert.Equal(t, int64(3), rs.Rows[2][0])
		assert.True(t, strings.HasSuffix(rs.Render(RenderOptions{MaxRows: 3}), "(3 of 10 rows shown)"))
	})

	t.Run("should report syntax errors distinctly", func(t *testing.T) {
		_, err := s.Query(ctx, "SELEC * FROM products")

		var qe *QueryError
		require.True(t, errors.As(err, &qe))
		assert.True(t, qe.Syntax)
	})

	t.Run("should report execution errors distinctly", func(t *testing.T) {
		_, err := s.Query(ctx, "SELECT * FROM customers")

		var qe *QueryError
		require.True(t, errors.As(err, &qe))
		assert.False(t, qe.Syntax)
		assert.Contains(t, qe.Error(), "no such table")
	})

	t.Run("should reject empty statements", func(t *testing.T) {
		_, err := s.Query(ctx, "   ")
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("should execute writes and report affected rows", func(t *testing.T) {
		rs, err := s.Query(ctx, "UPDATE products SET stock_quantity = stock_quantity - 1 WHERE product_id = 1")
		require.NoError(t, err)

		assert.True(t, rs.Write)
		assert.Equal(t, int64(1), rs.RowsAffected)
		assert.Equal(t, "Statement executed. Rows affected: 1", rs.Render(RenderOptions{}))

		rs, err = s.Query(ctx, "SELECT stock_quantity FROM products WHERE product_id = 1")
		require.NoError(t, err)
		assert.Equal(t, int64(29), rs.Rows[0][0])
	})
}

func TestWritesAreAudited(t *testing.T) {
	var buf bytes.Buffer
	s := setupStore(t, observability.NewAuditLog(&buf))

	_, err := s.Query(context.Background(), "DELETE FROM sales WHERE sale_id = 101")
	require.NoError(t, err)
	_, err = s.Query(context.Background(), "SELECT * FROM sales")
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(buf.String(), "sql_write"))
	assert.Contains(t, buf.String(), `"actor":"cli"`)
}

func TestConcurrentReads(t *testing.T) {
	s := setupStore(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rs, err := s.Query(context.Background(), "SELECT SUM(quantity_sold) FROM sales")
			assert.NoError(t, err)
			if err == nil {
				assert.Equal(t, int64(18), rs.Rows[0][0])
			}
		}()
	}
	wg.Wait()
}

func TestReturnsRows(t *testing.T) {
	tests := map[string]bool{
		"SELECT 1":                             true,
		"  select * from products":             true,
		"WITH t AS (SELECT 1) SELECT * FROM t": true,
		"PRAGMA table_info(products)":          true,
		"(SELECT 1)":                           true,
		"UPDATE products SET price = 1":        false,
		"INSERT INTO sales VALUES (1)":         false,
		"SELECTION":                            false,
		"DROP TABLE sales":                     false,
	}
	for q, want := range tests {
		assert.Equal(t, want, returnsRows(q), q)
	}
}

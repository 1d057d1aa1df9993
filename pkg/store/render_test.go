package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	rs := &ResultSet{
		Columns: []string{"product_id", "name", "price", "note"},
		Rows: [][]any{
			{int64(1), "Dell XPS 15", float64(28500000), nil},
			{int64(2), []byte("Apple MacBook Pro 14"), float64(35000000.5), "x"},
		},
	}

	t.Run("should render header and rows", func(t *testing.T) {
		out := rs.Render(RenderOptions{})
		assert.Equal(t,
			"product_id | name | price | note\n"+
				"1 | Dell XPS 15 | 28500000 | NULL\n"+
				"2 | Apple MacBook Pro 14 | 35000000.5 | x",
			out)
	})

	t.Run("should bound rows", func(t *testing.T) {
		out := rs.Render(RenderOptions{MaxRows: 1})
		assert.Contains(t, out, "Dell XPS 15")
		assert.NotContains(t, out, "MacBook")
		assert.True(t, strings.HasSuffix(out, "(1 of 2 rows shown)"))
	})

	t.Run("should bound bytes but keep one row", func(t *testing.T) {
		out := rs.Render(RenderOptions{MaxBytes: 40})
		assert.Contains(t, out, "Dell XPS 15")
		assert.Contains(t, out, "(1 of 2 rows shown)")
	})

	t.Run("should say when there are no rows", func(t *testing.T) {
		empty := &ResultSet{Columns: []string{"name"}}
		assert.Equal(t, "name\n(no rows)", empty.Render(RenderOptions{}))
	})
}

func TestSchema(t *testing.T) {
	s := setupStore(t, nil)
	ctx := context.Background()

	out, err := s.Schema(ctx, []string{"products", " sales "}, 3)
	require.NoError(t, err)

	assert.Contains(t, out, "CREATE TABLE")
	assert.Contains(t, out, "stock_quantity INTEGER")
	assert.Contains(t, out, "channel TEXT")
	assert.Contains(t, out, "3 rows from products table:")
	assert.Contains(t, out, "Dell XPS 15")

	t.Run("should reject unknown tables", func(t *testing.T) {
		_, err := s.Schema(ctx, []string{"customers"}, 0)
		var qe *QueryError
		require.ErrorAs(t, err, &qe)
		assert.Contains(t, qe.Error(), "no such table")
	})
}

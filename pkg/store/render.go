package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RenderOptions bounds the text form of a result set.
type RenderOptions struct {
	MaxRows  int
	MaxBytes int
}

// Render formats the result set as a pipe-delimited table with a header
// line, stopping at MaxRows rows or MaxBytes bytes, whichever comes first.
func (rs *ResultSet) Render(opts RenderOptions) string {
	if rs.Write {
		return fmt.Sprintf("Statement executed. Rows affected: %d", rs.RowsAffected)
	}
	if len(rs.Columns) == 0 {
		return "Statement executed."
	}

	var b strings.Builder
	b.WriteString(strings.Join(rs.Columns, " | "))
	b.WriteByte('\n')

	total := rs.TotalRows
	if total < len(rs.Rows) {
		total = len(rs.Rows)
	}
	if total == 0 {
		b.WriteString("(no rows)")
		return b.String()
	}

	shown := 0
	for _, row := range rs.Rows {
		if opts.MaxRows > 0 && shown >= opts.MaxRows {
			break
		}
		line := formatRow(row)
		if opts.MaxBytes > 0 && b.Len()+len(line)+1 > opts.MaxBytes && shown > 0 {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
		shown++
	}

	if shown < total {
		fmt.Fprintf(&b, "... (%d of %d rows shown)", shown, total)
		return b.String()
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatRow(row []any) string {
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = formatValue(v)
	}
	return strings.Join(cells, " | ")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

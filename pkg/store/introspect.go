package store

import (
	"context"
	"fmt"
	"strings"
)

// Tables lists user tables by name.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rs, err := s.Query(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		names = append(names, formatValue(row[0]))
	}
	return names, nil
}

// Schema returns the CREATE statement of each table followed by a few
// sample rows, in the order given.
func (s *Store) Schema(ctx context.Context, tables []string, sampleRows int) (string, error) {
	var b strings.Builder
	for i, table := range tables {
		table = strings.TrimSpace(table)
		if table == "" {
			continue
		}

		rs, err := s.Query(ctx, fmt.Sprintf(
			"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = %s", quoteLiteral(table)))
		if err != nil {
			return "", err
		}
		if len(rs.Rows) == 0 {
			return "", &QueryError{Err: fmt.Errorf("no such table: %s", table)}
		}

		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(formatValue(rs.Rows[0][0])))

		if sampleRows > 0 {
			sample, err := s.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), sampleRows))
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n\n/*\n%d rows from %s table:\n%s\n*/",
				len(sample.Rows), table, sample.Render(RenderOptions{}))
		}
	}
	return b.String(), nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

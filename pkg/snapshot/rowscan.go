package snapshot

import "database/sql"

// scanRow reads the current row of rows into a column-name-keyed map,
// using columns as the expected column order. Both workers and, later,
// any direct-SELECT paths share this shape so the sink always receives
// the same payload representation regardless of caller.
func scanRow(rows *sql.Rows, columns []string) (map[string]any, error) {
	dest := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	payload := make(map[string]any, len(columns))
	for i, col := range columns {
		payload[col] = dest[i]
	}
	return payload, nil
}

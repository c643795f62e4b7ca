// Package table introspects the schema of the tables the engine snapshots
// and streams: column names, the id-based primary key, and its current
// bounds.
package table

import (
	"context"
	"database/sql"
	"fmt"
)

// Info describes one table's shape as observed on the primary. The engine
// populates it; snapshot workers and the binlog consumer read it.
type Info struct {
	db *sql.DB

	SchemaName string
	TableName  string
	QuotedName string

	// Columns lists every column in ordinal position, used to build the
	// column->value payload handed to the sink.
	Columns []string

	// KeyColumn is the monotonically increasing integer primary key column.
	// Per spec this is always named "id"; tables that don't have one are a
	// non-goal and are rejected by SetInfo.
	KeyColumn string
}

// NewInfo returns an uninitialized Info; call SetInfo before use.
func NewInfo(db *sql.DB, schemaName, tableName string) *Info {
	return &Info{
		db:         db,
		SchemaName: schemaName,
		TableName:  tableName,
		QuotedName: fmt.Sprintf("`%s`.`%s`", schemaName, tableName),
	}
}

// SetInfo populates Columns and KeyColumn from the primary's information
// schema. It returns an error if the table does not exist or does not have
// a single-column integer primary key named "id".
func (i *Info) SetInfo(ctx context.Context) error {
	rows, err := i.db.QueryContext(ctx, "SELECT COLUMN_NAME FROM information_schema.columns "+
		"WHERE table_schema = ? AND table_name = ? ORDER BY ORDINAL_POSITION", i.SchemaName, i.TableName)
	if err != nil {
		return fmt.Errorf("describing %s: %w", i.QuotedName, err)
	}
	defer rows.Close()
	var columns []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return err
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(columns) == 0 {
		return fmt.Errorf("table %s not found in %s", i.TableName, i.SchemaName)
	}
	i.Columns = columns

	keyCol, err := i.primaryKeyColumn(ctx)
	if err != nil {
		return err
	}
	i.KeyColumn = keyCol
	return nil
}

// primaryKeyColumn returns the single column of the PRIMARY KEY, erroring
// if there isn't exactly one, it isn't named "id", or it isn't an integer
// column; tables without such a key are a non-goal.
func (i *Info) primaryKeyColumn(ctx context.Context) (string, error) {
	rows, err := i.db.QueryContext(ctx, "SELECT COLUMN_NAME FROM information_schema.key_column_usage "+
		"WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY' ORDER BY ORDINAL_POSITION",
		i.SchemaName, i.TableName)
	if err != nil {
		return "", fmt.Errorf("reading primary key of %s: %w", i.QuotedName, err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return "", err
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(cols) != 1 {
		return "", fmt.Errorf("table %s must have a single-column primary key, found %d columns", i.QuotedName, len(cols))
	}
	if cols[0] != "id" {
		return "", fmt.Errorf("table %s primary key must be named \"id\", found %q", i.QuotedName, cols[0])
	}
	var dataType string
	if err := i.db.QueryRowContext(ctx, "SELECT DATA_TYPE FROM information_schema.columns "+
		"WHERE table_schema = ? AND table_name = ? AND column_name = ?",
		i.SchemaName, i.TableName, cols[0]).Scan(&dataType); err != nil {
		return "", fmt.Errorf("reading primary key type of %s: %w", i.QuotedName, err)
	}
	switch dataType {
	case "tinyint", "smallint", "mediumint", "int", "bigint":
	default:
		return "", fmt.Errorf("table %s primary key must be an integer column, found %s", i.QuotedName, dataType)
	}
	return cols[0], nil
}

// Bounds returns COUNT(*), MIN(id) and MAX(id) as observed by the caller's
// transaction. Called once per table by each snapshot worker against its own
// consistent-snapshot connection.
func (i *Info) Bounds(ctx context.Context, db *sql.DB) (count int64, minID, maxID int64, err error) {
	var minN, maxN sql.NullInt64
	row := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*), MIN(%s), MAX(%s) FROM %s", i.KeyColumn, i.KeyColumn, i.QuotedName))
	if err := row.Scan(&count, &minN, &maxN); err != nil {
		return 0, 0, 0, fmt.Errorf("bounds of %s: %w", i.QuotedName, err)
	}
	return count, minN.Int64, maxN.Int64, nil
}

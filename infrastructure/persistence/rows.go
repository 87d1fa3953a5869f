package persistence

import (
	"github.com/jmoiron/sqlx"

	"datalens/domain/catalog"
)

// CollectRows drains a result set into the uniform QueryResult shape,
// reading at most limit rows. truncated reports either a requested limit
// above the ceiling (capped) or more rows remaining past the cap. Byte
// slices are normalized to strings so rows serialize cleanly.
func CollectRows(rows *sqlx.Rows, limit int, capped bool) (*catalog.QueryResult, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	columns := make([]catalog.QueryColumn, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = catalog.QueryColumn{
			Name: ct.Name(),
			Type: ct.DatabaseTypeName(),
		}
	}

	result := &catalog.QueryResult{
		Columns:   columns,
		Rows:      []map[string]interface{}{},
		Truncated: capped,
	}
	if limit == 0 {
		return result, rows.Err()
	}

	for rows.Next() {
		if len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		row := make(map[string]interface{}, len(columns))
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

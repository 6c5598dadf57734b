package datasource

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
)

// WrapLimit bounds a query with a trailing LIMIT, for dialects that support it.
func WrapLimit(query string, limit int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS _bounded LIMIT %d", query, limit)
}

// CountQuery counts the rows a query would return.
func CountQuery(query string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS _population", query)
}

// ScanSQLRows drains rows into a QueryResult. When maxRows > 0 and more rows
// arrive, it stops reading and returns *apperrors.RowLimitExceededError.
func ScanSQLRows(rows *sql.Rows, maxRows int) (*QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := &QueryResult{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			return nil, &apperrors.RowLimitExceededError{Limit: maxRows}
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

// KeyTimeLayout renders timestamps with their offset so a typed cast on the
// source side recovers the same instant.
const KeyTimeLayout = "2006-01-02 15:04:05.999999999-07:00"

// KeyString renders a driver value as text that a source can cast back to the
// column's type. Dialects refine it for the types their driver returns in a
// non-canonical form. NULL keys reference nothing and report false.
func KeyString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case []byte:
		return string(val), true
	case [16]byte:
		return uuid.UUID(val).String(), true
	case uuid.UUID:
		return val.String(), true
	case int:
		return strconv.Itoa(val), true
	case int8:
		return strconv.FormatInt(int64(val), 10), true
	case int16:
		return strconv.FormatInt(int64(val), 10), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint8:
		return strconv.FormatUint(uint64(val), 10), true
	case uint16:
		return strconv.FormatUint(uint64(val), 10), true
	case uint32:
		return strconv.FormatUint(uint64(val), 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	case *big.Int:
		return val.String(), true
	case time.Time:
		return val.Format(KeyTimeLayout), true
	case driver.Valuer:
		// pgtype.Numeric and friends have no String but encode to text.
		dv, err := val.Value()
		if err != nil {
			return fmt.Sprint(val), true
		}
		if _, nested := dv.(driver.Valuer); nested {
			return fmt.Sprint(dv), dv != nil
		}
		return KeyString(dv)
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

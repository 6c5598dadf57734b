package sqlite

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

// bernoulliScale is the resolution of the per-row random draw.
const bernoulliScale = 1_000_000

// DefaultSchema is the schema reported for every SQLite relation. SQLite has no
// schemas inside a database file; the attached database name is the database.
const DefaultSchema = "default"

// Dialect renders SQLite SQL.
type Dialect struct{}

// QuoteIdentifier double-quotes an identifier, doubling embedded quotes.
func (Dialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedName returns "database"."relation".
func (d Dialect) QualifiedName(rel *models.Relation) string {
	return d.QuoteIdentifier(rel.Database) + "." + d.QuoteIdentifier(rel.Name)
}

// SelectQuery returns the unsampled select of the canonical column list.
func (d Dialect) SelectQuery(rel *models.Relation) string {
	return fmt.Sprintf("SELECT %s FROM %s", rel.Star(d.QuoteIdentifier), d.QualifiedName(rel))
}

// SampleQuery renders bernoulli as an integer random() draw per row and
// row_count as a random ordering with LIMIT.
func (d Dialect) SampleQuery(rel *models.Relation, method sampling.Method) (string, error) {
	base := d.SelectQuery(rel)
	switch m := method.(type) {
	case sampling.Bernoulli:
		return fmt.Sprintf("%s WHERE abs(random() %% %d) < %d", base, bernoulliScale, m.Threshold(bernoulliScale)), nil
	case sampling.RowCount:
		return fmt.Sprintf("%s ORDER BY random() LIMIT %d", base, m.Rows), nil
	default:
		return "", &apperrors.UnsupportedSampleMethodError{Method: method.Name(), Adapter: adapterType, Supported: supportedSampleMethods}
	}
}

// KeySetPredicate matches column against a JSON array bound at ?N. Numeric
// columns compare by value, so an INTEGER 2 matches a REAL 2.0, and temporal
// columns compare by julianday whatever text format they were stored in.
func (d Dialect) KeySetPredicate(column string, dt models.DataType, ordinal int) string {
	col := d.QuoteIdentifier(column)
	switch dt {
	case models.DataTypeBigint, models.DataTypeInteger, models.DataTypeSmallint, models.DataTypeBoolean:
		return fmt.Sprintf("%s IN (SELECT CAST(value AS INTEGER) FROM json_each(?%d))", col, ordinal)
	case models.DataTypeDecimal, models.DataTypeDouble, models.DataTypeFloat:
		return fmt.Sprintf("%s IN (SELECT CAST(value AS REAL) FROM json_each(?%d))", col, ordinal)
	case models.DataTypeDate, models.DataTypeTimestamp, models.DataTypeTimestampTZ:
		return fmt.Sprintf("julianday(%s) IN (SELECT julianday(value) FROM json_each(?%d))", col, ordinal)
	default:
		return fmt.Sprintf("CAST(%s AS TEXT) IN (SELECT value FROM json_each(?%d))", col, ordinal)
	}
}

// KeyText renders a modernc.org/sqlite value. Booleans are stored as integers.
func (Dialect) KeyText(v any, dt models.DataType) (string, bool) {
	if b, ok := v.(bool); ok {
		if b {
			return "1", true
		}
		return "0", true
	}
	return datasource.KeyString(v)
}

// targetTableName folds the source identity into one table name.
func targetTableName(rel *models.Relation) string {
	return rel.Database + "__" + rel.Schema + "__" + rel.Name
}

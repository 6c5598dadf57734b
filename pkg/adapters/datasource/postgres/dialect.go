package postgres

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

// Dialect renders PostgreSQL SQL. Postgres cannot query across databases, so
// relations are qualified by schema only and each database gets its own pool.
type Dialect struct{}

// QuoteIdentifier safely quotes a PostgreSQL identifier.
func (Dialect) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// QualifiedName returns "schema"."relation".
func (d Dialect) QualifiedName(rel *models.Relation) string {
	return pgx.Identifier{rel.Schema, rel.Name}.Sanitize()
}

// SelectQuery returns the unsampled select of the canonical column list.
func (d Dialect) SelectQuery(rel *models.Relation) string {
	return fmt.Sprintf("SELECT %s FROM %s", rel.Star(d.QuoteIdentifier), d.QualifiedName(rel))
}

// SampleQuery renders bernoulli as a per-row random() filter and row_count as a
// random ordering with LIMIT. TABLESAMPLE is not used because it rejects views.
func (d Dialect) SampleQuery(rel *models.Relation, method sampling.Method) (string, error) {
	base := d.SelectQuery(rel)
	switch m := method.(type) {
	case sampling.Bernoulli:
		return fmt.Sprintf("%s WHERE random() < %s", base, strconv.FormatFloat(m.Probability, 'f', -1, 64)), nil
	case sampling.RowCount:
		return fmt.Sprintf("%s ORDER BY random() LIMIT %d", base, m.Rows), nil
	default:
		return "", &apperrors.UnsupportedSampleMethodError{Method: method.Name(), Adapter: adapterType, Supported: supportedSampleMethods}
	}
}

// keyCasts are the types key-set elements are cast to before comparison. Types
// without an entry compare as text.
var keyCasts = map[models.DataType]string{
	models.DataTypeBigint:      "bigint",
	models.DataTypeInteger:     "bigint",
	models.DataTypeSmallint:    "bigint",
	models.DataTypeDecimal:     "numeric",
	models.DataTypeDouble:      "double precision",
	models.DataTypeFloat:       "double precision",
	models.DataTypeBoolean:     "boolean",
	models.DataTypeVarchar:     "text",
	models.DataTypeText:        "text",
	models.DataTypeChar:        "bpchar",
	models.DataTypeDate:        "date",
	models.DataTypeTime:        "time",
	models.DataTypeTimestamp:   "timestamp",
	models.DataTypeTimestampTZ: "timestamptz",
	models.DataTypeUUID:        "uuid",
}

// KeySetPredicate matches column against a jsonb array of strings bound at $N.
func (d Dialect) KeySetPredicate(column string, dt models.DataType, ordinal int) string {
	if cast, ok := keyCasts[dt]; ok {
		return fmt.Sprintf("%s IN (SELECT jsonb_array_elements_text($%d::jsonb)::%s)", d.QuoteIdentifier(column), ordinal, cast)
	}
	return fmt.Sprintf("%s::text IN (SELECT jsonb_array_elements_text($%d::jsonb))", d.QuoteIdentifier(column), ordinal)
}

// KeyText renders a pgx value. Dates drop the time part pgx fills in; everything
// else, including pgtype.Numeric and pgtype.Time, goes through the shared text
// encoding.
func (Dialect) KeyText(v any, dt models.DataType) (string, bool) {
	if t, ok := v.(time.Time); ok && dt == models.DataTypeDate {
		return t.Format("2006-01-02"), true
	}
	return datasource.KeyString(v)
}

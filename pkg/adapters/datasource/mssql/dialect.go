package mssql

import (
	"fmt"
	"strings"
	"time"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

// bernoulliScale is the resolution of the per-row random draw.
const bernoulliScale = 1_000_000

// Dialect renders T-SQL. SQL Server resolves three-part names across databases on
// one connection, so relations are always fully qualified.
type Dialect struct{}

// QuoteIdentifier brackets an identifier the way QUOTENAME does, escaping ] as ]].
func (Dialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// QualifiedName returns [database].[schema].[relation].
func (d Dialect) QualifiedName(rel *models.Relation) string {
	return fmt.Sprintf("%s.%s.%s", d.QuoteIdentifier(rel.Database), d.QuoteIdentifier(rel.Schema), d.QuoteIdentifier(rel.Name))
}

// SelectQuery returns the unsampled select of the canonical column list.
func (d Dialect) SelectQuery(rel *models.Relation) string {
	return fmt.Sprintf("SELECT %s FROM %s", rel.Star(d.QuoteIdentifier), d.QualifiedName(rel))
}

// SampleQuery renders bernoulli as a NEWID() checksum draw per row and row_count
// as TOP over a NEWID() ordering. TABLESAMPLE samples pages, not rows, and is
// rejected on views.
func (d Dialect) SampleQuery(rel *models.Relation, method sampling.Method) (string, error) {
	switch m := method.(type) {
	case sampling.Bernoulli:
		return fmt.Sprintf("%s WHERE ABS(CAST(CHECKSUM(NEWID()) AS BIGINT)) %% %d < %d",
			d.SelectQuery(rel), bernoulliScale, m.Threshold(bernoulliScale)), nil
	case sampling.RowCount:
		return fmt.Sprintf("SELECT TOP (%d) %s FROM %s ORDER BY NEWID()",
			m.Rows, rel.Star(d.QuoteIdentifier), d.QualifiedName(rel)), nil
	default:
		return "", &apperrors.UnsupportedSampleMethodError{Method: method.Name(), Adapter: adapterType, Supported: supportedSampleMethods}
	}
}

// keyCasts are the types key-set elements are cast to before comparison. Types
// without an entry compare as NVARCHAR.
var keyCasts = map[models.DataType]string{
	models.DataTypeBigint:      "BIGINT",
	models.DataTypeInteger:     "BIGINT",
	models.DataTypeSmallint:    "BIGINT",
	models.DataTypeDecimal:     "DECIMAL(38, 18)",
	models.DataTypeDouble:      "FLOAT",
	models.DataTypeFloat:       "FLOAT",
	models.DataTypeBoolean:     "BIT",
	models.DataTypeDate:        "DATE",
	models.DataTypeTime:        "TIME(7)",
	models.DataTypeTimestamp:   "DATETIME2(3)",
	models.DataTypeTimestampTZ: "DATETIMEOFFSET(7)",
	models.DataTypeUUID:        "UNIQUEIDENTIFIER",
}

// KeySetPredicate matches column against a JSON array bound as @pN. DATETIME
// keeps 1/300s ticks, so timestamps compare on both sides at millisecond
// precision.
func (d Dialect) KeySetPredicate(column string, dt models.DataType, ordinal int) string {
	col := d.QuoteIdentifier(column)
	cast, ok := keyCasts[dt]
	switch {
	case !ok:
		return fmt.Sprintf("CAST(%s AS NVARCHAR(MAX)) IN (SELECT value FROM OPENJSON(@p%d))", col, ordinal)
	case dt == models.DataTypeTimestamp:
		col = fmt.Sprintf("CAST(%s AS %s)", col, cast)
	}
	return fmt.Sprintf("%s IN (SELECT CAST(value AS %s) FROM OPENJSON(@p%d))", col, cast, ordinal)
}

// KeyText renders a go-mssqldb value. UNIQUEIDENTIFIER arrives as the
// mixed-endian wire bytes and temporal values without a usable zone.
func (Dialect) KeyText(v any, dt models.DataType) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case []byte:
		if dt == models.DataTypeUUID && len(val) == 16 {
			var id mssqldb.UniqueIdentifier
			if err := id.Scan(val); err == nil {
				return id.String(), true
			}
		}
	case time.Time:
		switch dt {
		case models.DataTypeDate:
			return val.Format("2006-01-02"), true
		case models.DataTypeTime:
			return val.Format("15:04:05.9999999"), true
		case models.DataTypeTimestamp:
			return val.Format("2006-01-02T15:04:05.9999999"), true
		default:
			return val.Format("2006-01-02T15:04:05.9999999-07:00"), true
		}
	case bool:
		if val {
			return "1", true
		}
		return "0", true
	}
	return datasource.KeyString(v)
}

// boundQuery limits q to limit rows. T-SQL has no LIMIT, and ORDER BY inside a
// derived table is only legal together with TOP, which the sample query has.
func boundQuery(q string, limit int) string {
	return fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _bounded", limit, q)
}

package clickhouse

import "github.com/ekaya-inc/ekaya-replica/pkg/models"

// targetTypes maps normalized types to ClickHouse column types. Nullable
// attributes are wrapped in Nullable(...) at create time.
var targetTypes = models.TypeMapping{
	models.DataTypeBigint:      "Int64",
	models.DataTypeInteger:     "Int32",
	models.DataTypeSmallint:    "Int16",
	models.DataTypeDecimal:     "Decimal(38, 10)",
	models.DataTypeDouble:      "Float64",
	models.DataTypeFloat:       "Float32",
	models.DataTypeBoolean:     "Bool",
	models.DataTypeVarchar:     "String",
	models.DataTypeChar:        "String",
	models.DataTypeText:        "String",
	models.DataTypeDate:        "Date32",
	models.DataTypeTime:        "String",
	models.DataTypeTimestamp:   "DateTime64(6)",
	models.DataTypeTimestampTZ: "DateTime64(6, 'UTC')",
	models.DataTypeBinary:      "String",
	models.DataTypeJSON:        "String",
	models.DataTypeUUID:        "UUID",
	models.DataTypeVariant:     "String",
}

// stringTyped reports whether values for dt are stored as String and must be
// rendered to text before insert.
func stringTyped(dt models.DataType) bool {
	return targetTypes[dt] == "String"
}

package postgres

import "github.com/ekaya-inc/ekaya-replica/pkg/models"

// sourceTypes maps format_type() output (parameters stripped) to normalized types.
var sourceTypes = models.SourceTypeMapping{
	"bigint":                      models.DataTypeBigint,
	"int8":                        models.DataTypeBigint,
	"bigserial":                   models.DataTypeBigint,
	"integer":                     models.DataTypeInteger,
	"int":                         models.DataTypeInteger,
	"int4":                        models.DataTypeInteger,
	"serial":                      models.DataTypeInteger,
	"smallint":                    models.DataTypeSmallint,
	"int2":                        models.DataTypeSmallint,
	"numeric":                     models.DataTypeDecimal,
	"decimal":                     models.DataTypeDecimal,
	"double precision":            models.DataTypeDouble,
	"float8":                      models.DataTypeDouble,
	"real":                        models.DataTypeFloat,
	"float4":                      models.DataTypeFloat,
	"boolean":                     models.DataTypeBoolean,
	"bool":                        models.DataTypeBoolean,
	"character varying":           models.DataTypeVarchar,
	"varchar":                     models.DataTypeVarchar,
	"character":                   models.DataTypeChar,
	"char":                        models.DataTypeChar,
	"bpchar":                      models.DataTypeChar,
	"text":                        models.DataTypeText,
	"name":                        models.DataTypeText,
	"citext":                      models.DataTypeText,
	"date":                        models.DataTypeDate,
	"time":                        models.DataTypeTime,
	"time without time zone":      models.DataTypeTime,
	"timestamp":                   models.DataTypeTimestamp,
	"timestamp without time zone": models.DataTypeTimestamp,
	"timestamptz":                 models.DataTypeTimestampTZ,
	"timestamp with time zone":    models.DataTypeTimestampTZ,
	"bytea":                       models.DataTypeBinary,
	"json":                        models.DataTypeJSON,
	"jsonb":                       models.DataTypeJSON,
	"uuid":                        models.DataTypeUUID,
	"array":                       models.DataTypeVariant,
}

// targetTypes maps normalized types to PostgreSQL column types.
var targetTypes = models.TypeMapping{
	models.DataTypeBigint:      "BIGINT",
	models.DataTypeInteger:     "INTEGER",
	models.DataTypeSmallint:    "SMALLINT",
	models.DataTypeDecimal:     "NUMERIC",
	models.DataTypeDouble:      "DOUBLE PRECISION",
	models.DataTypeFloat:       "REAL",
	models.DataTypeBoolean:     "BOOLEAN",
	models.DataTypeVarchar:     "VARCHAR",
	models.DataTypeChar:        "TEXT",
	models.DataTypeText:        "TEXT",
	models.DataTypeDate:        "DATE",
	models.DataTypeTime:        "TIME",
	models.DataTypeTimestamp:   "TIMESTAMP",
	models.DataTypeTimestampTZ: "TIMESTAMPTZ",
	models.DataTypeBinary:      "BYTEA",
	models.DataTypeJSON:        "JSONB",
	models.DataTypeUUID:        "UUID",
	models.DataTypeVariant:     "JSONB",
}

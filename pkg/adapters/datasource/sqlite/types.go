package sqlite

import "github.com/ekaya-inc/ekaya-replica/pkg/models"

// sourceTypes maps declared column types to normalized types. SQLite accepts any
// declared type, so only the common spellings are listed; an undeclared type is a
// variant.
var sourceTypes = models.SourceTypeMapping{
	"":                  models.DataTypeVariant,
	"integer":           models.DataTypeBigint,
	"int":               models.DataTypeBigint,
	"bigint":            models.DataTypeBigint,
	"int8":              models.DataTypeBigint,
	"mediumint":         models.DataTypeInteger,
	"smallint":          models.DataTypeSmallint,
	"tinyint":           models.DataTypeSmallint,
	"int2":              models.DataTypeSmallint,
	"real":              models.DataTypeDouble,
	"double":            models.DataTypeDouble,
	"double precision":  models.DataTypeDouble,
	"float":             models.DataTypeDouble,
	"numeric":           models.DataTypeDecimal,
	"decimal":           models.DataTypeDecimal,
	"boolean":           models.DataTypeBoolean,
	"bool":              models.DataTypeBoolean,
	"varchar":           models.DataTypeVarchar,
	"nvarchar":          models.DataTypeVarchar,
	"varying character": models.DataTypeVarchar,
	"character varying": models.DataTypeVarchar,
	"char":              models.DataTypeChar,
	"character":         models.DataTypeChar,
	"nchar":             models.DataTypeChar,
	"text":              models.DataTypeText,
	"clob":              models.DataTypeText,
	"date":              models.DataTypeDate,
	"time":              models.DataTypeTime,
	"datetime":          models.DataTypeTimestamp,
	"timestamp":         models.DataTypeTimestamp,
	"timestamptz":       models.DataTypeTimestampTZ,
	"blob":              models.DataTypeBinary,
	"json":              models.DataTypeJSON,
	"uuid":              models.DataTypeUUID,
}

// targetTypes maps normalized types onto SQLite's storage classes.
var targetTypes = models.TypeMapping{
	models.DataTypeBigint:      "INTEGER",
	models.DataTypeInteger:     "INTEGER",
	models.DataTypeSmallint:    "INTEGER",
	models.DataTypeDecimal:     "NUMERIC",
	models.DataTypeDouble:      "REAL",
	models.DataTypeFloat:       "REAL",
	models.DataTypeBoolean:     "BOOLEAN",
	models.DataTypeVarchar:     "TEXT",
	models.DataTypeChar:        "TEXT",
	models.DataTypeText:        "TEXT",
	models.DataTypeDate:        "DATE",
	models.DataTypeTime:        "TEXT",
	models.DataTypeTimestamp:   "DATETIME",
	models.DataTypeTimestampTZ: "DATETIME",
	models.DataTypeBinary:      "BLOB",
	models.DataTypeJSON:        "TEXT",
	models.DataTypeUUID:        "TEXT",
	models.DataTypeVariant:     "BLOB",
}

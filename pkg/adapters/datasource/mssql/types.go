package mssql

import "github.com/ekaya-inc/ekaya-replica/pkg/models"

// sourceTypes maps INFORMATION_SCHEMA.COLUMNS.DATA_TYPE values to normalized types.
var sourceTypes = models.SourceTypeMapping{
	"bigint":           models.DataTypeBigint,
	"int":              models.DataTypeInteger,
	"smallint":         models.DataTypeSmallint,
	"tinyint":          models.DataTypeSmallint,
	"bit":              models.DataTypeBoolean,
	"decimal":          models.DataTypeDecimal,
	"numeric":          models.DataTypeDecimal,
	"money":            models.DataTypeDecimal,
	"smallmoney":       models.DataTypeDecimal,
	"float":            models.DataTypeDouble,
	"real":             models.DataTypeFloat,
	"varchar":          models.DataTypeVarchar,
	"nvarchar":         models.DataTypeVarchar,
	"char":             models.DataTypeChar,
	"nchar":            models.DataTypeChar,
	"text":             models.DataTypeText,
	"ntext":            models.DataTypeText,
	"xml":              models.DataTypeText,
	"date":             models.DataTypeDate,
	"time":             models.DataTypeTime,
	"datetime":         models.DataTypeTimestamp,
	"datetime2":        models.DataTypeTimestamp,
	"smalldatetime":    models.DataTypeTimestamp,
	"datetimeoffset":   models.DataTypeTimestampTZ,
	"binary":           models.DataTypeBinary,
	"varbinary":        models.DataTypeBinary,
	"image":            models.DataTypeBinary,
	"rowversion":       models.DataTypeBinary,
	"timestamp":        models.DataTypeBinary, // T-SQL timestamp is rowversion
	"uniqueidentifier": models.DataTypeUUID,
	"sql_variant":      models.DataTypeVariant,
}

package models

import (
	"strings"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
)

// DataType is the normalized type of an attribute. Source adapters map their raw
// type names onto it and target adapters map it back to a native type.
type DataType string

const (
	DataTypeBigint      DataType = "bigint"
	DataTypeInteger     DataType = "integer"
	DataTypeSmallint    DataType = "smallint"
	DataTypeDecimal     DataType = "decimal"
	DataTypeDouble      DataType = "double"
	DataTypeFloat       DataType = "float"
	DataTypeBoolean     DataType = "boolean"
	DataTypeVarchar     DataType = "varchar"
	DataTypeChar        DataType = "char"
	DataTypeText        DataType = "text"
	DataTypeDate        DataType = "date"
	DataTypeTime        DataType = "time"
	DataTypeTimestamp   DataType = "timestamp"
	DataTypeTimestampTZ DataType = "timestamp_tz"
	DataTypeBinary      DataType = "binary"
	DataTypeJSON        DataType = "json"
	DataTypeUUID        DataType = "uuid"
	// DataTypeVariant holds values whose type is only known per row.
	DataTypeVariant DataType = "variant"
)

// ValidDataTypes contains all valid normalized data types.
var ValidDataTypes = []DataType{
	DataTypeBigint,
	DataTypeInteger,
	DataTypeSmallint,
	DataTypeDecimal,
	DataTypeDouble,
	DataTypeFloat,
	DataTypeBoolean,
	DataTypeVarchar,
	DataTypeChar,
	DataTypeText,
	DataTypeDate,
	DataTypeTime,
	DataTypeTimestamp,
	DataTypeTimestampTZ,
	DataTypeBinary,
	DataTypeJSON,
	DataTypeUUID,
	DataTypeVariant,
}

// IsValidDataType checks if the given data type is one of the normalized values.
func IsValidDataType(dt DataType) bool {
	for _, v := range ValidDataTypes {
		if v == dt {
			return true
		}
	}
	return false
}

// SourceTypeMapping maps lower-cased raw source type names to normalized types.
type SourceTypeMapping map[string]DataType

// Normalize resolves a raw type name. Case and type parameters are ignored, so
// "VARCHAR(255)" and "varchar" resolve the same way.
func (m SourceTypeMapping) Normalize(raw string) (DataType, error) {
	key := NormalizeRawType(raw)
	if dt, ok := m[key]; ok {
		return dt, nil
	}
	return "", &apperrors.UnsupportedTypeError{RawType: raw}
}

// NormalizeRawType lower-cases a raw type name and strips any parameter list.
func NormalizeRawType(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexByte(key, '('); i >= 0 {
		rest := ""
		if j := strings.IndexByte(key[i:], ')'); j >= 0 {
			rest = key[i+j+1:]
		}
		key = strings.TrimSpace(key[:i]) + rest
	}
	return strings.Join(strings.Fields(key), " ")
}

// TypeMapping maps normalized types to a target's native type names.
type TypeMapping map[DataType]string

// Native returns the target type name for dt.
func (m TypeMapping) Native(dt DataType) (string, error) {
	if native, ok := m[dt]; ok {
		return native, nil
	}
	return "", &apperrors.UnsupportedTypeError{RawType: string(dt)}
}

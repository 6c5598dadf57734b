package clickhouse

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// timeLayouts are tried in order when a temporal value arrives as text, which
// SQLite sources do.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// convertValue coerces a source value to the Go type the ClickHouse column for
// dt accepts. NULL passes through.
func convertValue(dt models.DataType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if stringTyped(dt) {
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
		s, _ := datasource.KeyString(v)
		return s, nil
	}

	switch dt {
	case models.DataTypeBigint:
		return toInt64(v)
	case models.DataTypeInteger:
		n, err := toInt64(v)
		return int32(n), err
	case models.DataTypeSmallint:
		n, err := toInt64(v)
		return int16(n), err
	case models.DataTypeDouble:
		return toFloat64(v)
	case models.DataTypeFloat:
		f, err := toFloat64(v)
		return float32(f), err
	case models.DataTypeBoolean:
		return toBool(v)
	case models.DataTypeDecimal:
		s, _ := datasource.KeyString(v)
		return decimal.NewFromString(s)
	case models.DataTypeDate, models.DataTypeTimestamp, models.DataTypeTimestampTZ:
		return toTime(v)
	case models.DataTypeUUID:
		return toUUID(v)
	default:
		return v, nil
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	default:
		i, err := toInt64(v)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to float", v)
		}
		return float64(i), nil
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		i, err := toInt64(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to bool", v)
		}
		return i != 0, nil
	}
}

func toTime(v any) (time.Time, error) {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time value %q", s)
}

func toUUID(v any) (uuid.UUID, error) {
	switch u := v.(type) {
	case uuid.UUID:
		return u, nil
	case [16]byte:
		return uuid.UUID(u), nil
	case string:
		return uuid.Parse(u)
	case []byte:
		if len(u) == 16 {
			return uuid.FromBytes(u)
		}
		return uuid.ParseBytes(u)
	default:
		return uuid.Nil, fmt.Errorf("cannot convert %T to uuid", v)
	}
}

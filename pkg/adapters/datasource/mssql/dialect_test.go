package mssql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

type unknownMethod struct{}

func (unknownMethod) Name() string   { return "system" }
func (unknownMethod) String() string { return "system" }

func ordersRelation() *models.Relation {
	return models.NewRelation("shop", "dbo", "orders", models.MaterializationTable, []models.Attribute{
		{Name: "id", DataType: models.DataTypeBigint, Ordinal: 1},
		{Name: "customer_id", DataType: models.DataTypeBigint, Ordinal: 2},
	})
}

func TestDialect_QuoteIdentifier(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "[orders]", d.QuoteIdentifier("orders"))
	assert.Equal(t, "[we]]ird]", d.QuoteIdentifier("we]ird"))
	assert.Equal(t, "[shop].[dbo].[orders]", d.QualifiedName(ordersRelation()))
}

func TestDialect_SampleQuery(t *testing.T) {
	d := Dialect{}

	q, err := d.SampleQuery(ordersRelation(), sampling.Bernoulli{Probability: 0.1})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT [id], [customer_id] FROM [shop].[dbo].[orders] WHERE ABS(CAST(CHECKSUM(NEWID()) AS BIGINT)) % 1000000 < 100000",
		q)

	q, err = d.SampleQuery(ordersRelation(), sampling.RowCount{Rows: 50})
	require.NoError(t, err)
	assert.Equal(t, "SELECT TOP (50) [id], [customer_id] FROM [shop].[dbo].[orders] ORDER BY NEWID()", q)

	_, err = d.SampleQuery(ordersRelation(), unknownMethod{})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedSampleMethod)
}

func TestDialect_KeySetPredicate(t *testing.T) {
	d := Dialect{}
	tests := []struct {
		dt   models.DataType
		want string
	}{
		{models.DataTypeBigint, "[customer_id] IN (SELECT CAST(value AS BIGINT) FROM OPENJSON(@p1))"},
		{models.DataTypeDecimal, "[customer_id] IN (SELECT CAST(value AS DECIMAL(38, 18)) FROM OPENJSON(@p1))"},
		{models.DataTypeUUID, "[customer_id] IN (SELECT CAST(value AS UNIQUEIDENTIFIER) FROM OPENJSON(@p1))"},
		{models.DataTypeTimestamp, "CAST([customer_id] AS DATETIME2(3)) IN (SELECT CAST(value AS DATETIME2(3)) FROM OPENJSON(@p1))"},
		{models.DataTypeVarchar, "CAST([customer_id] AS NVARCHAR(MAX)) IN (SELECT value FROM OPENJSON(@p1))"},
	}
	for _, tt := range tests {
		t.Run(string(tt.dt), func(t *testing.T) {
			assert.Equal(t, tt.want, d.KeySetPredicate("customer_id", tt.dt, 1))
		})
	}
}

func TestDialect_KeyText(t *testing.T) {
	d := Dialect{}
	// 6F9619FF-8B86-D011-B42D-00C04FC964FF as it arrives from the driver.
	wire := []byte{0xFF, 0x19, 0x96, 0x6F, 0x86, 0x8B, 0x11, 0xD0, 0xB4, 0x2D, 0x00, 0xC0, 0x4F, 0xC9, 0x64, 0xFF}
	ts := time.Date(2024, 3, 1, 12, 30, 0, 6_666_666, time.UTC)

	tests := []struct {
		name   string
		value  any
		dt     models.DataType
		want   string
		wantOK bool
	}{
		{"uniqueidentifier", wire, models.DataTypeUUID, "6F9619FF-8B86-D011-B42D-00C04FC964FF", true},
		{"decimal", []byte("12.50"), models.DataTypeDecimal, "12.50", true},
		{"datetime", ts, models.DataTypeTimestamp, "2024-03-01T12:30:00.0066666", true},
		{"datetimeoffset", ts.In(time.FixedZone("", -5*3600)), models.DataTypeTimestampTZ, "2024-03-01T07:30:00.0066666-05:00", true},
		{"date", ts, models.DataTypeDate, "2024-03-01", true},
		{"bit", true, models.DataTypeBoolean, "1", true},
		{"bigint", int64(9), models.DataTypeBigint, "9", true},
		{"null", nil, models.DataTypeUUID, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.KeyText(tt.value, tt.dt)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBoundQuery(t *testing.T) {
	assert.Equal(t, "SELECT TOP (11) * FROM (SELECT 1 AS x) AS _bounded", boundQuery("SELECT 1 AS x", 11))
}

func TestTypeMappings(t *testing.T) {
	for raw, want := range map[string]models.DataType{
		"nvarchar":         models.DataTypeVarchar,
		"DATETIME2":        models.DataTypeTimestamp,
		"uniqueidentifier": models.DataTypeUUID,
		"bit":              models.DataTypeBoolean,
	} {
		got, err := sourceTypes.Normalize(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := sourceTypes.Normalize("geography")
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedType)
}

package postgres

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
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
	return models.NewRelation("shop", "public", "orders", models.MaterializationTable, []models.Attribute{
		{Name: "id", DataType: models.DataTypeBigint, Ordinal: 1},
		{Name: "customer_id", DataType: models.DataTypeBigint, Ordinal: 2},
	})
}

func TestDialect_SelectQuery(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, `"we""ird"`, d.QuoteIdentifier(`we"ird`))
	assert.Equal(t, `"public"."orders"`, d.QualifiedName(ordersRelation()))
	assert.Equal(t, `SELECT "id", "customer_id" FROM "public"."orders"`, d.SelectQuery(ordersRelation()))
}

func TestDialect_SampleQuery(t *testing.T) {
	d := Dialect{}

	q, err := d.SampleQuery(ordersRelation(), sampling.Bernoulli{Probability: 0.25})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "customer_id" FROM "public"."orders" WHERE random() < 0.25`, q)

	q, err = d.SampleQuery(ordersRelation(), sampling.RowCount{Rows: 100})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "customer_id" FROM "public"."orders" ORDER BY random() LIMIT 100`, q)

	_, err = d.SampleQuery(ordersRelation(), unknownMethod{})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedSampleMethod)
}

func TestDialect_KeySetPredicate(t *testing.T) {
	d := Dialect{}
	tests := []struct {
		dt   models.DataType
		want string
	}{
		{models.DataTypeBigint, `"customer_id" IN (SELECT jsonb_array_elements_text($2::jsonb)::bigint)`},
		{models.DataTypeDecimal, `"customer_id" IN (SELECT jsonb_array_elements_text($2::jsonb)::numeric)`},
		{models.DataTypeTimestampTZ, `"customer_id" IN (SELECT jsonb_array_elements_text($2::jsonb)::timestamptz)`},
		{models.DataTypeUUID, `"customer_id" IN (SELECT jsonb_array_elements_text($2::jsonb)::uuid)`},
		{models.DataTypeJSON, `"customer_id"::text IN (SELECT jsonb_array_elements_text($2::jsonb))`},
	}
	for _, tt := range tests {
		t.Run(string(tt.dt), func(t *testing.T) {
			assert.Equal(t, tt.want, d.KeySetPredicate("customer_id", tt.dt, 2))
		})
	}
}

func TestDialect_KeyText(t *testing.T) {
	d := Dialect{}
	id := uuid.MustParse("7f9c24e5-0b8a-4b6e-9d34-6f1c2a3b4d5e")
	ts := time.Date(2024, 3, 1, 12, 30, 0, 123456000, time.UTC)

	tests := []struct {
		name   string
		value  any
		dt     models.DataType
		want   string
		wantOK bool
	}{
		{"numeric", pgtype.Numeric{Int: big.NewInt(250), Exp: -2, Valid: true}, models.DataTypeDecimal, "2.50", true},
		{"numeric integer", pgtype.Numeric{Int: big.NewInt(7), Exp: 3, Valid: true}, models.DataTypeDecimal, "7000", true},
		{"null numeric", pgtype.Numeric{}, models.DataTypeDecimal, "", false},
		{"timestamptz", ts, models.DataTypeTimestampTZ, "2024-03-01 12:30:00.123456+00:00", true},
		{"timestamp", ts, models.DataTypeTimestamp, "2024-03-01 12:30:00.123456+00:00", true},
		{"date", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), models.DataTypeDate, "2024-03-01", true},
		{"uuid", [16]byte(id), models.DataTypeUUID, id.String(), true},
		{"bigint", int64(42), models.DataTypeBigint, "42", true},
		{"null", nil, models.DataTypeBigint, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.KeyText(tt.value, tt.dt)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypeMappings(t *testing.T) {
	for raw, want := range map[string]models.DataType{
		"character varying(255)":      models.DataTypeVarchar,
		"timestamp(6) with time zone": models.DataTypeTimestampTZ,
		"numeric(12,2)":               models.DataTypeDecimal,
		"ARRAY":                       models.DataTypeVariant,
	} {
		got, err := sourceTypes.Normalize(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := sourceTypes.Normalize("tsvector")
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedType)

	for _, dt := range models.ValidDataTypes {
		_, err := targetTypes.Native(dt)
		assert.NoError(t, err, "target mapping missing for %s", dt)
	}
}

func TestTargetSchema(t *testing.T) {
	assert.Equal(t, "shop__public", TargetSchema(ordersRelation()))
}

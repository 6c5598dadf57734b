// Package testhelpers provides fakes and fixtures for testing ekaya-replica
// components.
package testhelpers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

// FakeKind is the adapter identifier reported by the fakes.
const FakeKind = "fake"

// IdentityTypeMapping maps every normalized type name onto itself, so fake
// metadata can use normalized names as raw types.
func IdentityTypeMapping() models.SourceTypeMapping {
	m := make(models.SourceTypeMapping, len(models.ValidDataTypes))
	for _, dt := range models.ValidDataTypes {
		m[string(dt)] = dt
	}
	return m
}

// IdentityTargetTypes maps every normalized type onto its upper-cased name.
func IdentityTargetTypes() models.TypeMapping {
	m := make(models.TypeMapping, len(models.ValidDataTypes))
	for _, dt := range models.ValidDataTypes {
		m[dt] = string(dt)
	}
	return m
}

// RecordedQuery is one call to FakeSource.Query.
type RecordedQuery struct {
	Database string
	SQL      string
	Params   []any
	MaxRows  int
}

// FakeSource is an in-memory SourceAdapter. It renders SQL with the SQLite
// dialect but never executes it; QueryFunc decides what each query returns.
type FakeSource struct {
	sqlite.Dialect

	Databases []string
	Relations map[string][]datasource.RelationMetadata
	Mapping   models.SourceTypeMapping
	Methods   []string
	QueryFunc func(ctx context.Context, database, query string, params []any, maxRows int) (*datasource.QueryResult, error)

	mu                 sync.Mutex
	listRelationsCalls int
	queries            []RecordedQuery
	closed             bool
}

// NewFakeSource returns a fake with identity type mappings and both sample methods.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		Relations: make(map[string][]datasource.RelationMetadata),
		Mapping:   IdentityTypeMapping(),
		Methods:   []string{sampling.MethodBernoulli, sampling.MethodRowCount},
	}
}

func (f *FakeSource) Kind() string { return FakeKind }

func (f *FakeSource) ListDatabases(ctx context.Context) ([]string, error) {
	return append([]string(nil), f.Databases...), nil
}

func (f *FakeSource) ListRelations(ctx context.Context, database string) ([]datasource.RelationMetadata, error) {
	f.mu.Lock()
	f.listRelationsCalls++
	f.mu.Unlock()
	return f.Relations[database], nil
}

// ListRelationsCalls returns how many times ListRelations was called.
func (f *FakeSource) ListRelationsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listRelationsCalls
}

func (f *FakeSource) Query(ctx context.Context, database, query string, params []any, maxRows int) (*datasource.QueryResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, RecordedQuery{Database: database, SQL: query, Params: params, MaxRows: maxRows})
	fn := f.QueryFunc
	f.mu.Unlock()

	if fn == nil {
		return &datasource.QueryResult{}, nil
	}
	return fn(ctx, database, query, params, maxRows)
}

// Queries returns a copy of every recorded query.
func (f *FakeSource) Queries() []RecordedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedQuery(nil), f.queries...)
}

func (f *FakeSource) DataTypeMappings() models.SourceTypeMapping { return f.Mapping }

func (f *FakeSource) SupportedSampleMethods() []string { return f.Methods }

func (f *FakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeSource) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeTarget records loaded relations in memory.
type FakeTarget struct {
	Types models.TypeMapping
	// FailOn maps a relation's dot notation to the error CreateAndLoad returns.
	FailOn map[string]error

	mu     sync.Mutex
	loaded map[string]*datasource.QueryResult
	order  []string
	closed bool
}

// NewFakeTarget returns a target that accepts every normalized type.
func NewFakeTarget() *FakeTarget {
	return &FakeTarget{
		Types:  IdentityTargetTypes(),
		FailOn: make(map[string]error),
		loaded: make(map[string]*datasource.QueryResult),
	}
}

func (f *FakeTarget) Kind() string { return FakeKind }

func (f *FakeTarget) TargetTypes() models.TypeMapping { return f.Types }

func (f *FakeTarget) CreateAndLoad(ctx context.Context, rel *models.Relation, data *datasource.QueryResult) error {
	if _, err := rel.TypedColumns(f.Types, func(s string) string { return s }); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailOn[rel.DotNotation()]; err != nil {
		return err
	}
	f.loaded[rel.DotNotation()] = data
	f.order = append(f.order, rel.DotNotation())
	return nil
}

// Loaded returns the rows loaded for a relation.
func (f *FakeTarget) Loaded(dotNotation string) (*datasource.QueryResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.loaded[dotNotation]
	return r, ok
}

// LoadOrder returns relation names in the order they were loaded.
func (f *FakeTarget) LoadOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// LoadCount returns how many relations were loaded.
func (f *FakeTarget) LoadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loaded)
}

func (f *FakeTarget) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Table builds relation metadata with bigint columns. Each fk is "column->table.column"
// in the same database and schema.
func Table(database, schema, name string, columns []string, fks ...string) datasource.RelationMetadata {
	md := datasource.RelationMetadata{
		DatabaseName: database,
		SchemaName:   schema,
		RelationName: name,
		RawKind:      "BASE TABLE",
	}
	for i, c := range columns {
		md.Columns = append(md.Columns, datasource.ColumnMetadata{
			ColumnName:      c,
			DataType:        string(models.DataTypeBigint),
			IsPrimaryKey:    c == "id",
			IsNullable:      c != "id",
			OrdinalPosition: i + 1,
		})
	}
	for i, fk := range fks {
		col, table, ref := splitForeignKey(fk)
		md.ForeignKeys = append(md.ForeignKeys, datasource.ForeignKeyMetadata{
			ConstraintName: fmt.Sprintf("%s_fk_%d", name, i),
			SourceColumn:   col,
			TargetDatabase: database,
			TargetSchema:   schema,
			TargetTable:    table,
			TargetColumn:   ref,
		})
	}
	return md
}

func splitForeignKey(fk string) (column, table, ref string) {
	column, target, ok := strings.Cut(fk, "->")
	if !ok {
		panic(fmt.Sprintf("foreign key %q must look like column->table.column", fk))
	}
	table, ref, ok = strings.Cut(target, ".")
	if !ok {
		panic(fmt.Sprintf("foreign key %q must look like column->table.column", fk))
	}
	return column, table, ref
}

// Relation builds a catalog relation the same way Table builds metadata.
func Relation(database, schema, name string, columns []string, fks ...string) *models.Relation {
	md := Table(database, schema, name, columns, fks...)
	rel := models.NewRelation(database, schema, name, models.MaterializationTable, nil)
	for _, c := range md.Columns {
		rel.Attributes = append(rel.Attributes, models.Attribute{
			Name:       c.ColumnName,
			DataType:   models.DataTypeBigint,
			Ordinal:    c.OrdinalPosition,
			Nullable:   c.IsNullable,
			PrimaryKey: c.IsPrimaryKey,
		})
	}
	for _, fk := range md.ForeignKeys {
		rel.ForeignKeys = append(rel.ForeignKeys, models.ForeignKey{
			Name:               fk.ConstraintName,
			Column:             fk.SourceColumn,
			ReferencedRelation: models.RelationKey{Database: fk.TargetDatabase, Schema: fk.TargetSchema, Name: fk.TargetTable},
			ReferencedColumn:   fk.TargetColumn,
		})
	}
	return rel
}

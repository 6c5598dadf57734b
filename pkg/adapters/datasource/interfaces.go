package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

// Dialect renders the SQL fragments the compiler needs. Every adapter owns its
// dialect; nothing outside an adapter builds dialect-specific SQL.
type Dialect interface {
	// QuoteIdentifier safely quotes a SQL identifier (table, column, schema name).
	QuoteIdentifier(name string) string

	// QualifiedName returns the fully quoted reference to a relation, including
	// database and schema where the dialect needs them.
	QualifiedName(rel *models.Relation) string

	// SelectQuery returns the unsampled select of the canonical column list.
	SelectQuery(rel *models.Relation) string

	// SampleQuery wraps the relation's select in the dialect's sampling clause.
	// Returns *apperrors.UnsupportedSampleMethodError for unknown methods.
	SampleQuery(rel *models.Relation, method sampling.Method) (string, error)

	// KeySetPredicate renders a predicate that is true when column's value is a
	// member of the JSON array of strings bound at placeholder ordinal (1-based).
	// Elements are cast to the dialect's type for dt, so "2.5" matches a numeric
	// 2.50 and a timestamp matches regardless of how its offset is spelled.
	KeySetPredicate(column string, dt models.DataType, ordinal int) string

	// KeyText renders a value returned by the adapter's driver for a column of
	// type dt as text that KeySetPredicate's cast accepts. NULL reports false.
	KeyText(v any, dt models.DataType) (string, bool)
}

// SourceAdapter reads metadata and rows from the warehouse being sampled.
// Each implementation owns its connections and must be closed when done.
type SourceAdapter interface {
	Dialect

	// Kind returns the registered adapter identifier, e.g. "postgres".
	Kind() string

	// ListDatabases returns every database visible to the configured credentials.
	ListDatabases(ctx context.Context) ([]string, error)

	// ListRelations returns relation metadata for one database with raw type names.
	ListRelations(ctx context.Context, database string) ([]RelationMetadata, error)

	// Query runs a SELECT against database on a connection that is released before
	// returning. The query is wrapped with a dialect-specific limit of maxRows+1; if
	// more than maxRows rows come back, *apperrors.RowLimitExceededError is returned.
	// maxRows <= 0 disables the guard.
	Query(ctx context.Context, database, sqlQuery string, params []any, maxRows int) (*QueryResult, error)

	// DataTypeMappings maps raw type names to normalized types.
	DataTypeMappings() models.SourceTypeMapping

	// SupportedSampleMethods lists the sample method names the dialect can render.
	SupportedSampleMethods() []string

	// Close releases any resources held by the adapter.
	Close() error
}

// TargetAdapter materializes sampled relations.
// Each implementation owns its connections and must be closed when done.
type TargetAdapter interface {
	// Kind returns the registered adapter identifier.
	Kind() string

	// TargetTypes maps normalized types to the target's native column types.
	TargetTypes() models.TypeMapping

	// CreateAndLoad creates the relation in the target (replacing any previous copy)
	// and inserts the extracted rows.
	CreateAndLoad(ctx context.Context, rel *models.Relation, data *QueryResult) error

	// Close releases any resources held by the adapter.
	Close() error
}

// QueryResult holds extracted rows in column order.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// RowCount returns the number of extracted rows.
func (r *QueryResult) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// ColumnIndex returns the position of name in Columns, or -1.
func (r *QueryResult) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

package datasource

// RelationMetadata represents a discovered relation with raw, adapter-specific
// type names. The catalog assembler normalizes it into a models.Relation.
type RelationMetadata struct {
	DatabaseName string
	SchemaName   string
	RelationName string
	RawKind      string // "BASE TABLE", "VIEW", "table", ...
	Columns      []ColumnMetadata
	ForeignKeys  []ForeignKeyMetadata
}

// ColumnMetadata represents a discovered database column.
type ColumnMetadata struct {
	ColumnName      string
	DataType        string
	IsNullable      bool
	IsPrimaryKey    bool
	OrdinalPosition int
}

// ForeignKeyMetadata represents one column pair of a foreign key constraint owned
// by the relation it is attached to. Composite constraints yield one entry per pair.
type ForeignKeyMetadata struct {
	ConstraintName string
	SourceColumn   string
	TargetDatabase string
	TargetSchema   string
	TargetTable    string
	TargetColumn   string
}

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
)

// ============================================================================
// Relation Status
// ============================================================================

// RelationStatus is the outcome recorded for a relation during a run.
type RelationStatus string

const (
	RelationStatusPending   RelationStatus = "pending"
	RelationStatusExtracted RelationStatus = "extracted"
	RelationStatusLoaded    RelationStatus = "loaded"
	RelationStatusAnalyzed  RelationStatus = "analyzed"
	RelationStatusUnsampled RelationStatus = "unsampled"
	RelationStatusFailed    RelationStatus = "failed"
	RelationStatusSkipped   RelationStatus = "skipped"
)

// ============================================================================
// Relation
// ============================================================================

// RelationKey is the identity triple of a relation.
type RelationKey struct {
	Database string
	Schema   string
	Name     string
}

func (k RelationKey) String() string {
	return k.Database + "." + k.Schema + "." + k.Name
}

// Attribute is a column of a relation.
type Attribute struct {
	Name       string
	DataType   DataType
	Ordinal    int
	Nullable   bool
	PrimaryKey bool
}

// ForeignKey is a single-column reference from the owning relation to another one.
// Composite constraints are stored as one ForeignKey per column pair.
type ForeignKey struct {
	Name               string
	Column             string
	ReferencedRelation RelationKey
	ReferencedColumn   string
}

// Relation is a table, view or other warehouse object plus the progress state the
// compiler and runner attach to it.
type Relation struct {
	Database        string
	Schema          string
	Name            string
	Materialization Materialization
	Attributes      []Attribute
	ForeignKeys     []ForeignKey

	// Set by the compiler. ClosureQuery is only set on cluster members that other
	// members reference; it selects the rows matching their key sets.
	CoreQuery     string
	CompiledQuery string
	ClosureQuery  string
	Unsampled     bool

	// Set by the runner.
	PopulationSize  int64
	SampleSize      int64
	SourceExtracted bool
	TargetLoaded    bool
	ExtractedAt     time.Time
	Status          RelationStatus
	Err             error
}

// NewRelation creates a relation in the pending state.
func NewRelation(database, schema, name string, materialization Materialization, attributes []Attribute) *Relation {
	return &Relation{
		Database:        database,
		Schema:          schema,
		Name:            name,
		Materialization: materialization,
		Attributes:      attributes,
		Status:          RelationStatusPending,
	}
}

func (r *Relation) String() string {
	return fmt.Sprintf("<Relation %s>", r.DotNotation())
}

// Key returns the identity triple.
func (r *Relation) Key() RelationKey {
	return RelationKey{Database: r.Database, Schema: r.Schema, Name: r.Name}
}

// Equal compares identity only; progress state is ignored.
func (r *Relation) Equal(other *Relation) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Key() == other.Key()
}

// DotNotation returns database.schema.name.
func (r *Relation) DotNotation() string {
	return r.Database + "." + r.Schema + "." + r.Name
}

// QuotedDotNotation returns "database"."schema"."name".
func (r *Relation) QuotedDotNotation() string {
	return fmt.Sprintf(`"%s"."%s"."%s"`, r.Database, r.Schema, r.Name)
}

// Star renders the canonical select list in ordinal order.
func (r *Relation) Star(quote func(string) string) string {
	cols := make([]string, len(r.Attributes))
	for i, attr := range r.Attributes {
		cols[i] = quote(attr.Name)
	}
	return strings.Join(cols, ", ")
}

// TypedColumns renders the column section of a CREATE TABLE statement, one
// "<column> <type>" entry per attribute.
func (r *Relation) TypedColumns(mapping TypeMapping, quote func(string) string) (string, error) {
	cols := make([]string, len(r.Attributes))
	for i, attr := range r.Attributes {
		native, err := mapping.Native(attr.DataType)
		if err != nil {
			return "", &apperrors.UnsupportedTypeError{
				Relation: r.DotNotation(),
				Column:   attr.Name,
				RawType:  string(attr.DataType),
			}
		}
		cols[i] = quote(attr.Name) + " " + native
	}
	return strings.Join(cols, ",\n"), nil
}

// LookupAttribute finds an attribute by name.
func (r *Relation) LookupAttribute(name string) (*Attribute, bool) {
	for i := range r.Attributes {
		if r.Attributes[i].Name == name {
			return &r.Attributes[i], true
		}
	}
	return nil, false
}

// ColumnNames returns attribute names in ordinal order.
func (r *Relation) ColumnNames() []string {
	names := make([]string, len(r.Attributes))
	for i, attr := range r.Attributes {
		names[i] = attr.Name
	}
	return names
}

// Clone returns a deep copy of identity and metadata with progress state reset.
// Later pipeline stages own their clone and never touch the catalog's instance.
func (r *Relation) Clone() *Relation {
	c := NewRelation(r.Database, r.Schema, r.Name, r.Materialization, nil)
	c.Attributes = append([]Attribute(nil), r.Attributes...)
	c.ForeignKeys = append([]ForeignKey(nil), r.ForeignKeys...)
	return c
}

// Fail records err on the relation and marks it failed.
func (r *Relation) Fail(err error) {
	r.Status = RelationStatusFailed
	r.Err = err
}

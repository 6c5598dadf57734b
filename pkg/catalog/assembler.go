// Package catalog enumerates every relation a source exposes and normalizes it into
// a models.Catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/workerpool"
)

// DefaultMaxDatabases is the database count above which assembly refuses to start.
const DefaultMaxDatabases = 2000

// Source is the part of a source adapter the assembler needs.
type Source interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListRelations(ctx context.Context, database string) ([]datasource.RelationMetadata, error)
	DataTypeMappings() models.SourceTypeMapping
}

// Assembler builds the catalog with one worker per database.
type Assembler struct {
	pool   *workerpool.WorkerPool
	logger *zap.Logger
}

// NewAssembler creates an assembler that lists databases on pool.
func NewAssembler(pool *workerpool.WorkerPool, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{pool: pool, logger: logger.Named("catalog")}
}

// Assemble lists every database, fails with *apperrors.TooManyDatabasesError if
// there are more than maxDatabases, then lists relations per database
// concurrently. Any failure aborts the assembly and no catalog is returned.
func (a *Assembler) Assemble(ctx context.Context, source Source, maxDatabases int) (*models.Catalog, error) {
	databases, err := source.ListDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	if maxDatabases > 0 && len(databases) > maxDatabases {
		return nil, &apperrors.TooManyDatabasesError{Count: len(databases), Limit: maxDatabases}
	}

	a.logger.Info("Assessing catalog",
		zap.Int("databases", len(databases)),
		zap.Int("workers", a.pool.Size()),
	)

	mapping := source.DataTypeMappings()
	items := make([]workerpool.WorkItem[[]*models.Relation], len(databases))
	for i, database := range databases {
		items[i] = workerpool.WorkItem[[]*models.Relation]{
			ID: database,
			Execute: func(ctx context.Context) ([]*models.Relation, error) {
				metadata, err := source.ListRelations(ctx, database)
				if err != nil {
					return nil, err
				}
				return Normalize(metadata, mapping)
			},
		}
	}

	results := workerpool.Process(ctx, a.pool, items, func(completed, total int) {
		a.logger.Debug("Database listed", zap.Int("completed", completed), zap.Int("total", total))
	})

	var relations []*models.Relation
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("database %s: %w", r.ID, r.Err))
			continue
		}
		relations = append(relations, r.Result...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	catalog, err := models.NewCatalog(relations)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Catalog assembled",
		zap.Int("databases", len(databases)),
		zap.Int("relations", catalog.Len()),
	)
	return catalog, nil
}

// Normalize converts adapter metadata into relations, mapping every raw column
// type through mapping. An unmapped type fails with *apperrors.UnsupportedTypeError
// naming the relation and column.
func Normalize(metadata []datasource.RelationMetadata, mapping models.SourceTypeMapping) ([]*models.Relation, error) {
	relations := make([]*models.Relation, 0, len(metadata))
	for _, md := range metadata {
		rel := models.NewRelation(md.DatabaseName, md.SchemaName, md.RelationName, models.ParseMaterialization(md.RawKind), nil)

		rel.Attributes = make([]models.Attribute, 0, len(md.Columns))
		for _, col := range md.Columns {
			dt, err := mapping.Normalize(col.DataType)
			if err != nil {
				return nil, &apperrors.UnsupportedTypeError{
					Relation: rel.DotNotation(),
					Column:   col.ColumnName,
					RawType:  col.DataType,
				}
			}
			rel.Attributes = append(rel.Attributes, models.Attribute{
				Name:       col.ColumnName,
				DataType:   dt,
				Ordinal:    col.OrdinalPosition,
				Nullable:   col.IsNullable,
				PrimaryKey: col.IsPrimaryKey,
			})
		}

		for _, fk := range md.ForeignKeys {
			targetDB := fk.TargetDatabase
			if targetDB == "" {
				targetDB = md.DatabaseName
			}
			rel.ForeignKeys = append(rel.ForeignKeys, models.ForeignKey{
				Name:   fk.ConstraintName,
				Column: fk.SourceColumn,
				ReferencedRelation: models.RelationKey{
					Database: targetDB,
					Schema:   fk.TargetSchema,
					Name:     fk.TargetTable,
				},
				ReferencedColumn: fk.TargetColumn,
			})
		}
		relations = append(relations, rel)
	}
	return relations, nil
}

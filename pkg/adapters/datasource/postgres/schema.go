package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
)

// excludedSchemasPredicate filters out system schemas.
const excludedSchemasPredicate = `
	n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
	AND n.nspname NOT LIKE 'pg_temp%'
	AND n.nspname NOT LIKE 'pg_toast_temp%'
`

type relationRef struct {
	schema string
	name   string
}

// ListRelations returns tables, views, materialized views and foreign tables of
// database with their columns and foreign keys. pg_catalog is used instead of
// information_schema because the latter omits materialized views.
func (s *Source) ListRelations(ctx context.Context, database string) ([]datasource.RelationMetadata, error) {
	var relations []datasource.RelationMetadata
	err := s.withConn(ctx, database, func(conn *pgxpool.Conn) error {
		var err error
		relations, err = s.discoverRelations(ctx, conn, database)
		if err != nil {
			return err
		}

		index := make(map[relationRef]int, len(relations))
		for i, rel := range relations {
			index[relationRef{rel.SchemaName, rel.RelationName}] = i
		}

		if err := s.discoverColumns(ctx, conn, relations, index); err != nil {
			return err
		}
		return s.discoverForeignKeys(ctx, conn, database, relations, index)
	})
	if err != nil {
		return nil, fmt.Errorf("list relations in %s: %w", database, err)
	}
	return relations, nil
}

func (s *Source) discoverRelations(ctx context.Context, conn *pgxpool.Conn, database string) ([]datasource.RelationMetadata, error) {
	query := `
		SELECT
			n.nspname,
			c.relname,
			CASE c.relkind
				WHEN 'r' THEN 'BASE TABLE'
				WHEN 'p' THEN 'BASE TABLE'
				WHEN 'v' THEN 'VIEW'
				WHEN 'm' THEN 'MATERIALIZED VIEW'
				WHEN 'f' THEN 'FOREIGN TABLE'
			END AS kind
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p', 'v', 'm', 'f')
		  AND NOT c.relispartition
		  AND ` + excludedSchemasPredicate + `
		ORDER BY n.nspname, c.relname
	`

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()

	var relations []datasource.RelationMetadata
	for rows.Next() {
		rel := datasource.RelationMetadata{DatabaseName: database}
		if err := rows.Scan(&rel.SchemaName, &rel.RelationName, &rel.RawKind); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		relations = append(relations, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}
	return relations, nil
}

// discoverColumns attaches columns in ordinal order. Array columns are reported as
// ARRAY so they map to a single normalized type.
func (s *Source) discoverColumns(ctx context.Context, conn *pgxpool.Conn, relations []datasource.RelationMetadata, index map[relationRef]int) error {
	query := `
		SELECT
			n.nspname,
			c.relname,
			a.attname,
			CASE WHEN t.typcategory = 'A' THEN 'ARRAY'
			     ELSE format_type(a.atttypid, a.atttypmod)
			END AS data_type,
			NOT a.attnotnull AS is_nullable,
			EXISTS (
				SELECT 1 FROM pg_index ix
				WHERE ix.indrelid = c.oid
				  AND ix.indisprimary
				  AND a.attnum = ANY(ix.indkey)
			) AS is_primary_key,
			a.attnum
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_type t ON t.oid = a.atttypid
		WHERE a.attnum > 0
		  AND NOT a.attisdropped
		  AND c.relkind IN ('r', 'p', 'v', 'm', 'f')
		  AND ` + excludedSchemasPredicate + `
		ORDER BY n.nspname, c.relname, a.attnum
	`

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var schema, table string
		var col datasource.ColumnMetadata
		var attnum int16
		if err := rows.Scan(&schema, &table, &col.ColumnName, &col.DataType, &col.IsNullable, &col.IsPrimaryKey, &attnum); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		i, ok := index[relationRef{schema, table}]
		if !ok {
			continue // partition children are filtered out of the relation list
		}
		col.OrdinalPosition = len(relations[i].Columns) + 1
		relations[i].Columns = append(relations[i].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns: %w", err)
	}
	return nil
}

// discoverForeignKeys attaches every foreign key column pair to the owning relation.
func (s *Source) discoverForeignKeys(ctx context.Context, conn *pgxpool.Conn, database string, relations []datasource.RelationMetadata, index map[relationRef]int) error {
	query := `
		SELECT
			con.conname,
			sn.nspname AS source_schema,
			sc.relname AS source_table,
			sa.attname AS source_column,
			tn.nspname AS target_schema,
			tc.relname AS target_table,
			ta.attname AS target_column
		FROM pg_constraint con
		JOIN pg_class sc ON sc.oid = con.conrelid
		JOIN pg_namespace sn ON sn.oid = sc.relnamespace
		JOIN pg_class tc ON tc.oid = con.confrelid
		JOIN pg_namespace tn ON tn.oid = tc.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) AS k(source_attnum, target_attnum)
		JOIN pg_attribute sa ON sa.attrelid = con.conrelid AND sa.attnum = k.source_attnum
		JOIN pg_attribute ta ON ta.attrelid = con.confrelid AND ta.attnum = k.target_attnum
		WHERE con.contype = 'f'
		ORDER BY sn.nspname, sc.relname, con.conname, sa.attnum
	`

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sourceSchema, sourceTable string
		fk := datasource.ForeignKeyMetadata{TargetDatabase: database}
		if err := rows.Scan(&fk.ConstraintName, &sourceSchema, &sourceTable, &fk.SourceColumn,
			&fk.TargetSchema, &fk.TargetTable, &fk.TargetColumn); err != nil {
			return fmt.Errorf("scan foreign key: %w", err)
		}
		if i, ok := index[relationRef{sourceSchema, sourceTable}]; ok {
			relations[i].ForeignKeys = append(relations[i].ForeignKeys, fk)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate foreign keys: %w", err)
	}
	return nil
}

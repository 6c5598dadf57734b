package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
)

// ListRelations reads tables and views of one attached database from its
// sqlite_master, then columns and foreign keys through the table-valued pragmas.
func (s *Source) ListRelations(ctx context.Context, database string) ([]datasource.RelationMetadata, error) {
	var relations []datasource.RelationMetadata
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		var err error
		relations, err = s.discoverRelations(ctx, conn, database)
		if err != nil {
			return err
		}
		for i := range relations {
			if err := discoverColumns(ctx, conn, &relations[i]); err != nil {
				return err
			}
		}
		for i := range relations {
			if err := discoverForeignKeys(ctx, conn, &relations[i], relations); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list relations in %s: %w", database, err)
	}
	return relations, nil
}

func (s *Source) discoverRelations(ctx context.Context, conn *sql.Conn, database string) ([]datasource.RelationMetadata, error) {
	query := fmt.Sprintf(`
		SELECT name, type
		FROM %s.sqlite_master
		WHERE type IN ('table', 'view')
		  AND name NOT LIKE 'sqlite_%%'
		ORDER BY name
	`, s.QuoteIdentifier(database))

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()

	var relations []datasource.RelationMetadata
	for rows.Next() {
		rel := datasource.RelationMetadata{DatabaseName: database, SchemaName: DefaultSchema}
		if err := rows.Scan(&rel.RelationName, &rel.RawKind); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		relations = append(relations, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}
	return relations, nil
}

func discoverColumns(ctx context.Context, conn *sql.Conn, rel *datasource.RelationMetadata) error {
	const query = `SELECT cid, name, type, "notnull", pk FROM pragma_table_info(?, ?) ORDER BY cid`

	rows, err := conn.QueryContext(ctx, query, rel.RelationName, rel.DatabaseName)
	if err != nil {
		return fmt.Errorf("query columns of %s: %w", rel.RelationName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid, pk int
		var notNull bool
		var col datasource.ColumnMetadata
		if err := rows.Scan(&cid, &col.ColumnName, &col.DataType, &notNull, &pk); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		col.IsNullable = !notNull
		col.IsPrimaryKey = pk > 0
		col.OrdinalPosition = cid + 1
		rel.Columns = append(rel.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns: %w", err)
	}
	return nil
}

// discoverForeignKeys reads foreign keys of rel. A reference without a column
// list points at the parent's primary key, which is looked up in relations.
func discoverForeignKeys(ctx context.Context, conn *sql.Conn, rel *datasource.RelationMetadata, relations []datasource.RelationMetadata) error {
	const query = `SELECT id, seq, "table", "from", "to" FROM pragma_foreign_key_list(?, ?) ORDER BY id, seq`

	rows, err := conn.QueryContext(ctx, query, rel.RelationName, rel.DatabaseName)
	if err != nil {
		return fmt.Errorf("query foreign keys of %s: %w", rel.RelationName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, seq int
		var to sql.NullString
		fk := datasource.ForeignKeyMetadata{TargetDatabase: rel.DatabaseName, TargetSchema: DefaultSchema}
		if err := rows.Scan(&id, &seq, &fk.TargetTable, &fk.SourceColumn, &to); err != nil {
			return fmt.Errorf("scan foreign key row: %w", err)
		}
		fk.ConstraintName = fmt.Sprintf("fk_%s_%d", rel.RelationName, id)
		if to.Valid && to.String != "" {
			fk.TargetColumn = to.String
		} else {
			fk.TargetColumn = primaryKeyColumn(relations, fk.TargetTable, seq)
		}
		if fk.TargetColumn == "" {
			continue
		}
		rel.ForeignKeys = append(rel.ForeignKeys, fk)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate foreign keys: %w", err)
	}
	return nil
}

// primaryKeyColumn returns the seq-th primary key column of table, or "".
func primaryKeyColumn(relations []datasource.RelationMetadata, table string, seq int) string {
	for _, rel := range relations {
		if rel.RelationName != table {
			continue
		}
		n := 0
		for _, col := range rel.Columns {
			if !col.IsPrimaryKey {
				continue
			}
			if n == seq {
				return col.ColumnName
			}
			n++
		}
	}
	return ""
}

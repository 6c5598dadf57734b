package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
)

type relationRef struct {
	schema string
	name   string
}

// ListDatabases returns online user databases. System databases (ids 1-4) are
// never sampled.
func (s *Source) ListDatabases(ctx context.Context) ([]string, error) {
	const query = `
		SELECT name
		FROM sys.databases
		WHERE database_id > 4
		  AND state_desc = 'ONLINE'
		ORDER BY name
	`

	var databases []string
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("query databases: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("scan database: %w", err)
			}
			databases = append(databases, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return databases, nil
}

// ListRelations reads tables, views, columns and foreign keys of database through
// its own catalog views, addressed by three-part name.
func (s *Source) ListRelations(ctx context.Context, database string) ([]datasource.RelationMetadata, error) {
	db := s.QuoteIdentifier(database)

	var relations []datasource.RelationMetadata
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		var err error
		relations, err = discoverRelations(ctx, conn, db, database)
		if err != nil {
			return err
		}

		index := make(map[relationRef]int, len(relations))
		for i, rel := range relations {
			index[relationRef{rel.SchemaName, rel.RelationName}] = i
		}

		if err := discoverColumns(ctx, conn, db, relations, index); err != nil {
			return err
		}
		return discoverForeignKeys(ctx, conn, db, database, relations, index)
	})
	if err != nil {
		return nil, fmt.Errorf("list relations in %s: %w", database, err)
	}
	return relations, nil
}

func discoverRelations(ctx context.Context, conn *sql.Conn, db, database string) ([]datasource.RelationMetadata, error) {
	query := `
		SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE
		FROM ` + db + `.INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA NOT IN ('sys', 'INFORMATION_SCHEMA')
		ORDER BY TABLE_SCHEMA, TABLE_NAME
	`

	rows, err := conn.QueryContext(ctx, query)
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

func discoverColumns(ctx context.Context, conn *sql.Conn, db string, relations []datasource.RelationMetadata, index map[relationRef]int) error {
	query := `
		SELECT
			c.TABLE_SCHEMA,
			c.TABLE_NAME,
			c.COLUMN_NAME,
			c.DATA_TYPE,
			CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END AS is_nullable,
			CASE WHEN pk.COLUMN_NAME IS NULL THEN 0 ELSE 1 END AS is_primary_key,
			c.ORDINAL_POSITION
		FROM ` + db + `.INFORMATION_SCHEMA.COLUMNS c
		LEFT JOIN (
			SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
			FROM ` + db + `.INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			JOIN ` + db + `.INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
				ON ku.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
				AND ku.CONSTRAINT_SCHEMA = tc.CONSTRAINT_SCHEMA
			WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		) pk ON pk.TABLE_SCHEMA = c.TABLE_SCHEMA
			AND pk.TABLE_NAME = c.TABLE_NAME
			AND pk.COLUMN_NAME = c.COLUMN_NAME
		ORDER BY c.TABLE_SCHEMA, c.TABLE_NAME, c.ORDINAL_POSITION
	`

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var schema, table string
		var col datasource.ColumnMetadata
		if err := rows.Scan(&schema, &table, &col.ColumnName, &col.DataType, &col.IsNullable, &col.IsPrimaryKey, &col.OrdinalPosition); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		if i, ok := index[relationRef{schema, table}]; ok {
			relations[i].Columns = append(relations[i].Columns, col)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns: %w", err)
	}
	return nil
}

// discoverForeignKeys joins the database's own sys views; OBJECT_NAME and
// COL_NAME resolve against the current database only.
func discoverForeignKeys(ctx context.Context, conn *sql.Conn, db, database string, relations []datasource.RelationMetadata, index map[relationRef]int) error {
	query := `
		SELECT
			fk.name,
			ss.name AS source_schema,
			st.name AS source_table,
			sc.name AS source_column,
			rs.name AS target_schema,
			rt.name AS target_table,
			rc.name AS target_column
		FROM ` + db + `.sys.foreign_keys fk
		JOIN ` + db + `.sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
		JOIN ` + db + `.sys.tables st ON st.object_id = fk.parent_object_id
		JOIN ` + db + `.sys.schemas ss ON ss.schema_id = st.schema_id
		JOIN ` + db + `.sys.columns sc ON sc.object_id = fkc.parent_object_id AND sc.column_id = fkc.parent_column_id
		JOIN ` + db + `.sys.tables rt ON rt.object_id = fk.referenced_object_id
		JOIN ` + db + `.sys.schemas rs ON rs.schema_id = rt.schema_id
		JOIN ` + db + `.sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		WHERE fk.is_ms_shipped = 0
		ORDER BY ss.name, st.name, fk.name, fkc.constraint_column_id
	`

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sourceSchema, sourceTable string
		fk := datasource.ForeignKeyMetadata{TargetDatabase: database}
		if err := rows.Scan(&fk.ConstraintName, &sourceSchema, &sourceTable, &fk.SourceColumn,
			&fk.TargetSchema, &fk.TargetTable, &fk.TargetColumn); err != nil {
			return fmt.Errorf("scan foreign key row: %w", err)
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

package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/report"
)

func writeWarehouse(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "warehouse.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE regions (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE stores (id INTEGER PRIMARY KEY, region_id INTEGER REFERENCES regions(id))`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	for i := 1; i <= 5; i++ {
		_, err := db.Exec(`INSERT INTO regions VALUES (?, ?)`, i, fmt.Sprintf("region-%d", i))
		require.NoError(t, err)
	}
	for i := 1; i <= 30; i++ {
		_, err := db.Exec(`INSERT INTO stores VALUES (?, ?)`, i, i%5+1)
		require.NoError(t, err)
	}
	return path
}

func writeReplicaConfig(t *testing.T, dir, source string) string {
	t.Helper()
	content := fmt.Sprintf(`
threads: 2
log_level: warn
source:
  adapter: sqlite
  connection:
    path: %s
  sample_method: row_count
  rows: 10
  include:
    - database: main
      schema: ".*"
      relation: ".*"
target:
  adapter: sqlite
  connection:
    path: %s
`, source, filepath.Join(dir, "sample.db"))

	path := filepath.Join(dir, "replica.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestApp_RunJSON(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeReplicaConfig(t, dir, writeWarehouse(t, dir))

	var out bytes.Buffer
	err := newApp("test", &out).Run(context.Background(), []string{"replica", "--config", cfgPath, "--format", "json", "run"})
	require.NoError(t, err)

	var result report.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, report.ModeRun, result.Mode)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "main.default.regions", result.Rows[0].Relation)
	assert.Equal(t, int64(10), result.Rows[1].SampleSize)
	assert.Equal(t, 2, result.Summary.Loaded)
}

func TestApp_AnalyzeText(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REPLICA_CONFIG", writeReplicaConfig(t, dir, writeWarehouse(t, dir)))

	var out bytes.Buffer
	err := newApp("test", &out).Run(context.Background(), []string{"replica", "analyze"})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "RELATION")
	assert.Contains(t, out.String(), "main.default.stores")
	assert.Contains(t, out.String(), "analyzed")
}

func TestApp_MissingConfig(t *testing.T) {
	var out bytes.Buffer
	err := newApp("test", &out).Run(context.Background(), []string{"replica", "-c", filepath.Join(t.TempDir(), "missing.yaml"), "run"})
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
	assert.Empty(t, out.String())
}

func TestApp_RunErrorKeepsChain(t *testing.T) {
	dir := t.TempDir()
	source := writeWarehouse(t, dir)
	content := fmt.Sprintf(`
max_databases: 1
log_level: warn
source:
  adapter: sqlite
  connection:
    path: %s
    attach:
      archive: %s
  sample_method: row_count
  rows: 10
  include:
    - database: ".*"
      schema: ".*"
      relation: ".*"
target:
  adapter: sqlite
  connection:
    path: %s
`, source, writeWarehouse(t, t.TempDir()), filepath.Join(dir, "sample.db"))
	cfgPath := filepath.Join(dir, "replica.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	var out bytes.Buffer
	err := newApp("test", &out).Run(context.Background(), []string{"replica", "-c", cfgPath, "run"})
	require.ErrorIs(t, err, apperrors.ErrTooManyDatabases)

	var tooMany *apperrors.TooManyDatabasesError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, 1, tooMany.Limit)
	assert.Equal(t, 1, exitCode(err))
}

func TestApp_Adapters(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, newApp("test", &out).Run(context.Background(), []string{"replica", "adapters"}))

	for _, kind := range []string{"clickhouse", "mssql", "postgres", "sqlite"} {
		assert.Contains(t, out.String(), kind)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(errRelationsFailed))
	assert.Equal(t, 1, exitCode(fmt.Errorf("boom")))
}

package models

import "strings"

// Materialization describes how a relation is physically realized in the source.
type Materialization string

const (
	MaterializationTable            Materialization = "table"
	MaterializationView             Materialization = "view"
	MaterializationMaterializedView Materialization = "materialized_view"
	MaterializationExternal         Materialization = "external"
	MaterializationUnknown          Materialization = "unknown"
)

// ParseMaterialization maps the spellings used by information_schema, sys.objects and
// sqlite_master onto a Materialization.
func ParseMaterialization(raw string) Materialization {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BASE TABLE", "TABLE", "U", "USER_TABLE", "MERGETREE", "LOCAL TEMPORARY":
		return MaterializationTable
	case "VIEW", "V":
		return MaterializationView
	case "MATERIALIZED VIEW", "MATERIALIZEDVIEW", "MATVIEW":
		return MaterializationMaterializedView
	case "EXTERNAL", "EXTERNAL TABLE", "FOREIGN", "FOREIGN TABLE":
		return MaterializationExternal
	default:
		return MaterializationUnknown
	}
}

// IsSampleable reports whether rows can be selected from the relation at all.
func (m Materialization) IsSampleable() bool {
	switch m {
	case MaterializationTable, MaterializationView, MaterializationMaterializedView:
		return true
	default:
		return false
	}
}

package models

import (
	"fmt"
	"regexp"
)

// Pattern is a regex triple used to include or exclude relations. Each component is
// matched against the whole identifier.
type Pattern struct {
	Database string `yaml:"database" json:"database"`
	Schema   string `yaml:"schema" json:"schema"`
	Relation string `yaml:"relation" json:"relation"`
}

// CompiledPattern is a Pattern with its regular expressions compiled and anchored.
type CompiledPattern struct {
	Pattern
	database *regexp.Regexp
	schema   *regexp.Regexp
	relation *regexp.Regexp
}

// Compile anchors and compiles every component.
func (p Pattern) Compile() (*CompiledPattern, error) {
	db, err := anchored(p.Database)
	if err != nil {
		return nil, fmt.Errorf("database pattern %q: %w", p.Database, err)
	}
	schema, err := anchored(p.Schema)
	if err != nil {
		return nil, fmt.Errorf("schema pattern %q: %w", p.Schema, err)
	}
	rel, err := anchored(p.Relation)
	if err != nil {
		return nil, fmt.Errorf("relation pattern %q: %w", p.Relation, err)
	}
	return &CompiledPattern{Pattern: p, database: db, schema: schema, relation: rel}, nil
}

// CompilePatterns compiles a list of patterns, failing on the first invalid one.
func CompilePatterns(patterns []Pattern) ([]*CompiledPattern, error) {
	compiled := make([]*CompiledPattern, 0, len(patterns))
	for i, p := range patterns {
		cp, err := p.Compile()
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		compiled = append(compiled, cp)
	}
	return compiled, nil
}

func anchored(expr string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + expr + `)$`)
}

// Matches is true when all three components fully match.
func (p *CompiledPattern) Matches(key RelationKey) bool {
	return p.database.MatchString(key.Database) &&
		p.schema.MatchString(key.Schema) &&
		p.relation.MatchString(key.Name)
}

// SingleFullPatternMatch reports whether rel matches every component of pattern.
func SingleFullPatternMatch(rel *Relation, pattern *CompiledPattern) bool {
	return pattern.Matches(rel.Key())
}

// AtLeastOneFullPatternMatch reports whether rel fully matches any of patterns.
func AtLeastOneFullPatternMatch(rel *Relation, patterns []*CompiledPattern) bool {
	for _, p := range patterns {
		if SingleFullPatternMatch(rel, p) {
			return true
		}
	}
	return false
}

package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
)

// clusterMember is the worker-local extraction state of one cluster relation.
type clusterMember struct {
	task       memberTask
	population int64
	data       *datasource.QueryResult
	rows       map[string]bool
	// requested[column] holds every key of column already present or already
	// asked for, so each key is queried at most once.
	requested map[string]map[string]bool
}

// executeCluster extracts the members of a cycle together. Each member starts
// from its CompiledQuery: its sample, or the rows its external children
// reference. The members are then closed over each other: every key a member
// references in another member is fetched with that member's ClosureQuery, and
// the rows that brings in may reference further keys. This repeats until no
// member references a key it has not asked for. Loading starts only once the
// closure is complete.
func (c *coordinator) executeCluster(ctx context.Context, t task, extractedAt time.Time) []memberResult {
	logger := c.runner.logger.With(zap.Int("graph", c.graph.ID), zap.Int("node", t.node.ID))
	var results []memberResult
	members := make(map[int]*clusterMember, len(t.members))
	var order []int

	for _, m := range t.members {
		if m.rel.Unsampled {
			results = append(results, memberResult{index: m.index})
			continue
		}
		population, err := c.count(ctx, m.rel)
		if err != nil {
			return append(results, memberResult{index: m.index, extractedAt: extractedAt, err: fmt.Errorf("count population: %w", err)})
		}
		data, err := c.extract(ctx, m.rel, m.rel.CompiledQuery, m.params)
		if err != nil {
			return append(results, memberResult{index: m.index, population: population, extractedAt: extractedAt, err: err})
		}
		cm := &clusterMember{
			task:       m,
			population: population,
			data:       &datasource.QueryResult{Columns: data.Columns},
			rows:       make(map[string]bool, len(data.Rows)),
			requested:  make(map[string]map[string]bool),
		}
		for _, b := range m.closure {
			cm.requested[b.ParentColumn] = make(map[string]bool)
		}
		c.addRows(cm, data.Rows)
		members[m.index] = cm
		order = append(order, m.index)
	}

	for round := 1; ; round++ {
		queried := false
		for _, i := range order {
			cm := members[i]
			params, ok := c.missingKeys(cm, members)
			if !ok {
				continue
			}
			queried = true
			data, err := c.extract(ctx, cm.task.rel, cm.task.rel.ClosureQuery, params)
			if err == nil {
				err = c.closeOver(cm, data.Rows)
			}
			if err != nil {
				return append(results, memberResult{index: i, population: cm.population, extractedAt: extractedAt, err: err})
			}
		}
		if !queried {
			logger.Debug("Cluster closed", zap.Int("rounds", round))
			break
		}
	}

	for _, i := range order {
		cm := members[i]
		mr := memberResult{
			index:       i,
			population:  cm.population,
			sample:      int64(cm.data.RowCount()),
			extracted:   true,
			extractedAt: extractedAt,
			keys:        c.extractKeys(cm.data, cm.task.keyColumns, cm.task.keyTypes),
		}
		if mr.err = c.load(ctx, cm.task.rel, cm.data); mr.err != nil {
			return append(results, mr)
		}
		mr.loaded = true
		results = append(results, mr)
	}
	return results
}

// missingKeys builds the ClosureQuery parameters of cm: for every binding, the
// keys its cluster child references that cm has neither extracted nor asked for.
// The keys are marked as requested. It reports false when there is nothing to
// ask for.
func (c *coordinator) missingKeys(cm *clusterMember, members map[int]*clusterMember) ([]any, bool) {
	missing := make([][]string, len(cm.task.closure))
	ask := false
	for k, b := range cm.task.closure {
		missing[k] = []string{}
		child := members[b.Child]
		if child == nil {
			continue
		}
		idx := child.data.ColumnIndex(b.ChildColumn)
		for _, key := range c.columnKeys(child.data.Rows, idx, child.task.keyTypes[b.ChildColumn]) {
			if !cm.requested[b.ParentColumn][key] {
				missing[k] = append(missing[k], key)
			}
		}
		ask = ask || len(missing[k]) > 0
	}
	if !ask {
		return nil, false
	}

	params := make([]any, len(missing))
	for k, b := range cm.task.closure {
		for _, key := range missing[k] {
			cm.requested[b.ParentColumn][key] = true
		}
		params[k] = keySetParam(missing[k])
	}
	return params, true
}

// closeOver adds the rows a closure query returned and enforces the row limit
// on the member's running total.
func (c *coordinator) closeOver(cm *clusterMember, rows [][]any) error {
	c.addRows(cm, rows)
	if limit := c.runner.config.MaxRows; limit > 0 && cm.data.RowCount() > limit {
		return fmt.Errorf("extract: %w", &apperrors.RowLimitExceededError{Limit: limit, Relation: cm.task.rel.DotNotation()})
	}
	return nil
}

// addRows appends rows not seen before and records their keys as requested.
// A key spelled differently than it was asked for can return a row twice.
func (c *coordinator) addRows(cm *clusterMember, rows [][]any) {
	for _, row := range rows {
		fp := fingerprint(row)
		if cm.rows[fp] {
			continue
		}
		cm.rows[fp] = true
		cm.data.Rows = append(cm.data.Rows, row)
		for col, requested := range cm.requested {
			idx := cm.data.ColumnIndex(col)
			if idx < 0 {
				continue
			}
			if s, ok := c.source.KeyText(row[idx], cm.task.keyTypes[col]); ok {
				requested[s] = true
			}
		}
	}
}

func fingerprint(row []any) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		if s, ok := datasource.KeyString(v); ok {
			b.WriteString(s)
		} else {
			b.WriteByte(0)
		}
	}
	return b.String()
}

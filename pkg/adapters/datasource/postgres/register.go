package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
)

func init() {
	datasource.Register(Registration())
}

// Registration describes the PostgreSQL adapter for a datasource.Registry.
func Registration() datasource.Registration {
	return datasource.Registration{
		Info: datasource.AdapterInfo{
			Type:        adapterType,
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+, Aurora PostgreSQL, Supabase",
		},
		Source: func(ctx context.Context, config map[string]any, connMgr *datasource.ConnectionManager, logger *zap.Logger) (datasource.SourceAdapter, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewSource(ctx, cfg, connMgr, logger)
		},
		Target: func(ctx context.Context, config map[string]any, connMgr *datasource.ConnectionManager, logger *zap.Logger) (datasource.TargetAdapter, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewTarget(ctx, cfg, connMgr, logger)
		},
	}
}

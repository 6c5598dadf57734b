package sqlite

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
)

func init() {
	datasource.Register(Registration())
}

// Registration describes the SQLite adapter for a datasource.Registry.
func Registration() datasource.Registration {
	return datasource.Registration{
		Info: datasource.AdapterInfo{
			Type:        adapterType,
			DisplayName: "SQLite",
			Description: "SQLite 3 database files, including attached databases",
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

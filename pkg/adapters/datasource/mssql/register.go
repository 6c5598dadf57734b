package mssql

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
)

func init() {
	datasource.Register(Registration())
}

// Registration describes the SQL Server adapter. It is source-only.
func Registration() datasource.Registration {
	return datasource.Registration{
		Info: datasource.AdapterInfo{
			Type:        adapterType,
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2019+, Azure SQL Database",
		},
		Source: func(ctx context.Context, config map[string]any, connMgr *datasource.ConnectionManager, logger *zap.Logger) (datasource.SourceAdapter, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewSource(ctx, cfg, connMgr, logger)
		},
	}
}

package clickhouse

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
)

func init() {
	datasource.Register(Registration())
}

// Registration describes the ClickHouse adapter. It is target-only.
func Registration() datasource.Registration {
	return datasource.Registration{
		Info: datasource.AdapterInfo{
			Type:        adapterType,
			DisplayName: "ClickHouse",
			Description: "ClickHouse 23+ over the native protocol",
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

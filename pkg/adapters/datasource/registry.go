package datasource

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
)

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	Type        string `json:"type" yaml:"type"`                 // "postgres", "sqlserver", "sqlite"
	DisplayName string `json:"display_name" yaml:"display_name"` // "PostgreSQL"
	Description string `json:"description" yaml:"description"`
	Source      bool   `json:"source" yaml:"source"`
	Target      bool   `json:"target" yaml:"target"`
}

// SourceFactory creates a source adapter from its connection map.
type SourceFactory func(ctx context.Context, config map[string]any, connMgr *ConnectionManager, logger *zap.Logger) (SourceAdapter, error)

// TargetFactory creates a target adapter from its connection map.
type TargetFactory func(ctx context.Context, config map[string]any, connMgr *ConnectionManager, logger *zap.Logger) (TargetAdapter, error)

// Registration contains info + factories for creating adapters. Either factory may
// be nil when the adapter only serves one role.
type Registration struct {
	Info   AdapterInfo
	Source SourceFactory
	Target TargetFactory
}

// Registry is a static table of adapter factories keyed by identifier.
type Registry struct {
	mu            sync.RWMutex
	registrations map[string]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{registrations: make(map[string]Registration)}
}

// DefaultRegistry is populated by the adapter packages' init functions.
var DefaultRegistry = NewRegistry()

// Register adds reg to DefaultRegistry. Called by each adapter's init() function.
func Register(reg Registration) {
	DefaultRegistry.Register(reg)
}

// Register adds or replaces a registration.
// Thread-safe for concurrent init() calls.
func (r *Registry) Register(reg Registration) {
	reg.Info.Source = reg.Source != nil
	reg.Info.Target = reg.Target != nil

	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters sorted by type.
func (r *Registry) RegisteredAdapters() []AdapterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]AdapterInfo, 0, len(r.registrations))
	for _, reg := range r.registrations {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// IsSourceRegistered checks if a source adapter type is available.
func (r *Registry) IsSourceRegistered(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[kind]
	return ok && reg.Source != nil
}

// IsTargetRegistered checks if a target adapter type is available.
func (r *Registry) IsTargetRegistered(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[kind]
	return ok && reg.Target != nil
}

// NewSource creates a source adapter of the given kind.
// Returns *apperrors.UnknownAdapterError if kind has no source factory.
func (r *Registry) NewSource(ctx context.Context, kind string, config map[string]any, connMgr *ConnectionManager, logger *zap.Logger) (SourceAdapter, error) {
	r.mu.RLock()
	reg, ok := r.registrations[kind]
	r.mu.RUnlock()

	if !ok || reg.Source == nil {
		return nil, &apperrors.UnknownAdapterError{Role: "source", Name: kind}
	}
	return reg.Source(ctx, config, connMgr, loggerOrNop(logger))
}

// NewTarget creates a target adapter of the given kind.
// Returns *apperrors.UnknownAdapterError if kind has no target factory.
func (r *Registry) NewTarget(ctx context.Context, kind string, config map[string]any, connMgr *ConnectionManager, logger *zap.Logger) (TargetAdapter, error) {
	r.mu.RLock()
	reg, ok := r.registrations[kind]
	r.mu.RUnlock()

	if !ok || reg.Target == nil {
		return nil, &apperrors.UnknownAdapterError{Role: "target", Name: kind}
	}
	return reg.Target(ctx, config, connMgr, loggerOrNop(logger))
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

package builtin

import (
	"context"

	"github.com/conneroisu/modserve/internal/plugins"
	"github.com/conneroisu/modserve/internal/transformer"
	"github.com/conneroisu/modserve/internal/types"
)

// NewTransformer returns the plugin that hands per-module source conversion
// to the external transformer service. The service returning nil means the
// code is already runtime-loadable and the chain continues unchanged.
func NewTransformer(service transformer.Service) plugins.Plugin {
	return plugins.Plugin{
		Name: "transformer",
		Transform: func(ctx context.Context, code, id string) (*types.TransformResult, error) {
			return service.Transform(ctx, code, id)
		},
	}
}

package ports

import (
	"context"

	"survbatch/domain/survival"
)

// ForestOptions carries the display toggles handed to the external
// rendering collaborator alongside the fitted models.
type ForestOptions struct {
	PointSize    float64 // marker size for HR point estimates
	ShowCaption  bool    // render the model caption block
	PValueHeader bool    // place the p-value summary in the header row
	Merged       bool    // combine all models into one plot
}

// DefaultForestOptions returns the conventional display settings
func DefaultForestOptions() ForestOptions {
	return ForestOptions{PointSize: 1.0, ShowCaption: true}
}

// RendererPort is the external forest-plot renderer. This core's only
// obligation is to hand it well-formed fitted models and the flattened
// result table; producing the visual artifact is entirely its concern.
type RendererPort interface {
	RenderForest(ctx context.Context, models []*survival.FittedModel, table *survival.ResultTable, opts ForestOptions) ([]byte, error)
}

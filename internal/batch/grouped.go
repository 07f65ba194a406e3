package batch

import (
	"context"
	"errors"

	"survbatch/domain/core"
	"survbatch/domain/dataset"
	"survbatch/domain/survival"
	"survbatch/ports"
)

// GroupedRequest re-fits one candidate variable across subgroups of the
// dataset, one batch run per distinct value of the grouping variable.
type GroupedRequest struct {
	Table        *dataset.Table
	GroupVar     core.VariableKey
	Covariate    core.VariableKey
	Controls     []core.VariableKey
	TimeColumn   core.VariableKey
	StatusColumn core.VariableKey
	Options      survival.RunOptions
}

// GroupRun pairs one group's domain result with its model store
type GroupRun struct {
	survival.GroupResult
	Models ports.ModelStore
}

// GroupedRunResult is the full grouped output, groups in first-observed
// row order.
type GroupedRunResult struct {
	GroupVar core.VariableKey
	Groups   []GroupRun
}

// Summary flattens the run into the serializable domain form
func (g *GroupedRunResult) Summary() *survival.GroupedResult {
	out := &survival.GroupedResult{GroupVar: g.GroupVar}
	for _, gr := range g.Groups {
		out.Groups = append(out.Groups, gr.GroupResult)
	}
	return out
}

// RunGrouped partitions the dataset by the grouping variable and invokes
// the same builder/driver pipeline once per partition; it introduces no
// fitting logic of its own, so the combined coefficients are exactly what
// per-subset Run calls over a manual pre-split would produce. Rows with a
// missing group value belong to no partition. A failure in one group
// never aborts its siblings.
func (d *Driver) RunGrouped(ctx context.Context, req GroupedRequest) (*GroupedRunResult, error) {
	if req.Covariate == "" {
		return nil, core.ErrNoCandidates
	}
	opts := req.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	parts, err := req.Table.SplitBy(req.GroupVar)
	if err != nil {
		return nil, err
	}

	result := &GroupedRunResult{GroupVar: req.GroupVar}
	for _, part := range parts {
		sub := req.Table.Subset(part.Rows)
		group := GroupRun{GroupResult: survival.GroupResult{
			Group: part.Value,
			NRows: len(part.Rows),
		}}

		runResult, err := d.Run(ctx, RunRequest{
			Table:        sub,
			Covariates:   []core.VariableKey{req.Covariate},
			Controls:     req.Controls,
			TimeColumn:   req.TimeColumn,
			StatusColumn: req.StatusColumn,
			Options:      opts,
		})
		switch {
		case err != nil && errors.Is(err, core.ErrAllSpecsFailed):
			// The single spec failed in this partition: record and move on.
			group.Table = runResult.Table
			group.Failures = runResult.Failures
		case err != nil:
			if core.IsConfigurationError(err) || ctx.Err() != nil {
				// Configuration is shared across partitions, so surface it.
				return nil, err
			}
			group.Failures = append(group.Failures, survival.FitFailure{
				Candidate: req.Covariate,
				Code:      survival.FailNoConvergence,
				Detail:    err.Error(),
			})
		default:
			group.Table = runResult.Table
			group.Failures = runResult.Failures
			group.Models = runResult.Models
			if runResult.Models != nil {
				if ref, ok := runResult.Models.Ref(req.Covariate); ok {
					group.ModelRef = ref
				}
			}
		}
		result.Groups = append(result.Groups, group)
	}
	return result, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexisbeaulieu97/kapsel/internal/environ"
	"github.com/alexisbeaulieu97/kapsel/internal/provider"
	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

// Unprepare asks every provider that can undo its work to do so, walking the
// requirements in reverse order. It keeps going after a failure and returns
// all failures joined.
func (e *Engine) Unprepare(ctx context.Context, opts PrepareOptions) error {
	candidates, err := e.plan(opts.Requirements)
	if err != nil {
		return err
	}

	r := &run{
		engine:  e,
		opts:    opts,
		acc:     environ.New(),
		ambient: copyMap(opts.Ambient),
		log:     e.logger,
	}

	var errs []error
	for i := len(opts.Requirements) - 1; i >= 0; i-- {
		req := opts.Requirements[i]
		for _, p := range candidates[i] {
			undo, ok := p.(provider.Unprovider)
			if !ok {
				continue
			}
			name := p.Metadata().Name
			pc := r.context(req)
			options, err := p.ReadConfig(pc)
			if err != nil {
				errs = append(errs, kapselerrors.NewProviderError(name, fmt.Errorf("%s: %w", req.Key, err)))
				continue
			}
			pc.Options = options
			if err := undo.Unprovide(ctx, pc); err != nil {
				r.log.WithRequirement(req.Key, string(req.Kind)).Error(err, "unprovide failed")
				errs = append(errs, kapselerrors.NewExecutionError(req.Key, err))
			}
		}
	}
	return errors.Join(errs...)
}

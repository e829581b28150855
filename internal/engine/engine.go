// Package engine runs the preparation pipeline: it checks every requirement
// in declared order and asks the candidate providers of each unmet one to
// satisfy it.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/kapsel/internal/environ"
	"github.com/alexisbeaulieu97/kapsel/internal/localstate"
	"github.com/alexisbeaulieu97/kapsel/internal/logger"
	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/provider"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
	"github.com/alexisbeaulieu97/kapsel/internal/runmode"
	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

// PrepareOptions describe one prepare run.
type PrepareOptions struct {
	// Requirements are processed in this order.
	Requirements []requirement.Requirement
	Mode         runmode.Mode

	// Overrides are explicit values, for example from the command line.
	// They outrank every other source.
	Overrides map[string]string

	// Ambient is the process environment the run starts from.
	Ambient map[string]string

	ProjectDir string
	Local      provider.LocalStore
	Secrets    localstate.SecretStore
	Prompter   provider.Prompter

	// StopOnFirstFailure leaves later requirements pending once a
	// non-optional requirement could not be met.
	StopOnFirstFailure bool

	// Whitelist, when non-empty, limits provide calls to these keys. Other
	// requirements are only checked.
	Whitelist []string
}

// Engine owns the provider lookup. It keeps no state between runs.
type Engine struct {
	providers provider.Source
	logger    *logger.Logger
}

// New creates an engine drawing candidates from providers.
func New(providers provider.Source, log *logger.Logger) (*Engine, error) {
	if providers == nil {
		return nil, kapselerrors.NewDefectError("engine needs a provider source", nil)
	}
	return &Engine{providers: providers, logger: log}, nil
}

// Check runs the pipeline in check-only mode.
func (e *Engine) Check(ctx context.Context, opts PrepareOptions) (*model.PrepareResult, error) {
	opts.Mode = runmode.CheckOnly
	return e.Prepare(ctx, opts)
}

// Prepare runs the pipeline once. Requirement failures are reported in the
// result; a non-nil error means the input itself was invalid.
func (e *Engine) Prepare(ctx context.Context, opts PrepareOptions) (*model.PrepareResult, error) {
	if !opts.Mode.Valid() {
		return nil, kapselerrors.NewValidationError("mode", fmt.Sprintf("unknown run mode %q", opts.Mode), nil)
	}
	candidates, err := e.plan(opts.Requirements)
	if err != nil {
		return nil, err
	}

	runID := logger.NewRunID()
	r := &run{
		engine:     e,
		opts:       opts,
		candidates: candidates,
		acc:        environ.New(),
		ambient:    copyMap(opts.Ambient),
		log:        e.logger.WithRunID(runID),
		whitelist:  toSet(opts.Whitelist),
	}
	ctx = logger.ContextWithRunID(ctx, runID)

	for _, key := range sortedKeys(opts.Overrides) {
		r.acc.Set(key, opts.Overrides[key], environ.SourceOverride)
	}

	r.log.WithFields(map[string]any{
		"mode":         opts.Mode.String(),
		"requirements": len(opts.Requirements),
	}).Debug("prepare started")

	reports := make([]model.RequirementReport, 0, len(opts.Requirements))
	stopped := false
	for i, req := range opts.Requirements {
		report := newReport(req)
		switch {
		case stopped:
			r.note("%s: not attempted", req.Key)
		case ctx.Err() != nil:
			report.Status = model.TransientFailure("prepare was cancelled: " + ctx.Err().Error())
			r.note("%s: not attempted, prepare was cancelled", req.Key)
		default:
			if err := r.process(ctx, req, candidates[i], &report); err != nil {
				return nil, err
			}
			if !report.Met() && !req.Optional && opts.StopOnFirstFailure {
				stopped = true
			}
		}
		reports = append(reports, report)
	}

	result := model.NewPrepareResult(runID, opts.Mode.String(), reports, r.acc.Merge(r.ambient), r.lines)
	r.log.WithFields(map[string]any{
		"success":    result.Success,
		"unresolved": result.Unresolved,
	}).Info("prepare finished")
	return result, nil
}

// plan resolves the candidates of every requirement before anything runs so
// that invariant violations abort the run up front.
func (e *Engine) plan(reqs []requirement.Requirement) ([][]provider.Provider, error) {
	seen := make(map[string]struct{}, len(reqs))
	for _, req := range reqs {
		if _, dup := seen[req.Key]; dup {
			return nil, kapselerrors.NewDefectError(fmt.Sprintf("requirement key %s is declared more than once", req.Key), nil)
		}
		seen[req.Key] = struct{}{}
	}
	if err := requirement.ValidateSet(reqs); err != nil {
		return nil, err
	}

	out := make([][]provider.Provider, len(reqs))
	for i, req := range reqs {
		providers := e.providers.ForKind(req.Kind)
		if len(providers) == 0 {
			return nil, kapselerrors.NewDefectError(fmt.Sprintf("requirement %s cannot be prepared", req.Key), provider.ErrNoProviders{Kind: req.Kind})
		}
		for _, p := range providers {
			meta := p.Metadata()
			if !meta.Handles(req.Kind) {
				return nil, kapselerrors.NewDefectError(fmt.Sprintf("provider %s was offered for %s requirement %s it does not handle", meta.Name, req.Kind, req.Key), nil)
			}
		}
		out[i] = providers
	}
	return out, nil
}

// run is the state of one Prepare call. The accumulator is written only here.
type run struct {
	engine     *Engine
	opts       PrepareOptions
	candidates [][]provider.Provider
	acc        *environ.Accumulator
	ambient    map[string]string
	log        *logger.Logger
	whitelist  map[string]struct{}
	lines      []string
}

func (r *run) note(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *run) context(req requirement.Requirement) *provider.Context {
	return &provider.Context{
		Requirement: req,
		Env:         r.acc.ViewWith(r.ambient),
		Ambient:     environ.ViewOf(r.ambient),
		Local:       r.opts.Local,
		Secrets:     r.opts.Secrets,
		Mode:        r.opts.Mode,
		Prompter:    r.opts.Prompter,
		ProjectDir:  r.opts.ProjectDir,
		Logger:      r.log,
	}
}

func (r *run) advance(report *model.RequirementReport, to model.State) error {
	if !model.CanTransition(report.State, to) {
		return kapselerrors.NewDefectError(fmt.Sprintf("requirement %s cannot move from %s to %s", report.Key, report.State, to), nil)
	}
	r.log.WithRequirement(report.Key, report.Kind).WithFields(map[string]any{
		"from": string(report.State),
		"to":   string(to),
	}).Debug("state transition")
	report.State = to
	return nil
}

func (r *run) process(ctx context.Context, req requirement.Requirement, candidates []provider.Provider, report *model.RequirementReport) error {
	start := time.Now()
	defer func() { report.Duration = time.Since(start) }()

	if err := r.advance(report, model.StateChecking); err != nil {
		return err
	}

	view := r.acc.ViewWith(r.ambient)
	if req.Check(ctx, view) {
		value := view.Lookup(req.Key)
		if !view.Accumulated(req.Key) {
			r.acc.Set(req.Key, value, environ.SourceAmbient)
		}
		report.Status = r.visible(req, model.Satisfied(value))
		r.note("%s: already satisfied", req.Key)
		return r.advance(report, model.StateAlreadySatisfied)
	}
	why := req.WhyNotMet(ctx, view)

	if !r.opts.Mode.MayProvide() {
		report.Status = model.Failed(r.describePlan(ctx, req, candidates, why), false)
		r.note("%s: %s", req.Key, report.Status.Reason())
		return r.advance(report, model.StateFailed)
	}
	if len(r.whitelist) > 0 {
		if _, ok := r.whitelist[req.Key]; !ok {
			report.Status = model.Failed(why+" (not selected for this run)", false)
			r.note("%s: skipped, %s", req.Key, why)
			return r.advance(report, model.StateFailed)
		}
	}

	if err := r.advance(report, model.StateAttempting); err != nil {
		return err
	}

	var declined []string
	for _, p := range candidates {
		meta := p.Metadata()
		status, elapsed := r.attempt(ctx, p, req)
		report.Attempts = append(report.Attempts, model.Attempt{
			Provider: meta.Name,
			Status:   r.visible(req, status),
			Duration: elapsed,
		})

		switch {
		case status.IsSatisfied():
			report.Provider = meta.Name
			report.Status = r.visible(req, r.record(req, meta, status))
			r.note("%s: satisfied by %s", req.Key, meta.Name)
			return r.advance(report, model.StateSatisfied)
		case status.WantsInput():
			report.Provider = meta.Name
			report.Status = status
			r.note("%s: waiting for input", req.Key)
			return r.advance(report, model.StateAwaitingInput)
		case status.Fatal():
			report.Provider = meta.Name
			report.Status = status
			r.note("%s: %s failed: %s", req.Key, meta.Name, status.Reason())
			return r.advance(report, model.StateFailed)
		default:
			declined = append(declined, fmt.Sprintf("%s: %s", meta.Name, status.Reason()))
		}
	}

	report.Status = model.PermanentFailure(fmt.Sprintf("%s; no provider could satisfy it (%s)", why, strings.Join(declined, "; ")))
	r.note("%s: %s", req.Key, report.Status.Reason())
	return r.advance(report, model.StateFailed)
}

// attempt runs one provider and applies the run mode to its outcome.
func (r *run) attempt(ctx context.Context, p provider.Provider, req requirement.Requirement) (model.Status, time.Duration) {
	start := time.Now()
	meta := p.Metadata()
	pc := r.context(req)

	opts, err := p.ReadConfig(pc)
	if err != nil {
		return model.PermanentFailure(fmt.Sprintf("invalid %s options: %v", meta.Name, err)), time.Since(start)
	}
	pc.Options = opts

	status := p.Provide(ctx, pc)
	if status.IsZero() {
		status = model.PermanentFailure(fmt.Sprintf("provider %s returned no status", meta.Name))
	}
	status = r.opts.Mode.Escalate(status)

	r.log.WithRequirement(req.Key, string(req.Kind)).WithFields(map[string]any{
		"provider": meta.Name,
		"status":   status.Tag().String(),
	}).Debug("provider attempted")
	return status, time.Since(start)
}

// record writes a satisfied value and its extra variables into the
// accumulator. A value already set by a stronger source stays in place and
// the status carries a warning.
func (r *run) record(req requirement.Requirement, meta provider.Metadata, status model.Status) model.Status {
	source := meta.ValueSource()
	if !r.acc.Set(req.Key, status.Value(), source) {
		current, _ := r.acc.SourceOf(req.Key)
		status = status.WithWarning(fmt.Sprintf("%s keeps the value set by the %s source", req.Key, current))
	}
	env := status.Env()
	for _, key := range model.SortedEnvKeys(env) {
		r.acc.Set(key, env[key], source)
	}
	for _, w := range status.Warnings() {
		r.log.WithRequirement(req.Key, string(req.Kind)).Warn(w)
	}
	return status
}

// describePlan explains, without side effects, what a provide run would do.
func (r *run) describePlan(ctx context.Context, req requirement.Requirement, candidates []provider.Provider, why string) string {
	for _, p := range candidates {
		pc := r.context(req)
		opts, err := p.ReadConfig(pc)
		if err != nil {
			continue
		}
		pc.Options = opts
		eval, err := p.CheckState(ctx, pc)
		if err != nil || eval == nil || !eval.Available {
			continue
		}
		return fmt.Sprintf("%s; %s would provide it: %s", why, p.Metadata().Name, eval.Message)
	}
	return why + "; no provider could provide it"
}

func (r *run) visible(req requirement.Requirement, status model.Status) model.Status {
	if req.Sensitive {
		return status.Redacted()
	}
	return status
}

func newReport(req requirement.Requirement) model.RequirementReport {
	return model.RequirementReport{
		Key:       req.Key,
		Kind:      string(req.Kind),
		Title:     req.Title(),
		State:     model.StatePending,
		Optional:  req.Optional,
		Sensitive: req.Sensitive,
	}
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func toSet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

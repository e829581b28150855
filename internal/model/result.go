package model

import (
	"fmt"
	"time"
)

// Attempt records one provider invocation for a requirement.
type Attempt struct {
	Provider string        `json:"provider"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
}

// RequirementReport captures everything that happened to one requirement
// during a prepare run.
type RequirementReport struct {
	Key       string        `json:"key"`
	Kind      string        `json:"kind"`
	Title     string        `json:"title"`
	State     State         `json:"state"`
	Status    Status        `json:"status"`
	Provider  string        `json:"provider,omitempty"`
	Attempts  []Attempt     `json:"attempts,omitempty"`
	Optional  bool          `json:"optional,omitempty"`
	Sensitive bool          `json:"sensitive,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Met reports whether the requirement ended Satisfied or AlreadySatisfied.
func (r RequirementReport) Met() bool {
	return r.State.Met()
}

// PrepareResult is the immutable outcome of one prepare run.
type PrepareResult struct {
	RunID      string              `json:"run_id"`
	Mode       string              `json:"mode"`
	Success    bool                `json:"success"`
	Env        map[string]string   `json:"-"`
	Reports    []RequirementReport `json:"requirements"`
	Unresolved []string            `json:"unresolved,omitempty"`
	Log        []string            `json:"log,omitempty"`
}

// NewPrepareResult derives Success and Unresolved from the reports. The
// environment is kept only when every non-optional requirement was met.
func NewPrepareResult(runID, mode string, reports []RequirementReport, env map[string]string, log []string) *PrepareResult {
	result := &PrepareResult{
		RunID:   runID,
		Mode:    mode,
		Reports: append([]RequirementReport(nil), reports...),
		Log:     append([]string(nil), log...),
	}

	for _, report := range reports {
		if report.Met() || report.Optional {
			continue
		}
		result.Unresolved = append(result.Unresolved, report.Key)
	}

	result.Success = len(result.Unresolved) == 0
	if result.Success {
		result.Env = make(map[string]string, len(env))
		for k, v := range env {
			result.Env[k] = v
		}
	}

	return result
}

// Report returns the report for key.
func (r *PrepareResult) Report(key string) (RequirementReport, bool) {
	if r == nil {
		return RequirementReport{}, false
	}
	for _, report := range r.Reports {
		if report.Key == key {
			return report, true
		}
	}
	return RequirementReport{}, false
}

// StatusFor returns the final status recorded for key.
func (r *PrepareResult) StatusFor(key string) (Status, bool) {
	report, ok := r.Report(key)
	if !ok {
		return Status{}, false
	}
	return report.Status, true
}

// Errors returns one "KEY: reason" line per requirement that was not met,
// optional requirements included.
func (r *PrepareResult) Errors() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, report := range r.Reports {
		if report.Met() {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", report.Key, describeUnmet(report)))
	}
	return out
}

func describeUnmet(report RequirementReport) string {
	switch {
	case report.Status.IsFailed():
		return report.Status.Reason()
	case report.Status.WantsInput():
		prompt, _ := report.Status.Prompt()
		return fmt.Sprintf("waiting for input: %s", prompt.Title)
	case report.State == StatePending:
		return "not attempted"
	default:
		return string(report.State)
	}
}

package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// StatusTag identifies which variant of Status is active.
type StatusTag int

const (
	// TagSatisfied means the requirement holds and carries its value.
	TagSatisfied StatusTag = iota + 1
	// TagFailed means the requirement could not be met.
	TagFailed
	// TagNeedsInput means a value must be entered by the user.
	TagNeedsInput
)

func (t StatusTag) String() string {
	switch t {
	case TagSatisfied:
		return "satisfied"
	case TagFailed:
		return "failed"
	case TagNeedsInput:
		return "needs_input"
	default:
		return "unknown"
	}
}

const unspecifiedFailure = "requirement could not be met (no reason given)"

// PromptSpec describes the question a provider wants answered.
type PromptSpec struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Default     string `json:"default,omitempty"`
	Sensitive   bool   `json:"sensitive,omitempty"`
}

// Status is the outcome of checking or providing one requirement. Exactly
// one variant is active; build values with Satisfied, Failed,
// TransientFailure, PermanentFailure or NeedsInput.
type Status struct {
	tag       StatusTag
	value     string
	reason    string
	fatal     bool
	transient bool
	prompt    PromptSpec
	env       map[string]string
	warnings  []string
}

// Satisfied reports that the requirement's key now holds value.
func Satisfied(value string) Status {
	return Status{tag: TagSatisfied, value: value}
}

// Failed reports a failure. A non-fatal failure means the provider declined
// and the next candidate may be tried; a fatal one ends the attempt for this
// requirement. An empty reason is replaced so a failure always explains itself.
func Failed(reason string, fatal bool) Status {
	if reason == "" {
		reason = unspecifiedFailure
	}
	return Status{tag: TagFailed, reason: reason, fatal: fatal}
}

// TransientFailure is a fatal failure that may succeed on a later run, such
// as a network timeout.
func TransientFailure(reason string) Status {
	s := Failed(reason, true)
	s.transient = true
	return s
}

// PermanentFailure is a fatal failure that needs user intervention.
func PermanentFailure(reason string) Status {
	return Failed(reason, true)
}

// Failedf is Failed with a formatted reason.
func Failedf(fatal bool, format string, args ...any) Status {
	return Failed(fmt.Sprintf(format, args...), fatal)
}

// NeedsInput reports that the user has to supply a value.
func NeedsInput(spec PromptSpec) Status {
	return Status{tag: TagNeedsInput, prompt: spec}
}

// Tag returns the active variant. The zero Status has tag 0.
func (s Status) Tag() StatusTag { return s.tag }

// IsZero reports whether s was never assigned.
func (s Status) IsZero() bool { return s.tag == 0 }

// IsSatisfied reports whether s is the Satisfied variant.
func (s Status) IsSatisfied() bool { return s.tag == TagSatisfied }

// IsFailed reports whether s is the Failed variant.
func (s Status) IsFailed() bool { return s.tag == TagFailed }

// WantsInput reports whether s is the NeedsInput variant.
func (s Status) WantsInput() bool { return s.tag == TagNeedsInput }

// Value is the satisfied value, or "" for other variants.
func (s Status) Value() string { return s.value }

// Reason is the failure reason, or "" for other variants.
func (s Status) Reason() string { return s.reason }

// Fatal reports whether a failure ends the attempt for its requirement.
func (s Status) Fatal() bool { return s.tag == TagFailed && s.fatal }

// Transient reports whether a failure is worth retrying on a later run.
func (s Status) Transient() bool { return s.tag == TagFailed && s.transient }

// Prompt returns the prompt of a NeedsInput status.
func (s Status) Prompt() (PromptSpec, bool) {
	if s.tag != TagNeedsInput {
		return PromptSpec{}, false
	}
	return s.prompt, true
}

// WithEnv returns a copy of s that also exports key=value alongside the
// requirement's own key, for example a PATH entry for an environment.
func (s Status) WithEnv(key, value string) Status {
	env := make(map[string]string, len(s.env)+1)
	for k, v := range s.env {
		env[k] = v
	}
	env[key] = value
	s.env = env
	return s
}

// Env returns a copy of the extra variables carried by s.
func (s Status) Env() map[string]string {
	if len(s.env) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.env))
	for k, v := range s.env {
		out[k] = v
	}
	return out
}

// WithWarning returns a copy of s carrying an extra warning message. A
// satisfied status with warnings is "met with a warning".
func (s Status) WithWarning(msg string) Status {
	s.warnings = append(append([]string(nil), s.warnings...), msg)
	return s
}

// Warnings returns the warnings attached to s.
func (s Status) Warnings() []string {
	return append([]string(nil), s.warnings...)
}

// Redacted returns a copy of s with its value and extra env values masked.
func (s Status) Redacted() Status {
	if s.value != "" {
		s.value = redactedValue
	}
	if len(s.env) > 0 {
		env := make(map[string]string, len(s.env))
		for k := range s.env {
			env[k] = redactedValue
		}
		s.env = env
	}
	return s
}

const redactedValue = "********"

func (s Status) String() string {
	switch s.tag {
	case TagSatisfied:
		return fmt.Sprintf("satisfied: %s", s.value)
	case TagFailed:
		kind := "failed"
		if s.transient {
			kind = "failed (transient)"
		}
		return fmt.Sprintf("%s: %s", kind, s.reason)
	case TagNeedsInput:
		return fmt.Sprintf("needs input: %s", s.prompt.Title)
	default:
		return "no status"
	}
}

type statusJSON struct {
	Tag       string            `json:"status"`
	Value     string            `json:"value,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Fatal     bool              `json:"fatal,omitempty"`
	Transient bool              `json:"transient,omitempty"`
	Prompt    *PromptSpec       `json:"prompt,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// MarshalJSON renders the active variant.
func (s Status) MarshalJSON() ([]byte, error) {
	out := statusJSON{
		Tag:       s.tag.String(),
		Value:     s.value,
		Reason:    s.reason,
		Fatal:     s.Fatal(),
		Transient: s.Transient(),
		Env:       s.env,
		Warnings:  s.warnings,
	}
	if s.tag == TagNeedsInput {
		prompt := s.prompt
		out.Prompt = &prompt
	}
	return json.Marshal(out)
}

// SortedEnvKeys returns the keys of env in lexical order.
func SortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

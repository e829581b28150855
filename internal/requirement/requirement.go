// Package requirement describes the prerequisites a project declares and how
// to tell, without side effects, whether each one already holds.
package requirement

import (
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/kapsel/internal/config"
	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

// Kind tags what sort of prerequisite a requirement is.
type Kind string

const (
	KindVariable Kind = "variable"
	KindDownload Kind = "download"
	KindEnv      Kind = "env"
	KindService  Kind = "service"
	KindRepo     Kind = "repo"
)

// Kinds lists every known kind.
var Kinds = []Kind{KindVariable, KindDownload, KindEnv, KindService, KindRepo}

// DefaultEnvKey is the variable holding the prefix of the project environment.
const DefaultEnvKey = "CONDA_PREFIX"

// DefaultPortRange is used by project-scoped services without an explicit range.
const DefaultPortRange = "6380-6449"

// Service scopes control which service providers may be used.
const (
	ScopeAll     = "all"
	ScopeSystem  = "system"
	ScopeProject = "project"
)

var secretSuffixes = []string{"_PASSWORD", "_SECRET_KEY", "_SECRET"}

// DownloadParams are the parameters of a download requirement.
type DownloadParams struct {
	URL           string
	Filename      string
	HashAlgorithm string
	HashValue     string
	Unzip         bool
}

// EnvParams are the parameters of a package environment requirement.
type EnvParams struct {
	SpecName string
	Packages []string
	Channels []string
}

// ServiceParams are the parameters of a service requirement.
type ServiceParams struct {
	Type     string
	Scope    string
	PortLow  int
	PortHigh int
}

// RepoParams are the parameters of a git checkout requirement.
type RepoParams struct {
	URL       string
	Branch    string
	Directory string
}

// Requirement is an immutable description of one prerequisite. Key is the
// environment variable the requirement controls and is unique per project.
// Only the params struct matching Kind is meaningful.
type Requirement struct {
	Key         string
	Kind        Kind
	Description string
	Default     *string
	Sensitive   bool
	Optional    bool

	Download DownloadParams
	Env      EnvParams
	Service  ServiceParams
	Repo     RepoParams
}

// DefaultValue returns the declared default.
func (r Requirement) DefaultValue() (string, bool) {
	if r.Default == nil {
		return "", false
	}
	return *r.Default, true
}

// Title is a short human readable name for the requirement.
func (r Requirement) Title() string {
	if r.Description != "" {
		return r.Description
	}
	switch r.Kind {
	case KindDownload:
		return fmt.Sprintf("%s downloaded from %s", r.Key, r.Download.URL)
	case KindEnv:
		return fmt.Sprintf("package environment %q", r.Env.SpecName)
	case KindService:
		return fmt.Sprintf("%s service at %s", r.Service.Type, r.Key)
	case KindRepo:
		return fmt.Sprintf("git checkout of %s at %s", r.Repo.URL, r.Key)
	default:
		return fmt.Sprintf("value of %s", r.Key)
	}
}

// Validate rejects requirements with missing or malformed parameters.
func (r Requirement) Validate() error {
	if !config.IsValidEnvVarName(r.Key) {
		return kapselerrors.NewValidationError(r.Key, "requirement key must be a valid environment variable name", nil)
	}

	switch r.Kind {
	case KindVariable:
		return nil
	case KindDownload:
		if r.Download.URL == "" {
			return kapselerrors.NewValidationError(r.Key, "download requires a url", nil)
		}
		if r.Download.Filename == "" {
			return kapselerrors.NewValidationError(r.Key, "download requires a filename", nil)
		}
		if (r.Download.HashAlgorithm == "") != (r.Download.HashValue == "") {
			return kapselerrors.NewValidationError(r.Key, "download checksum needs both an algorithm and a value", nil)
		}
		if r.Download.HashAlgorithm != "" && !knownHash(r.Download.HashAlgorithm) {
			return kapselerrors.NewValidationError(r.Key, fmt.Sprintf("unsupported checksum algorithm %q", r.Download.HashAlgorithm), nil)
		}
		return nil
	case KindEnv:
		if r.Env.SpecName == "" {
			return kapselerrors.NewValidationError(r.Key, "environment requirement needs an env spec name", nil)
		}
		if len(r.Env.Packages) == 0 {
			return kapselerrors.NewValidationError(r.Key, fmt.Sprintf("env spec %q lists no packages", r.Env.SpecName), nil)
		}
		return nil
	case KindService:
		if r.Service.Type != "redis" {
			return kapselerrors.NewValidationError(r.Key, fmt.Sprintf("unknown service type %q", r.Service.Type), nil)
		}
		switch r.Service.Scope {
		case ScopeAll, ScopeSystem, ScopeProject:
		default:
			return kapselerrors.NewValidationError(r.Key, fmt.Sprintf("unknown service scope %q", r.Service.Scope), nil)
		}
		if r.Service.PortLow <= 0 || r.Service.PortLow > r.Service.PortHigh {
			return kapselerrors.NewValidationError(r.Key, "service port range is invalid", nil)
		}
		return nil
	case KindRepo:
		if r.Repo.URL == "" {
			return kapselerrors.NewValidationError(r.Key, "repo requires a url", nil)
		}
		return nil
	default:
		return kapselerrors.NewValidationError(r.Key, fmt.Sprintf("unknown requirement kind %q", r.Kind), nil)
	}
}

// ValidateSet validates every requirement and rejects duplicate keys.
func ValidateSet(reqs []Requirement) error {
	seen := make(map[string]Kind, len(reqs))
	for _, req := range reqs {
		if prev, ok := seen[req.Key]; ok {
			return kapselerrors.NewValidationError(req.Key, fmt.Sprintf("duplicate requirement key (declared as %s and %s)", prev, req.Kind), nil)
		}
		seen[req.Key] = req.Kind
		if err := req.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsSecretName reports whether a variable name looks like it holds a secret.
func IsSecretName(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

func knownHash(algo string) bool {
	for _, known := range config.HashAlgorithms {
		if known == algo {
			return true
		}
	}
	return false
}

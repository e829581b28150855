package requirement

import (
	"fmt"

	"github.com/alexisbeaulieu97/kapsel/internal/config"
	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

// FromConfig builds the ordered requirement list of a project. Sections are
// visited in the order they appear in the project file and entries in their
// declared order. envSpec selects the package environment; "" picks the
// "default" spec or else the first one. An env spec without packages adds no
// requirement.
func FromConfig(project *config.Project, envSpec string) ([]Requirement, error) {
	if project == nil {
		return nil, kapselerrors.NewValidationError("project", "project is nil", nil)
	}

	var reqs []Requirement
	for _, section := range project.SectionOrder {
		switch section {
		case config.SectionVariables:
			for _, v := range project.Variables {
				reqs = append(reqs, fromVariable(v))
			}
		case config.SectionDownloads:
			for _, d := range project.Downloads {
				reqs = append(reqs, fromDownload(d))
			}
		case config.SectionServices:
			for _, s := range project.Services {
				req, err := fromService(s)
				if err != nil {
					return nil, err
				}
				reqs = append(reqs, req)
			}
		case config.SectionRepos:
			for _, r := range project.Repos {
				reqs = append(reqs, fromRepo(r))
			}
		case config.SectionEnvSpecs:
			req, ok, err := fromEnvSpecs(project, envSpec)
			if err != nil {
				return nil, err
			}
			if ok {
				reqs = append(reqs, req)
			}
		}
	}

	if err := ValidateSet(reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func fromVariable(v config.Variable) Requirement {
	sensitive := IsSecretName(v.Name)
	if v.Encrypted != nil {
		sensitive = *v.Encrypted
	}
	return Requirement{
		Key:         v.Name,
		Kind:        KindVariable,
		Description: v.Description,
		Default:     copyString(v.Default),
		Sensitive:   sensitive,
		Optional:    v.Optional,
	}
}

func fromDownload(d config.Download) Requirement {
	unzip := false
	if d.Unzip != nil {
		unzip = *d.Unzip
	}
	return Requirement{
		Key:         d.Name,
		Kind:        KindDownload,
		Description: d.Description,
		Optional:    d.Optional,
		Download: DownloadParams{
			URL:           d.URL,
			Filename:      d.Filename,
			HashAlgorithm: d.HashAlgorithm,
			HashValue:     d.HashValue,
			Unzip:         unzip,
		},
	}
}

func fromService(s config.Service) (Requirement, error) {
	scope := s.Scope
	if scope == "" {
		scope = ScopeAll
	}
	portRange := s.PortRange
	if portRange == "" {
		portRange = DefaultPortRange
	}
	low, high, ok := config.ParsePortRange(portRange)
	if !ok {
		return Requirement{}, kapselerrors.NewValidationError(s.Name, fmt.Sprintf("invalid port range %q", portRange), nil)
	}
	return Requirement{
		Key:         s.Name,
		Kind:        KindService,
		Description: s.Description,
		Default:     copyString(s.Default),
		Optional:    s.Optional,
		Service: ServiceParams{
			Type:     s.Type,
			Scope:    scope,
			PortLow:  low,
			PortHigh: high,
		},
	}, nil
}

func fromRepo(r config.Repo) Requirement {
	return Requirement{
		Key:         r.Name,
		Kind:        KindRepo,
		Description: r.Description,
		Optional:    r.Optional,
		Repo: RepoParams{
			URL:       r.URL,
			Branch:    r.Branch,
			Directory: r.Directory,
		},
	}
}

func fromEnvSpecs(project *config.Project, name string) (Requirement, bool, error) {
	if len(project.EnvSpecs) == 0 {
		return Requirement{}, false, nil
	}

	var spec config.EnvSpec
	if name == "" {
		spec = project.EnvSpecs[0]
		if def, ok := project.EnvSpecByName(config.DefaultEnvSpecName); ok {
			spec = def
		}
	} else {
		var ok bool
		spec, ok = project.EnvSpecByName(name)
		if !ok {
			return Requirement{}, false, kapselerrors.NewValidationError(config.SectionEnvSpecs, fmt.Sprintf("unknown env spec %q", name), nil)
		}
	}

	if len(spec.Packages) == 0 {
		return Requirement{}, false, nil
	}

	return Requirement{
		Key:         DefaultEnvKey,
		Kind:        KindEnv,
		Description: spec.Description,
		Env: EnvParams{
			SpecName: spec.Name,
			Packages: append([]string(nil), spec.Packages...),
			Channels: append([]string(nil), spec.Channels...),
		},
	}, true, nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

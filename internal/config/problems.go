package config

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// DefaultEnvSpecName names the environment spec added when a project declares none.
const DefaultEnvSpecName = "default"

// Problem describes something wrong with a project file. Problems with a
// non-nil Fix can be repaired automatically.
type Problem struct {
	Field   string
	Message string
	Fix     func(*Project)
}

// Fixable reports whether the problem carries an automatic fix.
func (p Problem) Fixable() bool {
	return p.Fix != nil
}

func (p Problem) String() string {
	if p.Field == "" {
		return p.Message
	}
	return fmt.Sprintf("%s: %s", p.Field, p.Message)
}

// FindProblems computes the full problem list for project without changing it.
func FindProblems(project *Project) []Problem {
	var problems []Problem

	if len(project.EnvSpecs) == 0 {
		problems = append(problems, Problem{
			Field:   SectionEnvSpecs,
			Message: "no environment specs declared; adding an empty \"default\" spec",
			Fix: func(p *Project) {
				p.EnvSpecs = append(p.EnvSpecs, EnvSpec{Name: DefaultEnvSpecName})
				if !p.hasSection(SectionEnvSpecs) {
					p.SectionOrder = append(p.SectionOrder, SectionEnvSpecs)
				}
			},
		})
	}

	for i, d := range project.Downloads {
		idx := i
		if d.Filename == "" && d.URL != "" {
			problems = append(problems, Problem{
				Field:   fieldFor(SectionDownloads, i, "filename"),
				Message: fmt.Sprintf("download %s has no filename; deriving one from the URL", d.Name),
				Fix: func(p *Project) {
					p.Downloads[idx] = deriveDownloadFilename(p.Downloads[idx])
				},
			})
			continue
		}
		if d.Unzip == nil && urlIsZip(d.URL) && !strings.HasSuffix(strings.ToLower(d.Filename), ".zip") {
			problems = append(problems, Problem{
				Field:   fieldFor(SectionDownloads, i, "unzip"),
				Message: fmt.Sprintf("download %s is a zip saved without .zip suffix; assuming unzip", d.Name),
				Fix: func(p *Project) {
					unzip := true
					p.Downloads[idx].Unzip = &unzip
				},
			})
		}
	}

	for i, cmd := range project.Commands {
		idx := i
		if cmd.EnvSpec == "" && len(project.EnvSpecs) > 0 {
			name := preferredEnvSpec(project)
			problems = append(problems, Problem{
				Field:   fieldFor(SectionCommands, i, "env_spec"),
				Message: fmt.Sprintf("command %s has no env_spec; using %q", cmd.Name, name),
				Fix: func(p *Project) {
					p.Commands[idx].EnvSpec = name
				},
			})
			continue
		}
		if cmd.EnvSpec != "" {
			if _, ok := project.EnvSpecByName(cmd.EnvSpec); !ok {
				problems = append(problems, Problem{
					Field:   fieldFor(SectionCommands, i, "env_spec"),
					Message: fmt.Sprintf("command %s references unknown env spec %q", cmd.Name, cmd.EnvSpec),
				})
			}
		}
	}

	return problems
}

// FixProblems repeatedly recomputes the problem list and applies every
// available fix to a fresh copy until no fixable problems remain or maxPasses
// is reached. It returns the fixed project and the problems still present.
func FixProblems(project *Project, maxPasses int) (*Project, []Problem) {
	current := project.Clone()
	for pass := 0; pass < maxPasses; pass++ {
		problems := FindProblems(current)
		fixes := make([]func(*Project), 0, len(problems))
		for _, problem := range problems {
			if problem.Fixable() {
				fixes = append(fixes, problem.Fix)
			}
		}
		if len(fixes) == 0 {
			return current, problems
		}

		next := current.Clone()
		for _, fix := range fixes {
			fix(next)
		}
		current = next
	}
	return current, FindProblems(current)
}

func preferredEnvSpec(project *Project) string {
	if _, ok := project.EnvSpecByName(DefaultEnvSpecName); ok {
		return DefaultEnvSpecName
	}
	return project.EnvSpecs[0].Name
}

func urlIsZip(raw string) bool {
	return strings.HasSuffix(strings.ToLower(urlBasename(raw)), ".zip")
}

func urlBasename(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func deriveDownloadFilename(d Download) Download {
	base := urlBasename(d.URL)
	if base == "" {
		d.Filename = d.Name
		return d
	}

	d.Filename = base
	if strings.HasSuffix(strings.ToLower(base), ".zip") {
		if d.Unzip == nil {
			unzip := true
			d.Unzip = &unzip
		}
		if *d.Unzip {
			d.Filename = base[:len(base)-len(".zip")]
		}
	}
	return d
}

package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Section names recognised at the top level of kapsel.yml.
const (
	SectionVariables = "variables"
	SectionDownloads = "downloads"
	SectionServices  = "services"
	SectionRepos     = "repos"
	SectionEnvSpecs  = "env_specs"
	SectionCommands  = "commands"
)

// HashAlgorithms lists the digest keys accepted on a download declaration.
var HashAlgorithms = []string{"md5", "sha1", "sha224", "sha256", "sha384", "sha512"}

// Project represents the full kapsel.yml document.
//
// Each section keeps the order in which entries were declared, and
// SectionOrder records the order of the sections themselves, so the
// requirement list built from a Project is stable across runs.
type Project struct {
	Name        string     `yaml:"name" validate:"required,min=1,max=100"`
	Description string     `yaml:"description,omitempty"`
	Variables   []Variable `yaml:"-" validate:"dive"`
	Downloads   []Download `yaml:"-" validate:"dive"`
	Services    []Service  `yaml:"-" validate:"dive"`
	Repos       []Repo     `yaml:"-" validate:"dive"`
	EnvSpecs    []EnvSpec  `yaml:"-" validate:"dive"`
	Commands    []Command  `yaml:"-" validate:"dive"`

	SectionOrder []string `yaml:"-"`
}

// Variable declares a plain environment variable the project needs.
type Variable struct {
	Name        string  `validate:"required,env_var"`
	Default     *string `validate:"-"`
	Description string
	Encrypted   *bool
	Optional    bool
}

// Download declares a file fetched from a URL and referenced by Name.
type Download struct {
	Name          string `validate:"required,env_var"`
	URL           string `validate:"required,url"`
	Filename      string
	HashAlgorithm string `validate:"omitempty,hash_algo"`
	HashValue     string `validate:"required_with=HashAlgorithm"`
	Unzip         *bool
	Description   string
	Optional      bool
}

// Service declares a background service whose address is stored in Name.
type Service struct {
	Name        string `validate:"required,env_var"`
	Type        string `validate:"required,oneof=redis"`
	Default     *string
	Description string
	Scope       string `validate:"omitempty,oneof=all system project"`
	PortRange   string `validate:"omitempty,port_range"`
	Optional    bool
}

// Repo declares a git checkout whose path is stored in Name.
type Repo struct {
	Name        string `validate:"required,env_var"`
	URL         string `validate:"required,git_url"`
	Branch      string
	Directory   string
	Description string
	Optional    bool
}

// EnvSpec is a named set of packages and channels describing one environment.
type EnvSpec struct {
	Name        string   `validate:"required,min=1"`
	Packages    []string `validate:"dive,min=1"`
	Channels    []string `validate:"dive,min=1"`
	Description string
}

// Command is a named runnable entry point of the project.
type Command struct {
	Name        string `validate:"required,min=1"`
	Unix        string `validate:"required_without=Windows"`
	Windows     string
	EnvSpec     string
	Description string
}

// EnvSpecByName returns the spec with the given name.
func (p *Project) EnvSpecByName(name string) (EnvSpec, bool) {
	for _, spec := range p.EnvSpecs {
		if spec.Name == name {
			return spec, true
		}
	}
	return EnvSpec{}, false
}

// CommandByName returns the named command, or the first declared command when
// name is empty.
func (p *Project) CommandByName(name string) (Command, bool) {
	if name == "" {
		if len(p.Commands) == 0 {
			return Command{}, false
		}
		for _, cmd := range p.Commands {
			if cmd.Name == "default" {
				return cmd, true
			}
		}
		return p.Commands[0], true
	}
	for _, cmd := range p.Commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return Command{}, false
}

// Clone returns a deep copy so fixes can be applied without touching the original.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := *p
	out.Variables = append([]Variable(nil), p.Variables...)
	out.Downloads = append([]Download(nil), p.Downloads...)
	out.Services = append([]Service(nil), p.Services...)
	out.Repos = append([]Repo(nil), p.Repos...)
	out.EnvSpecs = make([]EnvSpec, len(p.EnvSpecs))
	for i, spec := range p.EnvSpecs {
		spec.Packages = append([]string(nil), spec.Packages...)
		spec.Channels = append([]string(nil), spec.Channels...)
		out.EnvSpecs[i] = spec
	}
	out.Commands = append([]Command(nil), p.Commands...)
	out.SectionOrder = append([]string(nil), p.SectionOrder...)
	return &out
}

func (p *Project) hasSection(name string) bool {
	for _, s := range p.SectionOrder {
		if s == name {
			return true
		}
	}
	return false
}

// UnmarshalYAML decodes the document while preserving declaration order.
func (p *Project) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: project file must be a mapping", value.Line)
	}

	*p = Project{}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i]
		node := value.Content[i+1]

		switch key.Value {
		case "name":
			if err := node.Decode(&p.Name); err != nil {
				return err
			}
		case "description":
			if err := node.Decode(&p.Description); err != nil {
				return err
			}
		case SectionVariables, SectionDownloads, SectionServices, SectionRepos, SectionEnvSpecs, SectionCommands:
			if err := p.decodeSection(key.Value, node); err != nil {
				return err
			}
			p.SectionOrder = append(p.SectionOrder, key.Value)
		default:
			return fmt.Errorf("line %d: unknown field %q", key.Line, key.Value)
		}
	}

	return nil
}

func (p *Project) decodeSection(section string, node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}

	// variables may also be written as a plain list of names
	if section == SectionVariables && node.Kind == yaml.SequenceNode {
		for _, item := range node.Content {
			var name string
			if err := item.Decode(&name); err != nil {
				return err
			}
			p.Variables = append(p.Variables, Variable{Name: name})
		}
		return nil
	}

	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %s must be a mapping", node.Line, section)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		item := node.Content[i+1]

		var err error
		switch section {
		case SectionVariables:
			var v Variable
			v, err = decodeVariable(name, item)
			p.Variables = append(p.Variables, v)
		case SectionDownloads:
			var d Download
			d, err = decodeDownload(name, item)
			p.Downloads = append(p.Downloads, d)
		case SectionServices:
			var s Service
			s, err = decodeService(name, item)
			p.Services = append(p.Services, s)
		case SectionRepos:
			var r Repo
			r, err = decodeRepo(name, item)
			p.Repos = append(p.Repos, r)
		case SectionEnvSpecs:
			var e EnvSpec
			e, err = decodeEnvSpec(name, item)
			p.EnvSpecs = append(p.EnvSpecs, e)
		case SectionCommands:
			var c Command
			c, err = decodeCommand(name, item)
			p.Commands = append(p.Commands, c)
		}
		if err != nil {
			return fmt.Errorf("line %d: %s.%s: %w", item.Line, section, name, err)
		}
	}
	return nil
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}

func decodeVariable(name string, node *yaml.Node) (Variable, error) {
	v := Variable{Name: name}
	switch {
	case isNull(node):
		return v, nil
	case node.Kind == yaml.ScalarNode:
		if node.Tag == "!!bool" {
			return v, fmt.Errorf("default must be null, a string, or a number, not %s", node.Value)
		}
		def := node.Value
		v.Default = &def
		return v, nil
	case node.Kind == yaml.MappingNode:
		var raw struct {
			Default     *yaml.Node `yaml:"default"`
			Description string     `yaml:"description"`
			Encrypted   *bool      `yaml:"encrypted"`
			Optional    bool       `yaml:"optional"`
		}
		if err := node.Decode(&raw); err != nil {
			return v, err
		}
		if raw.Default != nil && !isNull(raw.Default) {
			if raw.Default.Kind != yaml.ScalarNode || raw.Default.Tag == "!!bool" {
				return v, fmt.Errorf("default must be null, a string, or a number")
			}
			def := raw.Default.Value
			v.Default = &def
		}
		v.Description = raw.Description
		v.Encrypted = raw.Encrypted
		v.Optional = raw.Optional
		return v, nil
	default:
		return v, fmt.Errorf("variable must be a scalar default or a mapping")
	}
}

func decodeDownload(name string, node *yaml.Node) (Download, error) {
	d := Download{Name: name}
	if node.Kind == yaml.ScalarNode {
		d.URL = node.Value
		return d, nil
	}
	if node.Kind != yaml.MappingNode {
		return d, fmt.Errorf("download must be a URL or a mapping")
	}

	var raw map[string]*yaml.Node
	if err := node.Decode(&raw); err != nil {
		return d, err
	}
	var fields struct {
		URL         string `yaml:"url"`
		Filename    string `yaml:"filename"`
		Unzip       *bool  `yaml:"unzip"`
		Description string `yaml:"description"`
		Optional    bool   `yaml:"optional"`
	}
	if err := node.Decode(&fields); err != nil {
		return d, err
	}
	d.URL = fields.URL
	d.Filename = fields.Filename
	d.Unzip = fields.Unzip
	d.Description = fields.Description
	d.Optional = fields.Optional

	for _, algo := range HashAlgorithms {
		valueNode, ok := raw[algo]
		if !ok {
			continue
		}
		if d.HashAlgorithm != "" {
			return d, fmt.Errorf("multiple checksums: %s and %s", d.HashAlgorithm, algo)
		}
		if valueNode.Kind != yaml.ScalarNode || valueNode.Tag != "!!str" {
			return d, fmt.Errorf("checksum value for %s should be a string", algo)
		}
		d.HashAlgorithm = algo
		d.HashValue = strings.ToLower(valueNode.Value)
	}
	return d, nil
}

func decodeService(name string, node *yaml.Node) (Service, error) {
	s := Service{Name: name}
	if node.Kind == yaml.ScalarNode {
		s.Type = node.Value
		return s, nil
	}
	var raw struct {
		Type        string  `yaml:"type"`
		Default     *string `yaml:"default"`
		Description string  `yaml:"description"`
		Scope       string  `yaml:"scope"`
		PortRange   string  `yaml:"port_range"`
		Optional    bool    `yaml:"optional"`
	}
	if err := node.Decode(&raw); err != nil {
		return s, err
	}
	s.Type = raw.Type
	s.Default = raw.Default
	s.Description = raw.Description
	s.Scope = raw.Scope
	s.PortRange = raw.PortRange
	s.Optional = raw.Optional
	return s, nil
}

func decodeRepo(name string, node *yaml.Node) (Repo, error) {
	r := Repo{Name: name}
	if node.Kind == yaml.ScalarNode {
		r.URL = node.Value
		return r, nil
	}
	var raw struct {
		URL         string `yaml:"url"`
		Branch      string `yaml:"branch"`
		Directory   string `yaml:"directory"`
		Description string `yaml:"description"`
		Optional    bool   `yaml:"optional"`
	}
	if err := node.Decode(&raw); err != nil {
		return r, err
	}
	r.URL = raw.URL
	r.Branch = raw.Branch
	r.Directory = raw.Directory
	r.Description = raw.Description
	r.Optional = raw.Optional
	return r, nil
}

func decodeEnvSpec(name string, node *yaml.Node) (EnvSpec, error) {
	e := EnvSpec{Name: name}
	if isNull(node) {
		return e, nil
	}
	var raw struct {
		Packages    []string `yaml:"packages"`
		Channels    []string `yaml:"channels"`
		Description string   `yaml:"description"`
	}
	if err := node.Decode(&raw); err != nil {
		return e, err
	}
	e.Packages = raw.Packages
	e.Channels = raw.Channels
	e.Description = raw.Description
	return e, nil
}

func decodeCommand(name string, node *yaml.Node) (Command, error) {
	c := Command{Name: name}
	if node.Kind == yaml.ScalarNode {
		c.Unix = node.Value
		return c, nil
	}
	var raw struct {
		Unix        string `yaml:"unix"`
		Windows     string `yaml:"windows"`
		EnvSpec     string `yaml:"env_spec"`
		Description string `yaml:"description"`
	}
	if err := node.Decode(&raw); err != nil {
		return c, err
	}
	c.Unix = raw.Unix
	c.Windows = raw.Windows
	c.EnvSpec = raw.EnvSpec
	c.Description = raw.Description
	return c, nil
}

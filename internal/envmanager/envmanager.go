// Package envmanager talks to the external package manager that builds
// project environments.
package envmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alexisbeaulieu97/kapsel/internal/execstream"
	"github.com/alexisbeaulieu97/kapsel/internal/logger"
)

// ErrNotInstalled is returned when the package manager binary is missing.
var ErrNotInstalled = errors.New("package manager executable not found")

// Spec is the content an environment should have.
type Spec struct {
	Name     string
	Packages []string
	Channels []string
}

// Deviations describes how an environment prefix differs from a spec.
type Deviations struct {
	Exists   bool
	Writable bool
	Missing  []string
}

// OK reports whether the prefix already satisfies the spec.
func (d Deviations) OK() bool {
	return d.Exists && len(d.Missing) == 0
}

func (d Deviations) String() string {
	switch {
	case !d.Exists:
		return "environment does not exist"
	case len(d.Missing) > 0:
		return "missing packages: " + strings.Join(d.Missing, ", ")
	default:
		return "environment matches"
	}
}

// Manager ensures environments contain the packages of a spec.
type Manager interface {
	Deviations(ctx context.Context, prefix string, spec Spec) (Deviations, error)
	Fix(ctx context.Context, prefix string, spec Spec, dev Deviations) error
	Clone(ctx context.Context, source, dest string) error
	Remove(ctx context.Context, prefix string) error
}

// Options configure the conda adapter.
type Options struct {
	// Executable defaults to $CONDA_EXE, then "conda".
	Executable string
	Output     io.Writer
	Logger     *logger.Logger
}

// Conda drives the conda command line.
type Conda struct {
	exe    string
	output io.Writer
	logger *logger.Logger
}

// NewConda returns a conda adapter.
func NewConda(opts Options) *Conda {
	exe := opts.Executable
	if exe == "" {
		exe = os.Getenv("CONDA_EXE")
	}
	if exe == "" {
		exe = "conda"
	}
	output := opts.Output
	if output == nil {
		output = io.Discard
	}
	return &Conda{exe: exe, output: output, logger: opts.Logger}
}

type listedPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Deviations inspects prefix without changing it.
func (c *Conda) Deviations(ctx context.Context, prefix string, spec Spec) (Deviations, error) {
	var dev Deviations
	if _, err := os.Stat(filepath.Join(prefix, "conda-meta")); err != nil {
		dev.Missing = PackageNames(spec.Packages)
		return dev, nil
	}
	dev.Exists = true
	dev.Writable = IsWritable(prefix)

	res, err := c.run(ctx, "list", "--prefix", prefix, "--json")
	if err != nil {
		return dev, err
	}

	var listed []listedPackage
	if err := json.Unmarshal([]byte(res.Stdout), &listed); err != nil {
		return dev, fmt.Errorf("parse conda list output: %w", err)
	}
	installed := make(map[string]struct{}, len(listed))
	for _, p := range listed {
		installed[p.Name] = struct{}{}
	}
	for _, name := range PackageNames(spec.Packages) {
		if _, ok := installed[name]; !ok {
			dev.Missing = append(dev.Missing, name)
		}
	}
	return dev, nil
}

// Fix creates the environment or installs the missing packages.
func (c *Conda) Fix(ctx context.Context, prefix string, spec Spec, dev Deviations) error {
	args := []string{"create", "--yes", "--prefix", prefix}
	packages := spec.Packages
	if dev.Exists {
		if len(dev.Missing) == 0 {
			return nil
		}
		args = []string{"install", "--yes", "--prefix", prefix}
		packages = selectPackages(spec.Packages, dev.Missing)
	}
	for _, ch := range spec.Channels {
		args = append(args, "--channel", ch)
	}
	args = append(args, packages...)

	c.logger.ForContext(ctx).WithFields(map[string]any{"prefix": prefix, "packages": packages}).Info("updating environment")
	_, err := c.run(ctx, args...)
	return err
}

// Clone copies source into a new environment at dest.
func (c *Conda) Clone(ctx context.Context, source, dest string) error {
	_, err := c.run(ctx, "create", "--yes", "--prefix", dest, "--clone", source)
	return err
}

// Remove deletes the environment at prefix.
func (c *Conda) Remove(ctx context.Context, prefix string) error {
	_, err := c.run(ctx, "env", "remove", "--yes", "--prefix", prefix)
	return err
}

func (c *Conda) run(ctx context.Context, args ...string) (execstream.Result, error) {
	if _, ok := execstream.LookPath(c.exe); !ok {
		return execstream.Result{}, fmt.Errorf("%w: %s", ErrNotInstalled, c.exe)
	}
	res, err := execstream.Run(ctx, c.exe, args, execstream.Options{Stdout: c.output, Stderr: c.output})
	if err != nil {
		return res, fmt.Errorf("%s %s failed: %s", c.exe, args[0], firstNonEmpty(execstream.PrimaryOutput(res), err.Error()))
	}
	return res, nil
}

// PackageNames strips version constraints from package specs, sorted.
func PackageNames(specs []string) []string {
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, packageName(spec))
	}
	sort.Strings(names)
	return names
}

func packageName(spec string) string {
	spec = strings.TrimSpace(spec)
	if i := strings.IndexAny(spec, "=<>!~ "); i >= 0 {
		spec = spec[:i]
	}
	if i := strings.LastIndex(spec, "::"); i >= 0 {
		spec = spec[i+2:]
	}
	return spec
}

func selectPackages(specs, names []string) []string {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}
	var out []string
	for _, spec := range specs {
		if _, ok := wanted[packageName(spec)]; ok {
			out = append(out, spec)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

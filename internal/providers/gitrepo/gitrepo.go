// Package gitrepo provides git checkouts that a project depends on.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/provider"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
)

// Name identifies the provider in the registry and in option overrides.
const Name = "git-clone"

type cloneProvider struct{}

// New creates the git clone provider.
func New() provider.Provider {
	return &cloneProvider{}
}

var _ provider.Provider = (*cloneProvider)(nil)

func (p *cloneProvider) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:         Name,
		Kinds:        []requirement.Kind{requirement.KindRepo},
		Capabilities: provider.CanCheck | provider.CanProvide,
		Class:        provider.ClassDiscovery,
		Options: []provider.OptionSpec{
			{Name: "repos_dir", Default: "repos", Description: "Directory, relative to the project, receiving checkouts without an explicit directory."},
			{Name: "depth", Default: "0", Description: "Clone depth, 0 for full history."},
		},
		Description: "Clones a git repository into the project.",
	}
}

func (p *cloneProvider) ReadConfig(pc *provider.Context) (provider.Options, error) {
	opts, err := provider.LayerOptions(p.Metadata(), pc, nil)
	if err != nil {
		return nil, err
	}
	depth, err := opts.Int("depth", 0)
	if err != nil {
		return nil, err
	}
	if depth < 0 {
		return nil, fmt.Errorf("option depth must not be negative")
	}
	return opts, nil
}

// destination is Repo.Directory when declared, otherwise a directory named
// after the repository under repos_dir.
func destination(pc *provider.Context) string {
	params := pc.Requirement.Repo
	if params.Directory != "" {
		if filepath.IsAbs(params.Directory) {
			return params.Directory
		}
		return filepath.Join(pc.ProjectDir, params.Directory)
	}
	dir := pc.Options.Get("repos_dir")
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(pc.ProjectDir, dir)
	}
	return filepath.Join(dir, repoName(params.URL))
}

// repoName derives a directory name from URLs such as
// https://host/org/lib.git, git@host:org/lib.git or /srv/git/lib.
func repoName(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if i := strings.LastIndexAny(trimmed, ":/\\"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	trimmed = strings.TrimSuffix(trimmed, ".git")
	if trimmed == "" || trimmed == "." {
		return path.Base(url)
	}
	return trimmed
}

func (p *cloneProvider) CheckState(_ context.Context, pc *provider.Context) (*provider.Evaluation, error) {
	dest := destination(pc)
	if _, err := os.Stat(dest); err != nil {
		if os.IsNotExist(err) {
			return &provider.Evaluation{Available: true, Message: fmt.Sprintf("would clone %s into %s", pc.Requirement.Repo.URL, dest), Value: dest}, nil
		}
		return nil, fmt.Errorf("cannot access destination: %w", err)
	}
	if _, err := git.PlainOpen(dest); err != nil {
		return &provider.Evaluation{Message: fmt.Sprintf("directory %s exists but is not a git repository", dest), Value: dest}, nil
	}
	return &provider.Evaluation{Available: true, Message: fmt.Sprintf("git repository exists at %s", dest), Value: dest}, nil
}

func (p *cloneProvider) Provide(ctx context.Context, pc *provider.Context) model.Status {
	params := pc.Requirement.Repo
	dest := destination(pc)
	log := pc.Log().WithFields(map[string]any{"url": params.URL, "path": dest})

	if _, err := os.Stat(dest); err == nil {
		if _, err := git.PlainOpen(dest); err != nil {
			return model.PermanentFailure(fmt.Sprintf("directory %s exists but is not a git repository; move it away to clone %s", dest, params.URL))
		}
		log.Debug("checkout already present")
		return model.Satisfied(dest)
	} else if !os.IsNotExist(err) {
		return model.PermanentFailure(fmt.Sprintf("cannot access destination %s: %v", dest, err))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return model.PermanentFailure(fmt.Sprintf("failed to create parent directory: %v", err))
	}

	// Clone next to the destination so the final rename stays on one filesystem.
	staging, err := os.MkdirTemp(filepath.Dir(dest), "."+filepath.Base(dest)+"-clone-*")
	if err != nil {
		return model.PermanentFailure(fmt.Sprintf("failed to create staging directory: %v", err))
	}
	defer os.RemoveAll(staging)

	cloneOpts := &git.CloneOptions{URL: params.URL}
	if depth, _ := pc.Options.Int("depth", 0); depth > 0 {
		cloneOpts.Depth = depth
	}
	if params.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(params.Branch)
		cloneOpts.SingleBranch = true
	}

	log.Info("cloning repository")
	if _, err := git.PlainCloneContext(ctx, staging, false, cloneOpts); err != nil {
		return classify(fmt.Sprintf("failed to clone %s", params.URL), err)
	}
	if err := os.Rename(staging, dest); err != nil {
		return model.PermanentFailure(fmt.Sprintf("failed to move checkout into %s: %v", dest, err))
	}
	return model.Satisfied(dest)
}

// classify treats errors only the user can fix as permanent and everything
// else, typically network trouble, as transient.
func classify(action string, err error) model.Status {
	reason := fmt.Sprintf("%s: %v", action, err)
	permanent := []error{
		transport.ErrRepositoryNotFound,
		transport.ErrAuthenticationRequired,
		transport.ErrAuthorizationFailed,
		transport.ErrEmptyRemoteRepository,
		plumbing.ErrReferenceNotFound,
	}
	for _, target := range permanent {
		if errors.Is(err, target) {
			return model.PermanentFailure(reason)
		}
	}
	return model.TransientFailure(reason)
}

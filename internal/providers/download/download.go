// Package download provides files fetched over HTTP into the project.
package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexisbeaulieu97/kapsel/internal/fetch"
	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/provider"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
)

// Name identifies the provider in the registry and in option overrides.
const Name = "download"

// Fetcher downloads one request into place.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) error
}

type downloadProvider struct {
	fetcher Fetcher
}

// New creates the download provider.
func New(fetcher Fetcher) provider.Provider {
	return &downloadProvider{fetcher: fetcher}
}

var (
	_ provider.Provider   = (*downloadProvider)(nil)
	_ provider.Unprovider = (*downloadProvider)(nil)
)

func (p *downloadProvider) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:         Name,
		Kinds:        []requirement.Kind{requirement.KindDownload},
		Capabilities: provider.CanCheck | provider.CanProvide,
		Class:        provider.ClassDiscovery,
		Options: []provider.OptionSpec{
			{Name: "directory", Description: "Directory, relative to the project, that receives downloads."},
		},
		Description: "Downloads a file and verifies its checksum.",
	}
}

func (p *downloadProvider) ReadConfig(pc *provider.Context) (provider.Options, error) {
	return provider.LayerOptions(p.Metadata(), pc, nil)
}

// target is where the download lands for pc.
func target(pc *provider.Context) string {
	name := pc.Requirement.Download.Filename
	if filepath.IsAbs(name) {
		return name
	}
	dir := pc.Options.Get("directory")
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(pc.ProjectDir, dir)
	}
	return filepath.Join(dir, name)
}

type existing int

const (
	absent existing = iota
	matching
	mismatched
)

// inspect compares what is on disk with the declared checksum. Unzipped
// downloads are directories and are accepted when present.
func inspect(path string, params requirement.DownloadParams) (existing, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return absent, nil
	}
	if err != nil {
		return absent, err
	}
	if info.IsDir() || params.HashAlgorithm == "" {
		return matching, nil
	}
	digest, err := fetch.FileDigest(path, params.HashAlgorithm)
	if err != nil {
		return absent, err
	}
	if !strings.EqualFold(digest, params.HashValue) {
		return mismatched, nil
	}
	return matching, nil
}

func (p *downloadProvider) CheckState(_ context.Context, pc *provider.Context) (*provider.Evaluation, error) {
	path := target(pc)
	state, err := inspect(path, pc.Requirement.Download)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}

	eval := &provider.Evaluation{Available: true, Value: path}
	switch state {
	case matching:
		eval.Message = fmt.Sprintf("%s is already downloaded", path)
	case mismatched:
		eval.Message = fmt.Sprintf("would download %s again, %s has the wrong %s", pc.Requirement.Download.URL, path, pc.Requirement.Download.HashAlgorithm)
	default:
		eval.Message = fmt.Sprintf("would download %s to %s", pc.Requirement.Download.URL, path)
	}
	return eval, nil
}

func (p *downloadProvider) Provide(ctx context.Context, pc *provider.Context) model.Status {
	params := pc.Requirement.Download
	path := target(pc)
	log := pc.Log().WithFields(map[string]any{"url": params.URL, "path": path})

	state, err := inspect(path, params)
	if err != nil {
		return model.PermanentFailure(fmt.Sprintf("cannot inspect %s: %v", path, err))
	}
	switch state {
	case matching:
		log.Debug("download already present")
		return model.Satisfied(path)
	case mismatched:
		log.Warn("existing download has the wrong checksum; fetching again")
	}

	log.Info("downloading")
	err = p.fetcher.Fetch(ctx, fetch.Request{
		URL:           params.URL,
		Dest:          path,
		HashAlgorithm: params.HashAlgorithm,
		HashValue:     params.HashValue,
		Unzip:         params.Unzip,
	})
	if err != nil {
		reason := fmt.Sprintf("failed to download %s: %v", params.URL, err)
		if fetch.IsTransient(err) {
			return model.TransientFailure(reason)
		}
		return model.PermanentFailure(reason)
	}
	return model.Satisfied(path)
}

// Unprovide removes the downloaded file or unzipped directory.
func (p *downloadProvider) Unprovide(_ context.Context, pc *provider.Context) error {
	path := target(pc)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	pc.Log().WithFields(map[string]any{"path": path}).Info("removed download")
	return nil
}

// Package fetch downloads files over HTTP, verifies their digest and puts
// them in place atomically.
package fetch

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/schollz/progressbar/v3"

	"github.com/alexisbeaulieu97/kapsel/internal/logger"
)

const (
	// DefaultTimeout bounds one HTTP transfer.
	DefaultTimeout = 10 * time.Minute
	// DefaultRetries is how many times a transient failure is retried.
	DefaultRetries = 2
)

// ErrNetwork marks failures to reach the server at all.
var ErrNetwork = errors.New("network error")

// HTTPStatusError is returned for non-200 responses.
type HTTPStatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// Temporary reports whether the server asked us to come back later.
func (e *HTTPStatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// DigestMismatchError is returned when downloaded content has the wrong hash.
type DigestMismatchError struct {
	URL       string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("%s of %s is %s, expected %s", e.Algorithm, e.URL, e.Actual, e.Expected)
}

// IsTransient reports whether err may go away by trying again later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded)
}

// Request describes one download.
type Request struct {
	URL           string
	Dest          string
	HashAlgorithm string
	HashValue     string
	Unzip         bool
}

// Options configure an HTTPFetcher.
type Options struct {
	Client   *http.Client
	Retries  int
	Progress io.Writer
	Logger   *logger.Logger
}

// HTTPFetcher downloads over HTTP(S).
type HTTPFetcher struct {
	client   *http.Client
	retries  int
	progress io.Writer
	logger   *logger.Logger
	backoff  time.Duration
}

// New returns a fetcher. A nil Progress disables the progress bar.
func New(opts Options) *HTTPFetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTPFetcher{
		client:   client,
		retries:  retries,
		progress: opts.Progress,
		logger:   opts.Logger,
		backoff:  500 * time.Millisecond,
	}
}

// Fetch downloads req.URL to req.Dest. The target only appears once the
// content is complete and its digest matches; an interrupted download leaves
// at most a temporary file that the next attempt replaces.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) error {
	var err error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			f.logger.ForContext(ctx).WithFields(map[string]any{"url": req.URL, "attempt": attempt}).Warn("retrying download")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.backoff * time.Duration(attempt)):
			}
		}
		err = f.fetchOnce(ctx, req)
		if err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, req Request) error {
	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", req.URL, err)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: GET %s: %v", ErrNetwork, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{URL: req.URL, Code: resp.StatusCode, Status: resp.Status}
	}

	if req.Unzip {
		return f.fetchZip(req, resp)
	}
	return f.fetchFile(req, resp)
}

func (f *HTTPFetcher) fetchFile(req Request, resp *http.Response) error {
	pending, err := renameio.NewPendingFile(req.Dest, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create temporary file for %s: %w", req.Dest, err)
	}
	defer func() { _ = pending.Cleanup() }()

	if err := f.copyVerified(pending, req, resp); err != nil {
		return err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("move %s into place: %w", req.Dest, err)
	}
	return nil
}

func (f *HTTPFetcher) fetchZip(req Request, resp *http.Response) error {
	parent := filepath.Dir(req.Dest)
	archive, err := os.CreateTemp(parent, "."+filepath.Base(req.Dest)+"-*.zip.part")
	if err != nil {
		return fmt.Errorf("create temporary archive: %w", err)
	}
	archivePath := archive.Name()
	defer os.Remove(archivePath)

	if err := f.copyVerified(archive, req, resp); err != nil {
		archive.Close()
		return err
	}
	if err := archive.Close(); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(req.Dest)+"-unzip-*")
	if err != nil {
		return fmt.Errorf("create unzip directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := Unzip(archivePath, staging); err != nil {
		return err
	}

	// a single top-level directory becomes the target itself
	source := staging
	entries, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("read unzipped files: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		source = filepath.Join(staging, entries[0].Name())
	}

	if err := os.RemoveAll(req.Dest); err != nil {
		return fmt.Errorf("remove stale %s: %w", req.Dest, err)
	}
	if err := os.Rename(source, req.Dest); err != nil {
		return fmt.Errorf("move unzipped files into %s: %w", req.Dest, err)
	}
	return nil
}

func (f *HTTPFetcher) copyVerified(dst io.Writer, req Request, resp *http.Response) error {
	var hasher hash.Hash
	if req.HashAlgorithm != "" {
		var err error
		hasher, err = NewHash(req.HashAlgorithm)
		if err != nil {
			return err
		}
	}

	writers := []io.Writer{dst}
	if hasher != nil {
		writers = append(writers, hasher)
	}
	if f.progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(f.progress),
			progressbar.OptionSetDescription(filepath.Base(req.Dest)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()
		writers = append(writers, bar)
	}

	body := &recordingReader{r: resp.Body}
	if _, err := io.Copy(io.MultiWriter(writers...), body); err != nil {
		if body.err != nil {
			return fmt.Errorf("%w: reading %s: %v", ErrNetwork, req.URL, err)
		}
		return fmt.Errorf("write %s: %w", req.Dest, err)
	}

	if hasher != nil {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, req.HashValue) {
			return &DigestMismatchError{URL: req.URL, Algorithm: req.HashAlgorithm, Expected: strings.ToLower(req.HashValue), Actual: actual}
		}
	}
	return nil
}

// recordingReader remembers the last read error, so a failed copy can be
// blamed on the connection or on the local disk.
type recordingReader struct {
	r   io.Reader
	err error
}

func (r *recordingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}

// NewHash returns a hash for one of the supported algorithm names.
func NewHash(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha224":
		return sha256.New224(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// FileDigest hashes the file at path.
func FileDigest(path, algorithm string) (string, error) {
	h, err := NewHash(algorithm)
	if err != nil {
		return "", err
	}
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Unzip extracts archive into dir, rejecting entries that would escape dir.
func Unzip(archive, dir string) error {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", archive, err)
	}
	defer reader.Close()

	clean := filepath.Clean(dir)
	root := clean + string(os.PathSeparator)
	for _, file := range reader.File {
		target := filepath.Join(dir, file.Name)
		if target == clean {
			continue
		}
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("zip entry %q escapes the target directory", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := extractFile(file, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", file.Name, err)
	}
	defer src.Close()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("extract %s: %w", file.Name, err)
	}
	return dst.Close()
}

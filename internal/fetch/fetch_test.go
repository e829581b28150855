package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/kapsel/internal/logger"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newFetcher(retries int) *HTTPFetcher {
	f := New(Options{Retries: retries})
	f.backoff = time.Millisecond
	return f
}

func TestFetchWritesVerifiedFile(t *testing.T) {
	t.Parallel()

	payload := []byte("id,value\n1,2\n")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "data", "data.csv")
	progress := &bytes.Buffer{}
	f := New(Options{Progress: progress})

	err := f.Fetch(context.Background(), Request{
		URL:           server.URL + "/data.csv",
		Dest:          dest,
		HashAlgorithm: "sha256",
		HashValue:     sha256Hex(payload),
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	digest, err := FileDigest(dest, "sha256")
	require.NoError(t, err)
	require.Equal(t, sha256Hex(payload), digest)
}

func TestFetchDigestMismatchLeavesNoTarget(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tampered"))
	}))
	defer server.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "data.csv")
	err := newFetcher(0).Fetch(context.Background(), Request{
		URL:           server.URL,
		Dest:          dest,
		HashAlgorithm: "sha256",
		HashValue:     sha256Hex([]byte("original")),
	})

	var mismatch *DigestMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.False(t, IsTransient(err))

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFetchClassifiesStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code      int
		transient bool
		calls     int32
	}{
		{code: http.StatusNotFound, transient: false, calls: 1},
		{code: http.StatusServiceUnavailable, transient: true, calls: 3},
		{code: http.StatusTooManyRequests, transient: true, calls: 3},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.code)
			}))
			defer server.Close()

			err := newFetcher(2).Fetch(context.Background(), Request{URL: server.URL, Dest: filepath.Join(t.TempDir(), "f")})
			var statusErr *HTTPStatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, tc.code, statusErr.Code)
			require.Equal(t, tc.transient, IsTransient(err))
			require.Equal(t, tc.calls, calls.Load())
		})
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	logs := &bytes.Buffer{}
	log, err := logger.New(logger.Options{Level: "warn", Writer: logs})
	require.NoError(t, err)
	f := New(Options{Retries: 2, Logger: log})
	f.backoff = time.Millisecond

	dest := filepath.Join(t.TempDir(), "f")
	ctx := logger.ContextWithRunID(context.Background(), "run-42")
	require.NoError(t, f.Fetch(ctx, Request{URL: server.URL, Dest: dest}))
	require.Equal(t, int32(2), calls.Load())
	require.Contains(t, logs.String(), "retrying download")
	require.Contains(t, logs.String(), `"run_id":"run-42"`)
}

func TestFetchUnreachableIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := newFetcher(0).Fetch(context.Background(), Request{URL: url, Dest: filepath.Join(t.TempDir(), "f")})
	require.Error(t, err)
	require.True(t, IsTransient(err))
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFetchUnzip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		files map[string]string
		check string
	}{
		{name: "single top-level dir is flattened", files: map[string]string{"model/weights.bin": "w"}, check: "weights.bin"},
		{name: "multiple entries kept as is", files: map[string]string{"a.txt": "a", "b/c.txt": "c"}, check: "b/c.txt"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			archive := zipBytes(t, tc.files)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(archive)
			}))
			defer server.Close()

			dir := t.TempDir()
			dest := filepath.Join(dir, "model")
			err := newFetcher(0).Fetch(context.Background(), Request{
				URL:           server.URL + "/model.zip",
				Dest:          dest,
				HashAlgorithm: "sha256",
				HashValue:     sha256Hex(archive),
				Unzip:         true,
			})
			require.NoError(t, err)
			require.FileExists(t, filepath.Join(dest, tc.check))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1)
		})
	}
}

func TestUnzipRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(archivePath, zipBytes(t, map[string]string{"../escape.txt": "x"}), 0o644))

	err := Unzip(archivePath, filepath.Join(dir, "out"))
	require.Error(t, err)
	require.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

func TestUnzipAcceptsRootEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "dotted.zip")
	require.NoError(t, os.WriteFile(archivePath, zipBytes(t, map[string]string{"./": "", "./data.csv": "a,b\n"}), 0o644))

	out := filepath.Join(dir, "out")
	require.NoError(t, Unzip(archivePath, out))
	require.FileExists(t, filepath.Join(out, "data.csv"))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("no space left on device") }

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset by peer") }

func TestCopyBlamesTheRightSide(t *testing.T) {
	t.Parallel()

	f := newFetcher(0)
	req := Request{URL: "https://example.com/data.csv", Dest: "/tmp/data.csv"}

	resp := &http.Response{Body: io.NopCloser(strings.NewReader("a,b\n")), ContentLength: 4}
	err := f.copyVerified(failingWriter{}, req, resp)
	require.Error(t, err)
	require.False(t, IsTransient(err))
	require.Contains(t, err.Error(), "no space left")

	resp = &http.Response{Body: io.NopCloser(failingReader{}), ContentLength: -1}
	err = f.copyVerified(io.Discard, req, resp)
	require.Error(t, err)
	require.True(t, IsTransient(err))
	require.ErrorIs(t, err, ErrNetwork)
}

func TestNewHash(t *testing.T) {
	t.Parallel()

	for _, algo := range []string{"md5", "sha1", "sha224", "sha256", "sha384", "SHA512"} {
		_, err := NewHash(algo)
		require.NoError(t, err, algo)
	}
	_, err := NewHash("crc32")
	require.Error(t, err)
}

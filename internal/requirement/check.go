package requirement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/redis/go-redis/v9"

	"github.com/alexisbeaulieu97/kapsel/internal/environ"
)

// ReachTimeout bounds the reachability probe of a service check.
const ReachTimeout = 500 * time.Millisecond

// EnvStampFile is written inside an environment prefix once it matches a spec.
const EnvStampFile = ".kapsel-envspec"

// Check reports whether the requirement already holds in env. It only reads
// the environment, the filesystem and, for services, probes the address.
func (r Requirement) Check(ctx context.Context, env environ.View) bool {
	met, _ := r.evaluate(ctx, env)
	return met
}

// WhyNotMet explains why Check is false, or returns "" when it is true.
func (r Requirement) WhyNotMet(ctx context.Context, env environ.View) string {
	met, reason := r.evaluate(ctx, env)
	if met {
		return ""
	}
	return reason
}

func (r Requirement) evaluate(ctx context.Context, env environ.View) (bool, string) {
	value, ok := env.Get(r.Key)
	if !ok {
		return false, fmt.Sprintf("%s is not set", r.Key)
	}
	if value == "" {
		return false, fmt.Sprintf("%s is set but empty", r.Key)
	}

	switch r.Kind {
	case KindDownload:
		if _, err := os.Stat(value); err != nil {
			return false, fmt.Sprintf("file %s referenced by %s does not exist", value, r.Key)
		}
	case KindEnv:
		info, err := os.Stat(value)
		if err != nil || !info.IsDir() {
			return false, fmt.Sprintf("environment directory %s does not exist", value)
		}
		if ReadStamp(value) != r.SpecHash() {
			return false, fmt.Sprintf("environment at %s does not match env spec %q", value, r.Env.SpecName)
		}
	case KindService:
		if err := PingRedis(ctx, value, ReachTimeout); err != nil {
			return false, fmt.Sprintf("cannot reach %s at %s: %v", r.Service.Type, value, err)
		}
	case KindRepo:
		if _, err := git.PlainOpen(value); err != nil {
			return false, fmt.Sprintf("%s is not a git repository: %v", value, err)
		}
	}
	return true, ""
}

// SpecHash digests the packages and channels of an env requirement. Package
// order does not matter; channel order does.
func (r Requirement) SpecHash() string {
	return SpecHash(r.Env.Packages, r.Env.Channels)
}

// SpecHash digests a package and channel list.
func SpecHash(packages, channels []string) string {
	sorted := append([]string(nil), packages...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte("packages\n"))
	for _, p := range sorted {
		h.Write([]byte(p + "\n"))
	}
	h.Write([]byte("channels\n"))
	for _, c := range channels {
		h.Write([]byte(c + "\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StampPath returns where the spec stamp lives for an environment prefix.
func StampPath(prefix string) string {
	return filepath.Join(prefix, EnvStampFile)
}

// SharedStampPath returns where the spec stamp of a read-only prefix lives:
// a file in the user cache directory named after the prefix.
func SharedStampPath(prefix string) (string, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(filepath.Clean(prefix)))
	return filepath.Join(cache, "kapsel", "env-stamps", hex.EncodeToString(sum[:16])), nil
}

// ReadStamp returns the stamp recorded for prefix, or "" if there is none.
// A stamp inside the prefix wins over a shared one.
func ReadStamp(prefix string) string {
	if stamp := readStampFile(StampPath(prefix)); stamp != "" {
		return stamp
	}
	shared, err := SharedStampPath(prefix)
	if err != nil {
		return ""
	}
	return readStampFile(shared)
}

func readStampFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// PingRedis connects to a redis URL and issues a PING.
func PingRedis(ctx context.Context, rawURL string, timeout time.Duration) error {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	opts.MaxRetries = -1

	client := redis.NewClient(opts)
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Ping(pingCtx).Err()
}

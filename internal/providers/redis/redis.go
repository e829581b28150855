// Package redis provides redis service requirements, either from a server
// already running on the machine or from a disposable per-project server.
package redis

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/kapsel/internal/config"
	"github.com/alexisbeaulieu97/kapsel/internal/execstream"
	"github.com/alexisbeaulieu97/kapsel/internal/localstate"
	"github.com/alexisbeaulieu97/kapsel/internal/model"
	"github.com/alexisbeaulieu97/kapsel/internal/provider"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
)

const (
	SystemName  = "redis-system"
	ProjectName = "redis-project"

	// DefaultSystemURL is where a machine-wide server is expected.
	DefaultSystemURL = "redis://localhost:6379"
)

type systemProvider struct{}

// NewSystem creates the provider that reuses a redis server already running
// on the machine.
func NewSystem() provider.Provider {
	return &systemProvider{}
}

var _ provider.Provider = (*systemProvider)(nil)

func (p *systemProvider) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:         SystemName,
		Kinds:        []requirement.Kind{requirement.KindService},
		Capabilities: provider.CanCheck | provider.CanProvide,
		Class:        provider.ClassDiscovery,
		Options: []provider.OptionSpec{
			{Name: "url", Default: DefaultSystemURL, Description: "Address of the machine-wide redis server."},
		},
		Description: "Uses a redis server that is already running.",
	}
}

func (p *systemProvider) ReadConfig(pc *provider.Context) (provider.Options, error) {
	return provider.LayerOptions(p.Metadata(), pc, nil)
}

func (p *systemProvider) CheckState(ctx context.Context, pc *provider.Context) (*provider.Evaluation, error) {
	if pc.Requirement.Service.Scope == requirement.ScopeProject {
		return &provider.Evaluation{Message: "service scope is project"}, nil
	}
	url := pc.Options.Get("url")
	if err := requirement.PingRedis(ctx, url, requirement.ReachTimeout); err != nil {
		return &provider.Evaluation{Message: fmt.Sprintf("no redis at %s: %v", url, err)}, nil
	}
	return &provider.Evaluation{Available: true, Message: "would use redis at " + url, Value: url}, nil
}

func (p *systemProvider) Provide(ctx context.Context, pc *provider.Context) model.Status {
	if pc.Requirement.Service.Scope == requirement.ScopeProject {
		return model.Failed("service scope is project, not using a system redis", false)
	}
	url := pc.Options.Get("url")
	if err := requirement.PingRedis(ctx, url, requirement.ReachTimeout); err != nil {
		return model.Failedf(false, "no redis at %s: %v", url, err)
	}
	return model.Satisfied(url)
}

// Starter launches a redis server on port, keeping its files in dir, and
// returns the commands that stop it again.
type Starter interface {
	Start(ctx context.Context, port int, dir string) ([][]string, error)
}

// ProcessStarter runs redis-server as a daemon.
type ProcessStarter struct {
	Server string
	CLI    string
}

// Start implements Starter.
func (s ProcessStarter) Start(ctx context.Context, port int, dir string) ([][]string, error) {
	server := firstNonEmpty(s.Server, "redis-server")
	cli := firstNonEmpty(s.CLI, "redis-cli")
	if _, ok := execstream.LookPath(server); !ok {
		return nil, fmt.Errorf("%s is not installed", server)
	}

	args := []string{
		"--port", strconv.Itoa(port),
		"--daemonize", "yes",
		"--pidfile", filepath.Join(dir, "redis.pid"),
		"--logfile", filepath.Join(dir, "redis.log"),
		"--dir", dir,
	}
	res, err := execstream.Run(ctx, server, args, execstream.Options{Dir: dir, Stdout: io.Discard, Stderr: io.Discard})
	if err != nil {
		return nil, fmt.Errorf("start %s: %s", server, firstNonEmpty(execstream.PrimaryOutput(res), err.Error()))
	}
	return [][]string{{cli, "-p", strconv.Itoa(port), "shutdown"}}, nil
}

type projectProvider struct {
	starter Starter
	wait    time.Duration
}

// NewProject creates the provider that starts a redis server dedicated to
// the project. It only acts in interactive mode.
func NewProject(starter Starter) provider.Provider {
	return &projectProvider{starter: starter, wait: 100 * time.Millisecond}
}

var (
	_ provider.Provider   = (*projectProvider)(nil)
	_ provider.Unprovider = (*projectProvider)(nil)
)

func (p *projectProvider) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:         ProjectName,
		Kinds:        []requirement.Kind{requirement.KindService},
		Capabilities: provider.CanCheck | provider.CanProvide,
		Class:        provider.ClassService,
		Options: []provider.OptionSpec{
			{Name: "port_range", Description: "Ports to try, for example 6380-6449."},
			{Name: "ready_timeout", Default: "5", Description: "Seconds to wait for the server to answer."},
			{Name: "services_dir", Default: "services", Description: "Directory, relative to the project, for server files."},
		},
		Description: "Starts a redis server for this project.",
	}
}

// ReadConfig uses the port range declared on the requirement as the project
// value of port_range.
func (p *projectProvider) ReadConfig(pc *provider.Context) (provider.Options, error) {
	svc := pc.Requirement.Service
	project := provider.Options{}
	if svc.PortLow > 0 {
		project["port_range"] = fmt.Sprintf("%d-%d", svc.PortLow, svc.PortHigh)
	}
	opts, err := provider.LayerOptions(p.Metadata(), pc, project)
	if err != nil {
		return nil, err
	}
	if opts.Get("port_range") == "" {
		opts["port_range"] = requirement.DefaultPortRange
	}
	if _, _, ok := config.ParsePortRange(opts.Get("port_range")); !ok {
		return nil, fmt.Errorf("port_range %q is not a valid range", opts.Get("port_range"))
	}
	if _, err := opts.Int("ready_timeout", 5); err != nil {
		return nil, err
	}
	return opts, nil
}

func (p *projectProvider) declines(pc *provider.Context) string {
	if pc.Requirement.Service.Scope == requirement.ScopeSystem {
		return "service scope is system, not starting a project redis"
	}
	if !pc.Mode.MayStartLocalServices() {
		return fmt.Sprintf("project redis servers are only started in interactive mode, not %s", pc.Mode)
	}
	return ""
}

func (p *projectProvider) CheckState(ctx context.Context, pc *provider.Context) (*provider.Evaluation, error) {
	if reason := p.declines(pc); reason != "" {
		return &provider.Evaluation{Message: reason}, nil
	}
	if rs, ok := pc.Local.RunState(pc.Key()); ok && rs.URL != "" {
		if requirement.PingRedis(ctx, rs.URL, requirement.ReachTimeout) == nil {
			return &provider.Evaluation{Available: true, Message: "project redis is running at " + rs.URL, Value: rs.URL}, nil
		}
	}
	return &provider.Evaluation{Available: true, Message: "would start redis on a port in " + pc.Options.Get("port_range")}, nil
}

func (p *projectProvider) Provide(ctx context.Context, pc *provider.Context) model.Status {
	if reason := p.declines(pc); reason != "" {
		return model.Failed(reason, false)
	}
	key := pc.Key()
	log := pc.Log()

	if rs, ok := pc.Local.RunState(key); ok && rs.URL != "" {
		if requirement.PingRedis(ctx, rs.URL, requirement.ReachTimeout) == nil {
			log.WithFields(map[string]any{"url": rs.URL}).Debug("reusing project redis")
			return model.Satisfied(rs.URL)
		}
		log.Warn("recorded project redis is not running; starting a new one")
	}

	low, high, _ := config.ParsePortRange(pc.Options.Get("port_range"))
	port, ok := freePort(low, high)
	if !ok {
		return model.PermanentFailure(fmt.Sprintf("every port in %d-%d is in use", low, high))
	}

	dir := filepath.Join(pc.ProjectDir, pc.Options.Get("services_dir"), strings.ToLower(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.PermanentFailure(fmt.Sprintf("create %s: %v", dir, err))
	}

	shutdown, err := p.starter.Start(ctx, port, dir)
	if err != nil {
		return model.PermanentFailure(err.Error())
	}

	url := fmt.Sprintf("redis://127.0.0.1:%d", port)
	rs := localstate.RunState{URL: url, Port: port, Dir: dir, ShutdownCommands: shutdown}
	if err := pc.Local.SetRunState(key, rs); err != nil {
		log.Error(err, "failed to record run state")
	}

	seconds, _ := pc.Options.Int("ready_timeout", 5)
	if err := p.waitReady(ctx, url, time.Duration(seconds)*time.Second); err != nil {
		p.stop(ctx, pc, rs)
		return model.TransientFailure(fmt.Sprintf("redis on port %d did not answer: %v", port, err))
	}

	log.WithFields(map[string]any{"url": url}).Info("started project redis")
	return model.Satisfied(url)
}

func (p *projectProvider) waitReady(ctx context.Context, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := requirement.PingRedis(ctx, url, requirement.ReachTimeout)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.wait):
		}
	}
}

// Unprovide stops a server this provider started and removes its files.
func (p *projectProvider) Unprovide(ctx context.Context, pc *provider.Context) error {
	rs, ok := pc.Local.RunState(pc.Key())
	if !ok {
		return nil
	}
	return p.stop(ctx, pc, rs)
}

func (p *projectProvider) stop(ctx context.Context, pc *provider.Context, rs localstate.RunState) error {
	var failures []string
	for _, command := range rs.ShutdownCommands {
		if len(command) == 0 {
			continue
		}
		res, err := execstream.Run(ctx, command[0], command[1:], execstream.Options{Stdout: io.Discard, Stderr: io.Discard})
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %s", strings.Join(command, " "), firstNonEmpty(execstream.PrimaryOutput(res), err.Error())))
		}
	}
	if err := pc.Local.ClearRunState(pc.Key()); err != nil {
		failures = append(failures, err.Error())
	}
	if rs.Dir != "" {
		if err := os.RemoveAll(rs.Dir); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("stop redis for %s: %s", pc.Key(), strings.Join(failures, "; "))
	}
	pc.Log().WithFields(map[string]any{"port": rs.Port}).Info("stopped project redis")
	return nil
}

// freePort returns the first port in [low, high] nothing listens on.
func freePort(low, high int) (int, bool) {
	for port := low; port <= high; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, true
	}
	return 0, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

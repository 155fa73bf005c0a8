// Package supervisor runs the relay's process tree: worker processes first,
// then one listener per bot identity, restarting whatever dies.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ccdocs/relay/internal/config"
)

const (
	// monitorEvery is how often children are checked for unexpected exits.
	monitorEvery = 30 * time.Second
	// heartbeatEvery is how often the alive/total summary is logged.
	heartbeatEvery = 60 * time.Second
	// listenerStagger spaces out listener starts so N bots do not hammer
	// Socket Mode connection setup at once.
	listenerStagger = 2 * time.Second
	// restartSettle is the grace before a dead child is restarted, and the
	// grace a stopping child gets between SIGTERM and SIGKILL.
	restartSettle = 5 * time.Second
)

// Spec describes one child process.
type Spec struct {
	// Name identifies the child in logs, e.g. worker-1 or listener-2.
	Name string
	// Kind is worker or listener.
	Kind string
	// Args are the relay subcommand and flags.
	Args []string
	// Env entries are appended to the inherited environment.
	Env []string
}

// Specs builds the child table for a config: workers first so jobs are
// consumed as soon as listeners enqueue, then one listener per bot.
// configPath and verbose are propagated so children resolve the same config.
func Specs(cfg *config.Config, configPath string, verbose bool) []Spec {
	var base []string
	if configPath != "" {
		base = append(base, "--config", configPath)
	}
	if verbose {
		base = append(base, "--verbose")
	}

	workers := cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}

	var specs []Spec
	for i := 1; i <= workers; i++ {
		specs = append(specs, Spec{
			Name: fmt.Sprintf("worker-%d", i),
			Kind: "worker",
			Args: append([]string{"work"}, base...),
		})
	}
	for _, b := range cfg.Bots {
		specs = append(specs, Spec{
			Name: fmt.Sprintf("listener-%d", b.Index),
			Kind: "listener",
			Args: append([]string{"listen", "--bot", strconv.Itoa(b.Index)}, base...),
		})
	}

	// Each child gets its own metrics port, offset from the configured one.
	if cfg.MetricsAddr != "" {
		for i := range specs {
			if addr := offsetAddr(cfg.MetricsAddr, i); addr != "" {
				specs[i].Env = append(specs[i].Env, "METRICS_ADDR="+addr)
			}
		}
	}
	return specs
}

// offsetAddr returns host:(port+n), or "" when base does not parse.
func offsetAddr(base string, n int) string {
	host, portStr, err := net.SplitHostPort(base)
	if err != nil {
		return ""
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port+n))
}

// child is one supervised process and its restart bookkeeping.
type child struct {
	spec Spec

	mu       sync.Mutex
	id       string // spawn id, new per start
	cmd      *exec.Cmd
	running  bool
	exitedAt time.Time
	restarts int
}

func (c *child) start(exe string) error {
	cmd := exec.Command(exe, c.spec.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), c.spec.Env...)
	if err := cmd.Start(); err != nil {
		return err
	}

	id := uuid.NewString()[:8]
	c.mu.Lock()
	c.id = id
	c.cmd = cmd
	c.running = true
	c.mu.Unlock()
	slog.Info("child started", "name", c.spec.Name, "spawn_id", id, "pid", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.running = false
		c.exitedAt = time.Now()
		c.mu.Unlock()
		if err != nil {
			slog.Warn("child exited", "name", c.spec.Name, "spawn_id", id, "error", err)
		} else {
			slog.Info("child exited", "name", c.spec.Name, "spawn_id", id)
		}
	}()
	return nil
}

func (c *child) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// restartable reports whether the child is dead and past the settle grace.
func (c *child) restartable(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.running && now.Sub(c.exitedAt) >= restartSettle
}

func (c *child) signal(sig syscall.Signal) {
	c.mu.Lock()
	cmd := c.cmd
	running := c.running
	c.mu.Unlock()
	if !running || cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(sig)
}

// stop terminates the child: SIGTERM, a settle grace, then SIGKILL.
func (c *child) stop() {
	c.signal(syscall.SIGTERM)
	deadline := time.Now().Add(restartSettle)
	for time.Now().Before(deadline) {
		if !c.alive() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	slog.Warn("child ignored SIGTERM, killing", "name", c.spec.Name)
	c.signal(syscall.SIGKILL)
}

// Supervisor owns the child table.
type Supervisor struct {
	exe      string
	children []*child
}

// New builds a supervisor that spawns exe with each spec's arguments.
func New(exe string, specs []Spec) *Supervisor {
	children := make([]*child, len(specs))
	for i, spec := range specs {
		children[i] = &child{spec: spec}
	}
	return &Supervisor{exe: exe, children: children}
}

// Run starts every child and keeps them alive until ctx is cancelled, then
// stops them all.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.startAll(ctx); err != nil {
		s.stopAll()
		return err
	}

	monitor := time.NewTicker(monitorEvery)
	defer monitor.Stop()
	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping children")
			s.stopAll()
			return ctx.Err()
		case <-monitor.C:
			s.restartDead()
		case <-heartbeat.C:
			alive, total := s.counts()
			slog.Info("heartbeat", "alive", alive, "total", total)
		}
	}
}

func (s *Supervisor) startAll(ctx context.Context) error {
	started := 0
	for _, c := range s.children {
		if err := c.start(s.exe); err != nil {
			slog.Error("child failed to start", "name", c.spec.Name, "error", err)
			continue
		}
		started++
		if c.spec.Kind == "listener" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(listenerStagger):
			}
		}
	}
	if started == 0 {
		return errors.New("no children started")
	}
	slog.Info("all children started", "count", started)
	return nil
}

// restartDead restarts children that exited and sat out the settle grace.
func (s *Supervisor) restartDead() {
	now := time.Now()
	for _, c := range s.children {
		if !c.restartable(now) {
			continue
		}
		c.mu.Lock()
		c.restarts++
		n := c.restarts
		c.mu.Unlock()

		slog.Warn("restarting child", "name", c.spec.Name, "restarts", n)
		if err := c.start(s.exe); err != nil {
			slog.Error("child restart failed", "name", c.spec.Name, "error", err)
		}
	}
}

func (s *Supervisor) counts() (alive, total int) {
	for _, c := range s.children {
		if c.alive() {
			alive++
		}
	}
	return alive, len(s.children)
}

// stopAll terminates every child in parallel and waits for them.
func (s *Supervisor) stopAll() {
	var wg sync.WaitGroup
	for _, c := range s.children {
		wg.Add(1)
		go func(c *child) {
			defer wg.Done()
			c.stop()
		}(c)
	}
	wg.Wait()
}

package kubo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"xdao.co/gamex/internal/logging"
)

// Daemon manages an "ipfs daemon" child process.
//
// Start initializes the repo if needed, applies the API CORS headers, spawns
// the daemon and waits until its RPC API answers. Stop sends SIGTERM and
// kills the process if it has not exited after the grace period.
type Daemon struct {
	cli          *CLI
	client       *Client
	allowOrigins []string
	readyTimeout time.Duration
	stopGrace    time.Duration
	log          logrus.FieldLogger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

type DaemonOptions struct {
	CLI    *CLI
	Client *Client
	// AllowOrigins is written to API.HTTPHeaders.Access-Control-Allow-Origin.
	// Nothing is configured when empty.
	AllowOrigins []string
	// ReadyTimeout bounds how long Start waits for the API. Default 60s.
	ReadyTimeout time.Duration
	// StopGrace is the delay between SIGTERM and kill. Default 5s.
	StopGrace time.Duration
	Logger    logrus.FieldLogger
}

var ErrDaemonRunning = errors.New("kubo: daemon already running")

func NewDaemon(opts DaemonOptions) *Daemon {
	d := &Daemon{
		cli:          opts.CLI,
		client:       opts.Client,
		allowOrigins: opts.AllowOrigins,
		readyTimeout: opts.ReadyTimeout,
		stopGrace:    opts.StopGrace,
		log:          logging.OrDiscard(opts.Logger),
	}
	if d.cli == nil {
		d.cli = NewCLI(CLIOptions{})
	}
	if d.readyTimeout <= 0 {
		d.readyTimeout = 60 * time.Second
	}
	if d.stopGrace <= 0 {
		d.stopGrace = 5 * time.Second
	}
	return d
}

func (d *Daemon) Start(ctx context.Context) error {
	if d.client == nil {
		return errors.New("kubo: daemon requires a client for readiness checks")
	}
	d.mu.Lock()
	if d.cmd != nil {
		d.mu.Unlock()
		return ErrDaemonRunning
	}
	d.mu.Unlock()

	if err := d.prepareRepo(ctx); err != nil {
		return err
	}
	if err := d.configureCORS(ctx); err != nil {
		return err
	}

	cmd := d.cli.Command("daemon", "--init")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("kubo: start daemon: %w", err)
	}
	done := make(chan struct{})
	d.mu.Lock()
	d.cmd = cmd
	d.done = done
	d.mu.Unlock()
	d.log.WithField("pid", cmd.Process.Pid).Info("ipfs daemon spawned")

	go func() {
		err := cmd.Wait()
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		close(done)
	}()

	if err := d.waitReady(ctx, done); err != nil {
		_ = d.Stop()
		return err
	}
	d.log.Info("ipfs daemon ready")
	return nil
}

// Done is closed when the daemon process exits. It is nil before Start.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Stop terminates the daemon. It is a no-op when the daemon is not running.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	cmd, done := d.cmd, d.done
	d.cmd = nil
	d.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	log := d.log.WithField("pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.WithError(err).Warn("sigterm failed, killing ipfs daemon")
		_ = cmd.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(d.stopGrace):
		log.Warn("ipfs daemon did not exit after sigterm, killing")
		_ = cmd.Process.Kill()
		<-done
	}
	log.Info("ipfs daemon stopped")
	return nil
}

func (d *Daemon) prepareRepo(ctx context.Context) error {
	repo := d.cli.RepoPath()
	if repo == "" {
		return nil
	}
	if err := os.MkdirAll(repo, 0o755); err != nil {
		return fmt.Errorf("kubo: create repo dir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(repo, "config")); err == nil {
		return nil
	}
	d.log.WithField("repo", repo).Info("initializing ipfs repo")
	if _, err := d.cli.Output(ctx, nil, "init"); err != nil {
		return fmt.Errorf("kubo: init repo: %w", err)
	}
	return nil
}

func (d *Daemon) configureCORS(ctx context.Context) error {
	if len(d.allowOrigins) == 0 {
		return nil
	}
	origins, err := json.Marshal(d.allowOrigins)
	if err != nil {
		return err
	}
	methods, _ := json.Marshal([]string{"PUT", "POST", "GET"})
	for _, kv := range [][2]string{
		{"API.HTTPHeaders.Access-Control-Allow-Origin", string(origins)},
		{"API.HTTPHeaders.Access-Control-Allow-Methods", string(methods)},
	} {
		if _, err := d.cli.Output(ctx, nil, "config", kv[0], kv[1], "--json"); err != nil {
			return fmt.Errorf("kubo: configure %s: %w", kv[0], err)
		}
	}
	return nil
}

func (d *Daemon) waitReady(ctx context.Context, exited <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, d.readyTimeout)
	defer cancel()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		pctx, pcancel := context.WithTimeout(ctx, time.Second)
		_, err := d.client.Version(pctx)
		pcancel()
		if err == nil {
			return nil
		}
		select {
		case <-exited:
			d.mu.Lock()
			werr := d.err
			d.mu.Unlock()
			return fmt.Errorf("kubo: daemon exited before ready: %v", werr)
		case <-ctx.Done():
			return fmt.Errorf("kubo: daemon not ready: %w", ctx.Err())
		case <-tick.C:
		}
	}
}

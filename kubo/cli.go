package kubo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CLI runs the local Kubo "ipfs" binary.
//
// Commands that move large payloads go through the CLI rather than the RPC
// API so the bytes are streamed from disk by the external process instead of
// being read into this process.
type CLI struct {
	bin  string
	repo string
	env  []string
}

type CLIOptions struct {
	// Bin is the path to the ipfs binary. If empty, "ipfs" is used.
	Bin string
	// RepoPath sets IPFS_PATH for every command when non-empty.
	RepoPath string
	// Env optionally overrides the command environment.
	// If nil, the process environment is used.
	Env []string
}

func NewCLI(opts CLIOptions) *CLI {
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	return &CLI{bin: bin, repo: opts.RepoPath, env: opts.Env}
}

func (c *CLI) Bin() string { return c.bin }

func (c *CLI) RepoPath() string { return c.repo }

// Output runs the command and returns stdout. A non-zero exit is reported
// with the command's stderr as the error message.
func (c *CLI) Output(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := c.command(ctx, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		s := strings.TrimSpace(string(ee.Stderr))
		if s == "" {
			return nil, fmt.Errorf("ipfs %s: %v", firstArg(args), err)
		}
		return nil, fmt.Errorf("ipfs %s: %s", firstArg(args), s)
	}
	return nil, err
}

// Combined runs the command and returns stdout and stderr interleaved.
func (c *CLI) Combined(ctx context.Context, args ...string) ([]byte, error) {
	out, err := c.command(ctx, args...).CombinedOutput()
	if err == nil {
		return out, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return out, fmt.Errorf("ipfs %s: %v: %s", firstArg(args), err, lastLine(out))
	}
	return out, err
}

// Command builds an *exec.Cmd that is not bound to a context, for long-running
// processes such as the daemon.
func (c *CLI) Command(args ...string) *exec.Cmd {
	cmd := exec.Command(c.bin, args...)
	cmd.Env = c.environ()
	return cmd
}

func (c *CLI) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Env = c.environ()
	return cmd
}

func (c *CLI) environ() []string {
	env := c.env
	if env == nil {
		env = os.Environ()
	}
	if c.repo == "" {
		return env
	}
	return append(append([]string(nil), env...), "IPFS_PATH="+c.repo)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

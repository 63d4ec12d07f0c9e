// Package runner provides the local execution capability: running stage
// shell scripts in subprocesses with cancellable process-group teardown.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long a cancelled subprocess gets between SIGTERM
// and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// ShellResult carries the captured outcome of one shell invocation.
type ShellResult struct {
	ReturnCode int
	Stdout     string
	Stderr     string
}

// Shell runs stage scripts through the system shell.
type Shell struct {
	// Grace is the SIGTERM-to-SIGKILL window on cancellation.
	Grace time.Duration
}

// NewShell creates a shell runner with the default grace period.
func NewShell() *Shell {
	return &Shell{Grace: DefaultGracePeriod}
}

// Run writes the script to a temporary executable file and runs it via bash
// (sh as fallback), merging env into the child environment. A non-zero exit
// is reported in ReturnCode, not as an error; the returned error is reserved
// for setup failures and cancellation.
func (s *Shell) Run(ctx context.Context, script string, env map[string]string) (*ShellResult, error) {
	file, err := os.CreateTemp("", "wf-stage-*.sh")
	if err != nil {
		return nil, fmt.Errorf("create stage script: %w", err)
	}
	path := file.Name()
	defer os.Remove(path)

	if _, err := file.WriteString(script); err != nil {
		file.Close()
		return nil, fmt.Errorf("write stage script: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o700); err != nil {
		return nil, fmt.Errorf("chmod stage script: %w", err)
	}

	shell, err := exec.LookPath("bash")
	if err != nil {
		if shell, err = exec.LookPath("sh"); err != nil {
			return nil, fmt.Errorf("no shell available: %w", err)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(shell, path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	// Own process group so cancellation can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start stage script: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return s.collect(&stdout, &stderr, err)
	case <-ctx.Done():
		s.terminate(cmd)
		<-waitErr
		return nil, ctx.Err()
	}
}

// terminate signals the process group with SIGTERM, escalating to SIGKILL
// after the grace period.
func (s *Shell) terminate(cmd *exec.Cmd) {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	grace := s.Grace
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	deadline := time.After(grace)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			return
		case <-tick.C:
			// Signal 0 probes whether the group is gone.
			if err := syscall.Kill(-pgid, syscall.Signal(0)); err != nil {
				return
			}
		}
	}
}

func (s *Shell) collect(stdout, stderr *bytes.Buffer, err error) (*ShellResult, error) {
	res := &ShellResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ReturnCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, err
	}
	return res, nil
}

// Package proc runs helper programs (decrypt tools, dialog programs) as
// killable children. Each child leads its own process group so that killing
// it also takes down anything it spawned, such as pinentry or a smartcard
// helper, and every kill is followed by a reap.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// KillGrace is how long a child gets between SIGTERM and SIGKILL.
var KillGrace = 2 * time.Second

// waitDelay bounds how long Wait keeps copying output after the child
// exits or its context ends.
const waitDelay = 2 * time.Second

// Process is a started child.
type Process struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
	err  error

	killOnce sync.Once
}

// Start launches name with args in a new process group. Both stdout and
// stderr of the child go to output, which may be nil. Cancelling ctx kills
// the whole group.
func Start(ctx context.Context, name string, args []string, output io.Writer) (*Process, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: argv comes from the broker config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = waitDelay
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, unix.SIGKILL)
	}

	if err := cmd.Start(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("executable not found: %s", name)
		}
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	p := &Process{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	p.err = p.cmd.Wait()
	// Sweep stragglers left in the group after the leader exited.
	_ = signalGroup(p.pid, unix.SIGKILL)
	close(p.done)
}

// Pid returns the child's pid, which is also its process group id.
func (p *Process) Pid() int { return p.pid }

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the result of Wait. Only valid after Done is closed.
func (p *Process) Err() error { return p.err }

// ExitCode returns the exit status, or -1 if the child was killed by a
// signal. Only valid after Done is closed.
func (p *Process) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Kill terminates the process group and blocks until the child is reaped.
// It is safe to call more than once and after the child has exited.
func (p *Process) Kill() {
	p.killOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		_ = signalGroup(p.pid, unix.SIGTERM)
		timer := time.NewTimer(KillGrace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			_ = signalGroup(p.pid, unix.SIGKILL)
		}
	})
	<-p.done
}

func signalGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 0 {
		return nil
	}
	err := unix.Kill(-pgid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

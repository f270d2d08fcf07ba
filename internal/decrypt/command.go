package decrypt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nuketown/broker/internal/clog"
	"github.com/nuketown/broker/internal/proc"
)

// CommandDecrypter runs an external program per attempt. "{in}" and
// "{out}" in Args are replaced with the ciphertext and output paths.
// Hardware gating is the program's business (gpg with a smartcard, age
// with a plugin identity).
type CommandDecrypter struct {
	Command string
	Args    []string
}

// Name implements Decrypter.
func (d *CommandDecrypter) Name() string { return "command:" + d.Command }

// Start implements Decrypter.
func (d *CommandDecrypter) Start(ctx context.Context, src, out string) (Attempt, error) {
	args := make([]string, len(d.Args))
	for i, arg := range d.Args {
		arg = strings.ReplaceAll(arg, "{in}", src)
		args[i] = strings.ReplaceAll(arg, "{out}", out)
	}

	p, err := proc.Start(ctx, d.Command, args, clog.Writer(clog.LevelDebug, d.Command+":"))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	clog.Debug("decrypt: started %s (pid %d) for %s", d.Command, p.Pid(), src)

	a := &commandAttempt{proc: p, out: out, done: make(chan struct{})}
	go a.wait(d.Command)
	return a, nil
}

type commandAttempt struct {
	proc *proc.Process
	out  string
	done chan struct{}

	mu     sync.Mutex
	killed bool
	res    Result
}

func (a *commandAttempt) wait(name string) {
	<-a.proc.Done()

	err := a.proc.Err()
	a.mu.Lock()
	if a.killed && err != nil {
		err = ErrKilled
	} else if err != nil {
		err = fmt.Errorf("%s exited with status %d", name, a.proc.ExitCode())
	}
	a.res = checkOutput(a.out, err)
	a.mu.Unlock()
	close(a.done)
}

func (a *commandAttempt) Done() <-chan struct{} { return a.done }

func (a *commandAttempt) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.res
}

func (a *commandAttempt) Kill() {
	a.mu.Lock()
	a.killed = true
	a.mu.Unlock()
	a.proc.Kill()
	<-a.done
}

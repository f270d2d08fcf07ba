// Package decrypt runs hardware-gated decryption attempts. An attempt
// decrypts one ciphertext into one private output file and reports success
// or failure exactly once; it never retries on its own.
package decrypt

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nuketown/broker/internal/config"
)

var (
	// ErrEmptyOutput is reported when the backend exits cleanly but
	// produces no plaintext.
	ErrEmptyOutput = errors.New("decrypt produced no output")

	// ErrKilled is reported for an attempt that was killed before it
	// finished.
	ErrKilled = errors.New("decrypt attempt killed")
)

// Result is the outcome of one attempt.
type Result struct {
	OK  bool
	Err error
}

// Attempt is one running decryption.
type Attempt interface {
	// Done is closed once the attempt has finished and any child process
	// has been reaped.
	Done() <-chan struct{}
	// Result is valid after Done is closed.
	Result() Result
	// Kill stops the attempt and blocks until Done is closed.
	Kill()
}

// Decrypter starts attempts. out must not exist yet and lives in a
// directory private to the caller.
type Decrypter interface {
	Start(ctx context.Context, src, out string) (Attempt, error)
	Name() string
}

// New builds the Decrypter selected by cfg.Backend.
func New(cfg config.DecryptConfig) (Decrypter, error) {
	switch cfg.Backend {
	case config.BackendCommand, "":
		return &CommandDecrypter{Command: cfg.Command, Args: cfg.Args}, nil
	case config.BackendAge:
		return &AgeDecrypter{IdentityFile: cfg.AgeIdentity}, nil
	default:
		return nil, fmt.Errorf("unknown decrypt backend %q", cfg.Backend)
	}
}

// Failed returns an already finished attempt carrying err. Callers use it
// to treat a launch failure like any other failed attempt.
func Failed(err error) Attempt {
	a := &finished{res: Result{Err: err}, done: make(chan struct{})}
	close(a.done)
	return a
}

type finished struct {
	res  Result
	done chan struct{}
}

func (f *finished) Done() <-chan struct{} { return f.done }
func (f *finished) Result() Result        { return f.res }
func (f *finished) Kill()                 {}

// checkOutput turns a clean exit into a Result, requiring non-empty
// plaintext at out. Failed attempts have their partial output removed.
func checkOutput(out string, err error) Result {
	if err == nil {
		info, statErr := os.Stat(out)
		switch {
		case statErr != nil:
			err = fmt.Errorf("%w: %v", ErrEmptyOutput, statErr)
		case info.Size() == 0:
			err = ErrEmptyOutput
		default:
			if chErr := os.Chmod(out, 0o600); chErr != nil {
				err = fmt.Errorf("restrict output: %w", chErr)
			}
		}
	}
	if err != nil {
		_ = os.Remove(out)
		return Result{Err: err}
	}
	return Result{OK: true}
}

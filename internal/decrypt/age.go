package decrypt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// AgeDecrypter decrypts age files in process with the identities in
// IdentityFile. Both binary and ASCII-armored ciphertexts are accepted.
type AgeDecrypter struct {
	IdentityFile string
}

// Name implements Decrypter.
func (d *AgeDecrypter) Name() string { return "age" }

// Start implements Decrypter. The identity file is re-read for every
// attempt so a rotated key takes effect without a restart.
func (d *AgeDecrypter) Start(ctx context.Context, src, out string) (Attempt, error) {
	identities, err := loadIdentities(d.IdentityFile)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &ageAttempt{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		defer cancel()
		err := decryptFile(ctx, identities, src, out)
		if ctx.Err() != nil && err != nil {
			err = ErrKilled
		}
		a.mu.Lock()
		a.res = checkOutput(out, err)
		a.mu.Unlock()
	}()
	return a, nil
}

func loadIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age identity: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse age identity %s: %w", path, err)
	}
	return identities, nil
}

func decryptFile(ctx context.Context, identities []age.Identity, src, out string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open ciphertext: %w", err)
	}
	defer in.Close()

	br := bufio.NewReader(in)
	var r io.Reader = br
	if head, _ := br.Peek(len(armor.Header)); strings.HasPrefix(string(head), armor.Header) {
		r = armor.NewReader(br)
	}

	plain, err := age.Decrypt(r, identities...)
	if err != nil {
		return fmt.Errorf("age decrypt: %w", err)
	}

	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(f, ctxReader{ctx: ctx, r: plain}); err != nil {
		_ = f.Close()
		return fmt.Errorf("age decrypt: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type ageAttempt struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	res Result
}

func (a *ageAttempt) Done() <-chan struct{} { return a.done }

func (a *ageAttempt) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.res
}

func (a *ageAttempt) Kill() {
	a.cancel()
	<-a.done
}

package broker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nuketown/broker/internal/decrypt"
	"github.com/nuketown/broker/internal/dialog"
)

const waitTimeout = 5 * time.Second

// fakeAttempt is a decrypt attempt the test finishes by hand.
type fakeAttempt struct {
	src    string
	out    string
	done   chan struct{}
	once   sync.Once
	res    decrypt.Result
	killed atomic.Bool
}

func (a *fakeAttempt) Done() <-chan struct{}  { return a.done }
func (a *fakeAttempt) Result() decrypt.Result { return a.res }

func (a *fakeAttempt) Kill() {
	a.once.Do(func() {
		a.killed.Store(true)
		a.res = decrypt.Result{Err: decrypt.ErrKilled}
		close(a.done)
	})
}

// succeed writes plaintext and completes the attempt. It reports false if
// the attempt had already finished.
func (a *fakeAttempt) succeed() bool {
	ran := false
	a.once.Do(func() {
		ran = true
		if err := os.WriteFile(a.out, []byte("plaintext\n"), 0o600); err != nil {
			a.res = decrypt.Result{Err: err}
		} else {
			a.res = decrypt.Result{OK: true}
		}
		close(a.done)
	})
	return ran
}

func (a *fakeAttempt) fail() {
	a.once.Do(func() {
		a.res = decrypt.Result{Err: errors.New("card not present")}
		close(a.done)
	})
}

type fakeDecrypter struct {
	started chan *fakeAttempt
	// auto, when set, finishes every attempt as soon as it starts.
	auto func(n int, a *fakeAttempt)

	mu    sync.Mutex
	count int
}

func newFakeDecrypter() *fakeDecrypter {
	return &fakeDecrypter{started: make(chan *fakeAttempt, 16)}
}

func (d *fakeDecrypter) Name() string { return "fake" }

func (d *fakeDecrypter) Start(_ context.Context, src, out string) (decrypt.Attempt, error) {
	d.mu.Lock()
	d.count++
	n := d.count
	d.mu.Unlock()

	a := &fakeAttempt{src: src, out: out, done: make(chan struct{})}
	d.started <- a
	if d.auto != nil {
		d.auto(n, a)
	}
	return a, nil
}

func (d *fakeDecrypter) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// fakeHandle is a prompt the test answers by hand.
type fakeHandle struct {
	prompt    dialog.Prompt
	done      chan struct{}
	once      sync.Once
	answer    dialog.Answer
	cancelled atomic.Bool
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Answer() dialog.Answer { return h.answer }

func (h *fakeHandle) Cancel() {
	h.once.Do(func() {
		h.cancelled.Store(true)
		h.answer = dialog.AnswerDismissed
		close(h.done)
	})
}

func (h *fakeHandle) respond(a dialog.Answer) {
	h.once.Do(func() {
		h.answer = a
		close(h.done)
	})
}

type fakePresenter struct {
	shown chan *fakeHandle
	// auto, when set, answers every prompt as soon as it is shown.
	auto func(h *fakeHandle)
	err  error
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{shown: make(chan *fakeHandle, 16)}
}

func (p *fakePresenter) Present(_ context.Context, pr dialog.Prompt) (dialog.Handle, error) {
	if p.err != nil {
		return nil, p.err
	}
	h := &fakeHandle{prompt: pr, done: make(chan struct{})}
	p.shown <- h
	if p.auto != nil {
		p.auto(h)
	}
	return h, nil
}

func next[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func nothingOn[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(50 * time.Millisecond):
	}
}

// harness wires a Broker to fakes.
type harness struct {
	dec       *fakeDecrypter
	presenter *fakePresenter
	broker    *Broker
	tempDir   string
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		dec:       newFakeDecrypter(),
		presenter: newFakePresenter(),
		tempDir:   t.TempDir(),
	}
	opts := Options{
		Decrypter:     h.dec,
		Presenter:     h.presenter,
		PromptTimeout: waitTimeout,
		ReadTimeout:   waitTimeout,
		MaxAttempts:   5,
		TempDir:       h.tempDir,
	}
	if tweak != nil {
		tweak(&opts)
	}
	b, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.broker = b
	return h
}

// submit runs one connection against the broker and returns a channel
// that yields the response line.
func (h *harness) submit(t *testing.T, ctx context.Context, batch string) <-chan string {
	t.Helper()
	client, server := net.Pipe()

	served := make(chan struct{})
	go func() {
		defer close(served)
		defer server.Close()
		h.broker.ServeConn(ctx, server, Peer{Known: true, UID: os.Getuid(), GID: os.Getgid(), Name: "agent-7"})
	}()
	t.Cleanup(func() { <-served })

	// Writing and reading are separate so a broker that answers before
	// consuming the whole batch cannot deadlock the pipe.
	go func() { _, _ = io.WriteString(client, batch) }()

	out := make(chan string, 1)
	go func() {
		defer client.Close()
		line, err := bufio.NewReader(client).ReadString('\n')
		if err != nil && line == "" {
			out <- "read error: " + err.Error()
			return
		}
		out <- strings.TrimRight(line, "\n")
	}()
	return out
}

// assertTempClean fails if a session left anything in the temp root.
func (h *harness) assertTempClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		t.Errorf("temp root not cleaned: %s", e.Name())
	}
}

// waitUntil polls cond until it holds or waitTimeout passes.
func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

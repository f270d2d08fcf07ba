package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/nuketown/broker/internal/clog"
	"github.com/nuketown/broker/internal/decrypt"
	"github.com/nuketown/broker/internal/protocol"
)

// Flow names used in logs and metrics.
const (
	flowEmpty    = "empty"
	flowSudo     = "sudo"
	flowDecrypt  = "decrypt"
	flowCombined = "combined"
)

var errShuttingDown = errors.New("broker shutting down")

// session is the live state of one connection's arbitration. It is owned
// by the connection goroutine; nothing else touches it.
type session struct {
	b    *Broker
	id   string
	peer Peer
	log  *clog.Scoped

	tmpDir   string
	attempts int
	attempt  decrypt.Attempt
	question *Question

	// denied is set before any attempt is killed on an explicit denial.
	// install refuses to run once it is set.
	denied bool
}

func newSession(b *Broker, peer Peer) *session {
	id := newSessionID()
	return &session{
		b:    b,
		id:   id,
		peer: peer,
		log:  clog.With("[" + id + "]"),
	}
}

// asker returns the prompt merger for this session.
func (s *session) asker() *Asker {
	return &Asker{
		Presenter: s.b.opts.Presenter,
		Remote:    s.b.opts.Remote,
		Metrics:   s.b.opts.Metrics,
		Log:       s.log,
	}
}

func newSessionID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(buf)
}

// serve reads the batch, arbitrates, cleans up and writes the outcome, in
// that order. A panic anywhere in arbitration is converted to an error
// outcome after cleanup.
func (s *session) serve(ctx context.Context, conn net.Conn) {
	start := time.Now()
	flow := flowEmpty
	outcome := protocol.Failure("internal error")

	s.b.opts.Metrics.ConnectionOpened()
	defer s.b.opts.Metrics.ConnectionClosed()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic during arbitration: %v\n%s", r, debug.Stack())
			outcome = protocol.Failure("internal error")
		}
		s.cleanup()
		s.write(conn, outcome)
		s.b.opts.Metrics.ObserveOutcome(flow, outcome.Verdict.String(), time.Since(start))
		s.log.Info("%s -> %s (%s)", flow, outcome, time.Since(start).Round(time.Millisecond))
	}()

	s.log.Debug("connection from %s", s.peer)

	req, err := s.read(conn)
	if err != nil {
		outcome = protocol.Failure(err.Error())
		return
	}
	flow = flowOf(req)
	if req.Overridden > 0 {
		s.log.Warn("batch repeats an operation; %d earlier line(s) overridden", req.Overridden)
	}
	for _, op := range req.Ops {
		s.log.Info("request: %s", op)
	}

	outcome = s.arbitrate(ctx, req)
}

func flowOf(req *protocol.Request) string {
	switch {
	case req.Decrypt != nil && req.Sudo != nil:
		return flowCombined
	case req.Decrypt != nil:
		return flowDecrypt
	case req.Sudo != nil:
		return flowSudo
	default:
		return flowEmpty
	}
}

// read parses the batch under the configured read deadline.
func (s *session) read(conn net.Conn) (*protocol.Request, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.b.opts.ReadTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	req, err := protocol.ReadBatch(conn, func(line string, err error) {
		s.log.Debug("skipping line %q: %v", truncate(line, 80), err)
	})
	switch {
	case err == nil:
		return req, nil
	case errors.Is(err, protocol.ErrNoOperations), errors.Is(err, protocol.ErrLineTooLong):
		return nil, err
	case errors.Is(err, os.ErrDeadlineExceeded):
		return nil, errors.New("read timeout")
	default:
		s.log.Warn("read failed: %v", err)
		return nil, errors.New("read failed")
	}
}

func (s *session) write(w io.Writer, o protocol.Outcome) {
	if conn, ok := w.(net.Conn); ok {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if _, err := io.WriteString(w, o.String()+"\n"); err != nil {
		s.log.Warn("write outcome %s: %v", o, err)
	}
}

// cleanup reaps every child the session started and removes its private
// directory. It runs on every exit path.
func (s *session) cleanup() {
	if s.question != nil {
		s.question.Cancel()
		s.question = nil
	}
	if s.attempt != nil {
		s.killAttempt()
	}
	if s.tmpDir != "" {
		if err := os.RemoveAll(s.tmpDir); err != nil {
			s.log.Error("remove temp dir %s: %v", s.tmpDir, err)
		}
		s.tmpDir = ""
	}
}

// privateDir creates the session's 0700 directory on first use.
func (s *session) privateDir() (string, error) {
	if s.tmpDir != "" {
		return s.tmpDir, nil
	}
	if err := os.MkdirAll(s.b.opts.TempDir, 0o700); err != nil {
		return "", fmt.Errorf("create temp root: %w", err)
	}
	dir, err := os.MkdirTemp(s.b.opts.TempDir, "session-"+s.id+"-")
	if err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("restrict session dir: %w", err)
	}
	s.tmpDir = dir
	return dir, nil
}

// startAttempt launches a fresh decrypt attempt, first reaping any
// previous one. A launch failure becomes an already failed attempt.
func (s *session) startAttempt(ctx context.Context, op protocol.Operation) (decrypt.Attempt, string) {
	if s.attempt != nil {
		s.killAttempt()
	}
	s.attempts++

	dir, err := s.privateDir()
	if err != nil {
		s.attempt = decrypt.Failed(err)
		return s.attempt, ""
	}
	out := filepath.Join(dir, fmt.Sprintf("attempt-%d", s.attempts))

	s.log.Info("decrypt attempt %d: %s via %s", s.attempts, op.Src, s.b.opts.Decrypter.Name())
	a, err := s.b.opts.Decrypter.Start(ctx, op.Src, out)
	if err != nil {
		s.log.Warn("decrypt attempt %d could not start: %v", s.attempts, err)
		a = decrypt.Failed(err)
	}
	s.attempt = a
	return a, out
}

// attemptFinished records the result of the live attempt once its Done
// channel has fired.
func (s *session) attemptFinished() decrypt.Result {
	res := s.attempt.Result()
	s.attempt = nil
	if res.OK {
		s.b.opts.Metrics.ObserveDecrypt("ok")
		s.log.Info("decrypt attempt %d succeeded", s.attempts)
	} else {
		s.b.opts.Metrics.ObserveDecrypt("failed")
		s.log.Info("decrypt attempt %d failed: %v", s.attempts, res.Err)
	}
	return res
}

func (s *session) killAttempt() {
	a := s.attempt
	s.attempt = nil
	select {
	case <-a.Done():
		return
	default:
	}
	a.Kill()
	s.b.opts.Metrics.ObserveDecrypt("killed")
	s.log.Debug("decrypt attempt %d killed", s.attempts)
}

// deny records an explicit denial and stops the live attempt. Nothing is
// installed afterwards.
func (s *session) deny(why string) protocol.Outcome {
	s.denied = true
	if s.attempt != nil {
		s.killAttempt()
	}
	s.log.Info("denied: %s", why)
	return protocol.Denied
}

// install places the plaintext at the destination and returns success,
// or an install error outcome.
func (s *session) install(op protocol.Operation, plaintext string, success protocol.Outcome) protocol.Outcome {
	if s.denied {
		s.log.Warn("refusing install after denial")
		return protocol.Denied
	}

	var owner *Owner
	if s.b.opts.ChownToPeer && os.Geteuid() == 0 {
		owner = s.peer.Owner()
	}
	if err := Install(plaintext, op.Dest, s.b.opts.InstallMode, owner); err != nil {
		s.log.Error("install %s: %v", op.Dest, err)
		return protocol.Failure(err.Error())
	}
	s.log.Info("installed %s", op.Dest)
	return success
}

func shuttingDown() protocol.Outcome {
	return protocol.Failure(errShuttingDown.Error())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// describe renders operation text for prompts.
func describe(lines ...string) string {
	return strings.Join(lines, "\n\n")
}

package broker

import (
	"context"
	"fmt"

	"github.com/nuketown/broker/internal/dialog"
	"github.com/nuketown/broker/internal/notify"
	"github.com/nuketown/broker/internal/protocol"
)

// Remote request kinds.
const (
	remoteSudo  = "sudo"
	remoteRetry = "retry"
)

// arbitrate drives the batch to exactly one outcome. Children it starts
// are tracked on the session and reaped by cleanup.
func (s *session) arbitrate(ctx context.Context, req *protocol.Request) protocol.Outcome {
	switch {
	case req.Empty():
		return protocol.Failure(protocol.ErrNoOperations.Error())
	case req.Decrypt != nil && req.Sudo != nil:
		return s.combined(ctx, *req.Decrypt, *req.Sudo)
	case req.Decrypt != nil:
		return s.decryptOnly(ctx, *req.Decrypt)
	default:
		return s.sudoOnly(ctx, *req.Sudo)
	}
}

func (s *session) sudoOnly(ctx context.Context, op protocol.Operation) protocol.Outcome {
	q := s.ask(ctx, dialog.KindQuestion, sudoText(op), s.remoteRequest(remoteSudo, op.Command))

	select {
	case <-ctx.Done():
		return shuttingDown()
	case <-q.Done():
	}
	if ctx.Err() != nil {
		return shuttingDown()
	}
	if q.Answer() == dialog.AnswerApprove {
		return protocol.Approved
	}
	return s.deny("sudo " + q.Answer().String())
}

// decryptOnly needs no consent beyond the hardware gate. The info prompt
// only offers a way to cancel a pending touch.
func (s *session) decryptOnly(ctx context.Context, op protocol.Operation) protocol.Outcome {
	a, out := s.startAttempt(ctx, op)
	q := s.ask(ctx, dialog.KindInfo, decryptText(op), nil)

	attemptDone := a.Done()
	promptDone := q.Done()
	for {
		select {
		case <-ctx.Done():
			return shuttingDown()

		case <-attemptDone:
			res := s.attemptFinished()
			s.cancelQuestion()
			if !res.OK {
				return protocol.Denied
			}
			return s.install(op, out, protocol.Decrypted)

		case <-promptDone:
			promptDone = nil
			if ctx.Err() != nil {
				return shuttingDown()
			}
			if q.Answer() == dialog.AnswerDismissed {
				s.log.Debug("info prompt withdrawn; still waiting on decrypt")
				continue
			}
			return s.deny("decrypt cancelled")
		}
	}
}

// combined races one question prompt against one decrypt attempt. An
// explicit denial is terminal; a decrypt success installs only if no
// denial came first. A prompt that times out leaves the attempt running.
func (s *session) combined(ctx context.Context, dec, sudo protocol.Operation) protocol.Outcome {
	a, out := s.startAttempt(ctx, dec)
	q := s.ask(ctx, dialog.KindQuestion, combinedText(dec, sudo), s.remoteRequest(remoteSudo, sudo.Command))

	attemptDone := a.Done()
	promptDone := q.Done()
	failed := false
	for {
		select {
		case <-ctx.Done():
			return shuttingDown()

		case <-attemptDone:
			attemptDone = nil
			res := s.attemptFinished()
			if res.OK {
				s.cancelQuestion()
				return s.install(dec, out, protocol.Approved)
			}
			failed = true
			if promptDone == nil {
				// Prompt already gone without a decision.
				return s.deny("decrypt failed with no prompt open")
			}
			s.log.Info("decrypt failed; waiting for human decision")

		case <-promptDone:
			promptDone = nil
			if ctx.Err() != nil {
				return shuttingDown()
			}
			switch q.Answer() {
			case dialog.AnswerApprove:
				if failed {
					return s.retryLoop(ctx, dec, sudo)
				}
				return s.awaitApproved(ctx, dec, sudo, out)
			case dialog.AnswerDismissed, dialog.AnswerTimeout:
				// Only an explicit deny stops the touch; the key's own
				// driver bounds how long the attempt may run.
				if failed {
					return s.deny("prompt " + q.Answer().String() + " after decrypt failure")
				}
				s.log.Debug("prompt %s; still waiting on decrypt", q.Answer())
			default:
				return s.deny("combined " + q.Answer().String())
			}
		}
	}
}

// awaitApproved waits for the attempt that was running when the human
// approved.
func (s *session) awaitApproved(ctx context.Context, dec, sudo protocol.Operation, out string) protocol.Outcome {
	s.log.Info("approved; waiting for decrypt attempt %d", s.attempts)
	select {
	case <-ctx.Done():
		return shuttingDown()
	case <-s.attempt.Done():
	}
	if res := s.attemptFinished(); res.OK {
		return s.install(dec, out, protocol.Approved)
	}
	return s.retryLoop(ctx, dec, sudo)
}

// retryLoop runs fresh attempts against a Retry/Deny prompt until one
// succeeds or the human denies. Reaching MaxAttempts is a deny.
func (s *session) retryLoop(ctx context.Context, dec, sudo protocol.Operation) protocol.Outcome {
	for {
		if s.exhausted() {
			return s.deny(fmt.Sprintf("decrypt attempts exhausted (%d)", s.attempts))
		}

		a, out := s.startAttempt(ctx, dec)
		q := s.ask(ctx, dialog.KindRetry, retryText(dec, sudo, s.attempts), s.remoteRequest(remoteRetry, sudo.Command))

		retry, outcome := s.raceRetry(ctx, a.Done(), q, dec, out)
		if !retry {
			return outcome
		}
		s.log.Info("retry requested")
	}
}

// raceRetry runs one round of the retry loop. It reports retry=true when
// the human asked for another attempt.
func (s *session) raceRetry(ctx context.Context, attemptDone <-chan struct{}, q *Question, dec protocol.Operation, out string) (retry bool, _ protocol.Outcome) {
	promptDone := q.Done()
	failed := false
	for {
		select {
		case <-ctx.Done():
			return false, shuttingDown()

		case <-attemptDone:
			attemptDone = nil
			if res := s.attemptFinished(); res.OK {
				s.cancelQuestion()
				return false, s.install(dec, out, protocol.Approved)
			}
			failed = true
			if s.exhausted() {
				s.cancelQuestion()
				return false, s.deny(fmt.Sprintf("decrypt attempts exhausted (%d)", s.attempts))
			}
			if promptDone == nil {
				return false, s.deny("decrypt failed with no prompt open")
			}

		case <-promptDone:
			promptDone = nil
			if ctx.Err() != nil {
				return false, shuttingDown()
			}
			switch q.Answer() {
			case dialog.AnswerApprove:
				return true, protocol.Outcome{}
			case dialog.AnswerDismissed, dialog.AnswerTimeout:
				if failed {
					return false, s.deny("retry prompt " + q.Answer().String())
				}
				s.log.Debug("retry prompt %s; still waiting on decrypt", q.Answer())
			default:
				return false, s.deny("retry " + q.Answer().String())
			}
		}
	}
}

func (s *session) exhausted() bool {
	limit := s.b.opts.MaxAttempts
	return limit > 0 && s.attempts >= limit
}

// ask replaces the live prompt with a new one.
func (s *session) ask(ctx context.Context, kind dialog.Kind, text string, remote *notify.Request) *Question {
	s.cancelQuestion()
	p := dialog.Prompt{
		Kind:  kind,
		Title: s.b.opts.Title,
		Agent: s.agent(),
		Text:  text,
	}
	if kind != dialog.KindInfo {
		p.Timeout = s.b.opts.PromptTimeout
	}
	s.question = s.asker().Ask(ctx, p, remote)
	return s.question
}

func (s *session) cancelQuestion() {
	if s.question == nil {
		return
	}
	s.question.Cancel()
	s.question = nil
}

func (s *session) agent() string {
	if s.peer.Known && s.peer.Name != "" {
		return s.peer.Name
	}
	return "unknown agent"
}

func (s *session) remoteRequest(kind, command string) *notify.Request {
	return &notify.Request{
		Agent:   s.agent(),
		Kind:    kind,
		Command: command,
		Timeout: s.b.opts.PromptTimeout,
	}
}

func sudoText(op protocol.Operation) string {
	return describe(fmt.Sprintf("Run as %s:", op.User), op.Command)
}

func decryptText(op protocol.Operation) string {
	return describe(
		"Decrypting "+op.Src,
		"Touch your security key to continue, or cancel to deny.",
	)
}

func combinedText(dec, sudo protocol.Operation) string {
	return describe(
		fmt.Sprintf("Run as %s:", sudo.User),
		sudo.Command,
		"Secret: "+dec.Src,
		"Touch your security key to approve, or answer here.",
	)
}

func retryText(dec, sudo protocol.Operation, attempt int) string {
	return describe(
		fmt.Sprintf("Decrypting %s failed. Attempt %d.", dec.Src, attempt),
		fmt.Sprintf("Run as %s:", sudo.User),
		sudo.Command,
		"Retry and touch your security key, or deny.",
	)
}

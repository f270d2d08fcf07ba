// Package dialog shows local approval prompts on the human's desktop.
package dialog

import (
	"context"
	"fmt"
	"time"
)

// Kind selects the buttons a prompt offers.
type Kind int

const (
	// KindQuestion offers Approve and Deny.
	KindQuestion Kind = iota + 1
	// KindRetry offers Retry and Deny after a failed decrypt.
	KindRetry
	// KindInfo shows progress with a single Cancel button.
	KindInfo
)

func (k Kind) String() string {
	switch k {
	case KindQuestion:
		return "question"
	case KindRetry:
		return "retry"
	case KindInfo:
		return "info"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Answer is how a prompt resolved.
type Answer int

const (
	// AnswerApprove is the affirmative button (Approve, or Retry for
	// KindRetry).
	AnswerApprove Answer = iota + 1
	// AnswerDeny is an explicit refusal. For KindInfo it is the Cancel
	// button.
	AnswerDeny
	// AnswerTimeout means nobody answered in time.
	AnswerTimeout
	// AnswerDismissed means the prompt went away without an answer: it
	// failed to start, crashed, or was cancelled by the broker.
	AnswerDismissed
)

func (a Answer) String() string {
	switch a {
	case AnswerApprove:
		return "approve"
	case AnswerDeny:
		return "deny"
	case AnswerTimeout:
		return "timeout"
	case AnswerDismissed:
		return "dismissed"
	default:
		return fmt.Sprintf("answer(%d)", int(a))
	}
}

// Prompt describes one dialog.
type Prompt struct {
	Kind  Kind
	Title string
	// Agent is the requesting identity, shown to the human.
	Agent string
	Text  string
	// Timeout of zero means the prompt waits until answered or cancelled.
	Timeout time.Duration
}

// Handle is a prompt on screen.
type Handle interface {
	// Done is closed once the prompt has resolved and its process, if
	// any, has been reaped.
	Done() <-chan struct{}
	// Answer is valid after Done is closed.
	Answer() Answer
	// Cancel removes the prompt and blocks until Done is closed. An
	// unresolved prompt answers AnswerDismissed.
	Cancel()
}

// Presenter puts prompts on screen.
type Presenter interface {
	Present(ctx context.Context, p Prompt) (Handle, error)
}

// Resolved returns a Handle that has already answered a. Callers use it to
// treat a prompt that could not be shown as dismissed.
func Resolved(a Answer) Handle {
	h := &resolved{answer: a, done: make(chan struct{})}
	close(h.done)
	return h
}

type resolved struct {
	answer Answer
	done   chan struct{}
}

func (r *resolved) Done() <-chan struct{} { return r.done }
func (r *resolved) Answer() Answer        { return r.answer }
func (r *resolved) Cancel()               {}

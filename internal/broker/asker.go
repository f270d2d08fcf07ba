package broker

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nuketown/broker/internal/clog"
	"github.com/nuketown/broker/internal/dialog"
	"github.com/nuketown/broker/internal/metrics"
	"github.com/nuketown/broker/internal/notify"
)

// Channels a prompt answer can arrive on.
const (
	channelLocal  = "local"
	channelRemote = "remote"
	channelTimer  = "timer"
)

// Asker puts one prompt in front of the human, locally and optionally on
// the remote channel, and merges the answers. The first terminal answer
// wins; the other side is withdrawn.
type Asker struct {
	Presenter dialog.Presenter
	Remote    Remote
	Metrics   *metrics.Metrics
	Log       *clog.Scoped
}

// Question is a prompt in flight.
type Question struct {
	kind   dialog.Kind
	local  dialog.Handle
	remote *notify.Pending

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	answer   dialog.Answer
}

// Ask shows p and, when remote is non-nil and a remote channel is
// configured, mirrors it as remote. p.Timeout is enforced here as a hard
// timer in addition to being passed to the presenter.
func (a *Asker) Ask(ctx context.Context, p dialog.Prompt, remote *notify.Request) *Question {
	q := &Question{
		kind: p.Kind,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	h, err := a.Presenter.Present(ctx, p)
	if err != nil {
		a.logf().Error("show %s prompt: %v", p.Kind, err)
		h = dialog.Resolved(dialog.AnswerDismissed)
	}
	q.local = h

	if remote != nil && a.Remote != nil {
		pending, err := a.Remote.Ask(ctx, *remote)
		if err != nil {
			a.logf().Warn("remote prompt unavailable: %v", err)
		} else {
			a.logf().Debug("remote prompt %s sent", pending.ID)
			q.remote = pending
		}
	}

	go a.run(ctx, q, p.Timeout)
	return q
}

func (a *Asker) logf() *clog.Scoped {
	if a.Log != nil {
		return a.Log
	}
	return clog.With("asker:")
}

// run merges the answers until one is terminal. A panic here resolves the
// question as a deny; it must not take the daemon down with it.
func (a *Asker) run(ctx context.Context, q *Question, timeout time.Duration) {
	defer close(q.done)
	defer func() {
		if r := recover(); r != nil {
			a.logf().Error("panic while waiting on %s prompt: %v\n%s", q.kind, r, debug.Stack())
			q.answer = dialog.AnswerDeny
		}
	}()
	defer func() {
		q.local.Cancel()
		if q.remote != nil {
			q.remote.Close()
		}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var replies <-chan bool
	if q.remote != nil {
		replies = q.remote.Reply()
	}
	localDone := q.local.Done()

	finish := func(ans dialog.Answer, channel string) {
		q.answer = ans
		a.Metrics.ObservePrompt(q.kind.String(), channel, ans.String())
		a.logf().Info("%s prompt answered %s (%s)", q.kind, ans, channel)
	}

	for {
		select {
		case <-localDone:
			ans := q.local.Answer()
			if ans == dialog.AnswerDismissed && replies != nil {
				a.logf().Debug("local prompt dismissed; waiting for remote answer")
				localDone = nil
				continue
			}
			finish(ans, channelLocal)
			return
		case ok := <-replies:
			if ok {
				finish(dialog.AnswerApprove, channelRemote)
			} else {
				finish(dialog.AnswerDeny, channelRemote)
			}
			return
		case <-timer:
			finish(dialog.AnswerTimeout, channelTimer)
			return
		case <-q.stop:
			q.answer = dialog.AnswerDismissed
			return
		case <-ctx.Done():
			q.answer = dialog.AnswerDismissed
			return
		}
	}
}

// Done is closed once the question has an answer and both sides have been
// withdrawn.
func (q *Question) Done() <-chan struct{} { return q.done }

// Answer is valid after Done is closed.
func (q *Question) Answer() dialog.Answer { return q.answer }

// Cancel withdraws the question and blocks until it is fully torn down.
// An unanswered question answers AnswerDismissed.
func (q *Question) Cancel() {
	q.stopOnce.Do(func() { close(q.stop) })
	<-q.done
}

package dialog

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/nuketown/broker/internal/clog"
	"github.com/nuketown/broker/internal/proc"
)

// Exit statuses of a zenity-compatible dialog program.
const (
	exitOK      = 0
	exitCancel  = 1
	exitTimeout = 5
)

// CommandPresenter shows prompts with a zenity-compatible program.
type CommandPresenter struct {
	Command string
	// Title is used when a Prompt has none.
	Title string
}

// Present implements Presenter.
func (c *CommandPresenter) Present(ctx context.Context, p Prompt) (Handle, error) {
	args := c.args(p)
	pr, err := proc.Start(ctx, c.Command, args, clog.Writer(clog.LevelDebug, "dialog:"))
	if err != nil {
		return nil, fmt.Errorf("dialog: %w", err)
	}
	clog.Debug("dialog: %s prompt shown (pid %d)", p.Kind, pr.Pid())

	h := &commandHandle{proc: pr, kind: p.Kind, done: make(chan struct{})}
	go h.wait()
	return h, nil
}

func (c *CommandPresenter) args(p Prompt) []string {
	title := p.Title
	if title == "" {
		title = c.Title
	}
	text := escapeMarkup(p.Text)
	if p.Agent != "" {
		text = fmt.Sprintf("<b>%s</b> requests:\n\n%s", escapeMarkup(p.Agent), text)
	}

	var args []string
	switch p.Kind {
	case KindInfo:
		args = []string{"--info", "--ok-label=Cancel"}
	case KindRetry:
		args = []string{"--question", "--ok-label=Retry", "--cancel-label=Deny"}
	default:
		args = []string{"--question", "--ok-label=Approve", "--cancel-label=Deny"}
	}
	args = append(args, "--title="+title, "--text="+text, "--width=480")
	if p.Timeout > 0 {
		secs := int(math.Ceil(p.Timeout.Seconds()))
		args = append(args, "--timeout="+strconv.Itoa(secs))
	}
	return args
}

var markupEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// escapeMarkup keeps agent-supplied text from being read as Pango markup.
func escapeMarkup(s string) string {
	return markupEscaper.Replace(s)
}

type commandHandle struct {
	proc *proc.Process
	kind Kind
	done chan struct{}

	mu        sync.Mutex
	cancelled bool
	answer    Answer
}

func (h *commandHandle) wait() {
	<-h.proc.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	defer close(h.done)

	if h.cancelled {
		h.answer = AnswerDismissed
		return
	}
	code := h.proc.ExitCode()
	h.answer = answerFor(h.kind, code)
	clog.Debug("dialog: %s prompt exited %d (%s)", h.kind, code, h.answer)
}

// answerFor maps an exit status to an Answer. An info dialog has only a
// Cancel button, so both its button and closing the window mean Deny.
func answerFor(kind Kind, code int) Answer {
	switch code {
	case exitOK:
		if kind == KindInfo {
			return AnswerDeny
		}
		return AnswerApprove
	case exitCancel:
		return AnswerDeny
	case exitTimeout:
		return AnswerTimeout
	default:
		return AnswerDismissed
	}
}

func (h *commandHandle) Done() <-chan struct{} { return h.done }

func (h *commandHandle) Answer() Answer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.answer
}

func (h *commandHandle) Cancel() {
	h.mu.Lock()
	select {
	case <-h.done:
	default:
		h.cancelled = true
	}
	h.mu.Unlock()
	h.proc.Kill()
	<-h.done
}

package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Verdict is the terminal state of one connection.
type Verdict int

const (
	VerdictApproved Verdict = iota + 1
	VerdictDenied
	VerdictDecrypted
	VerdictError
)

func (v Verdict) String() string {
	switch v {
	case VerdictApproved:
		return "approved"
	case VerdictDenied:
		return "denied"
	case VerdictDecrypted:
		return "decrypted"
	case VerdictError:
		return "error"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Wire tokens.
const (
	TokenApproved  = "APPROVED"
	TokenDenied    = "DENIED"
	TokenDecrypted = "DECRYPTED"
	TokenError     = "ERROR"
)

// Outcome is the single result the broker writes back. Reason is only
// meaningful for VerdictError.
type Outcome struct {
	Verdict Verdict
	Reason  string
}

var (
	Approved  = Outcome{Verdict: VerdictApproved}
	Denied    = Outcome{Verdict: VerdictDenied}
	Decrypted = Outcome{Verdict: VerdictDecrypted}
)

// Failure builds an ERROR outcome. Newlines in reason are flattened so the
// response stays a single line.
func Failure(reason string) Outcome {
	reason = strings.Join(strings.Fields(reason), " ")
	if reason == "" {
		reason = "unknown error"
	}
	return Outcome{Verdict: VerdictError, Reason: reason}
}

// Granted reports whether the outcome authorizes the caller.
func (o Outcome) Granted() bool {
	return o.Verdict == VerdictApproved || o.Verdict == VerdictDecrypted
}

// String returns the wire token without the trailing newline.
func (o Outcome) String() string {
	switch o.Verdict {
	case VerdictApproved:
		return TokenApproved
	case VerdictDenied:
		return TokenDenied
	case VerdictDecrypted:
		return TokenDecrypted
	case VerdictError:
		return TokenError + ": " + o.Reason
	default:
		return TokenError + ": invalid outcome"
	}
}

// ErrBadResponse is returned by ParseOutcome for unrecognized lines.
var ErrBadResponse = errors.New("unrecognized broker response")

// ParseOutcome parses a response line written by the broker.
func ParseOutcome(line string) (Outcome, error) {
	line = strings.TrimRight(line, "\r\n")
	switch line {
	case TokenApproved:
		return Approved, nil
	case TokenDenied:
		return Denied, nil
	case TokenDecrypted:
		return Decrypted, nil
	}
	if reason, ok := strings.CutPrefix(line, TokenError+":"); ok {
		return Outcome{Verdict: VerdictError, Reason: strings.TrimSpace(reason)}, nil
	}
	return Outcome{}, fmt.Errorf("%w: %q", ErrBadResponse, line)
}

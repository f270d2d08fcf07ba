package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxLineLength bounds a single protocol line, terminator included.
const MaxLineLength = 64 * 1024

var (
	// ErrNoOperations is the parse error for a batch that yields neither a
	// decrypt nor a sudo operation.
	ErrNoOperations = errors.New("no valid operations")

	// ErrLineTooLong is returned when a line exceeds MaxLineLength.
	ErrLineTooLong = errors.New("line too long")

	// ErrMalformed is returned by ParseLine for a line that matches no form.
	ErrMalformed = errors.New("malformed operation")
)

const (
	decryptTag = "DECRYPT"
	sudoTag    = "SUDO"
)

// ReadBatch reads lines from r up to and including the first empty line
// (or EOF) and parses them into a Request. Lines after the empty line are
// never consumed by the parser. Malformed lines are skipped and reported
// through skipped, which may be nil.
//
// ReadBatch returns ErrNoOperations when the batch holds nothing the broker
// can act on; the partial Request is still returned for logging.
func ReadBatch(r io.Reader, skipped func(line string, err error)) (*Request, error) {
	br := bufio.NewReaderSize(r, MaxLineLength)
	req := &Request{}

	for {
		raw, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			return req, ErrLineTooLong
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return req, fmt.Errorf("read batch: %w", err)
		}

		line := string(bytes.TrimRight(raw, "\r\n"))
		if line == "" {
			// Blank line terminates the batch; EOF with no data does too.
			break
		}

		op, perr := ParseLine(line)
		if perr != nil {
			if skipped != nil {
				skipped(line, perr)
			}
		} else {
			req.Add(op)
		}

		if errors.Is(err, io.EOF) {
			break
		}
	}

	if req.Empty() {
		return req, ErrNoOperations
	}
	return req, nil
}

// ParseLine parses one non-empty protocol line.
func ParseLine(line string) (Operation, error) {
	head, rest, ok := strings.Cut(line, ":")
	if !ok {
		return Operation{}, fmt.Errorf("%w: no separator", ErrMalformed)
	}

	switch head {
	case decryptTag:
		src, dest, ok := strings.Cut(rest, ":")
		if !ok || src == "" || dest == "" {
			return Operation{}, fmt.Errorf("%w: DECRYPT needs <src>:<dest>", ErrMalformed)
		}
		return Operation{Kind: KindDecrypt, Src: src, Dest: dest}, nil

	case sudoTag:
		user, command, ok := strings.Cut(rest, ":")
		if !ok || user == "" || command == "" {
			return Operation{}, fmt.Errorf("%w: SUDO needs <user>:<command>", ErrMalformed)
		}
		return Operation{Kind: KindSudo, User: user, Command: command}, nil
	}

	if head == "" || rest == "" {
		return Operation{}, fmt.Errorf("%w: legacy form needs <user>:<command>", ErrMalformed)
	}
	return Operation{Kind: KindLegacy, User: head, Command: rest}, nil
}

// FormatBatch renders ops as protocol lines followed by the terminating
// empty line. It is the client-side inverse of ReadBatch.
func FormatBatch(ops []Operation) string {
	var b strings.Builder
	for _, op := range ops {
		switch op.Kind {
		case KindDecrypt:
			fmt.Fprintf(&b, "%s:%s:%s\n", decryptTag, op.Src, op.Dest)
		case KindSudo:
			fmt.Fprintf(&b, "%s:%s:%s\n", sudoTag, op.User, op.Command)
		case KindLegacy:
			fmt.Fprintf(&b, "%s:%s\n", op.User, op.Command)
		}
	}
	b.WriteByte('\n')
	return b.String()
}

// Package protocol implements the broker's line protocol: a client writes a
// batch of operation lines terminated by one empty line, and the broker
// answers with exactly one outcome line before closing the connection.
//
//	DECRYPT:<src>:<dest>
//	SUDO:<user>:<command>
//	<user>:<command>          (legacy form of SUDO)
//
// Only the first two colons of a line are structural; everything after them
// is taken verbatim, so commands may contain colons.
package protocol

import "fmt"

// Kind tags an Operation.
type Kind int

const (
	KindDecrypt Kind = iota + 1
	KindSudo
	// KindLegacy is an untagged "<user>:<command>" line. It is adjudicated
	// exactly like KindSudo.
	KindLegacy
)

func (k Kind) String() string {
	switch k {
	case KindDecrypt:
		return "decrypt"
	case KindSudo:
		return "sudo"
	case KindLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operation is one parsed line. Src/Dest are set for KindDecrypt,
// User/Command for KindSudo and KindLegacy.
type Operation struct {
	Kind    Kind
	Src     string
	Dest    string
	User    string
	Command string
}

// IsSudo reports whether the operation asks for privilege escalation.
func (op Operation) IsSudo() bool {
	return op.Kind == KindSudo || op.Kind == KindLegacy
}

func (op Operation) String() string {
	if op.Kind == KindDecrypt {
		return fmt.Sprintf("decrypt %s -> %s", op.Src, op.Dest)
	}
	return fmt.Sprintf("%s %s: %s", op.Kind, op.User, op.Command)
}

// Request is the batch read from one connection. Decrypt and Sudo hold the
// last operation of each family; earlier duplicates are kept in Ops and
// counted in Overridden so the broker can flag ambiguous batches.
type Request struct {
	Ops        []Operation
	Decrypt    *Operation
	Sudo       *Operation
	Overridden int
}

// Add records op, replacing any earlier operation of the same family.
func (r *Request) Add(op Operation) {
	r.Ops = append(r.Ops, op)
	stored := op

	switch {
	case op.Kind == KindDecrypt:
		if r.Decrypt != nil {
			r.Overridden++
		}
		r.Decrypt = &stored
	case op.IsSudo():
		if r.Sudo != nil {
			r.Overridden++
		}
		r.Sudo = &stored
	}
}

// Empty reports whether the batch carries neither a decrypt nor a sudo
// operation.
func (r *Request) Empty() bool {
	return r == nil || (r.Decrypt == nil && r.Sudo == nil)
}

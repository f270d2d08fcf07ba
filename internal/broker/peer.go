package broker

import (
	"fmt"
	"os/user"
	"strconv"
)

// Peer identifies the local process on the other end of a connection.
type Peer struct {
	PID   int
	UID   int
	GID   int
	Known bool
	// Name is the account name for UID, or the number when unresolvable.
	Name string
}

func newPeer(pid, uid, gid int) Peer {
	p := Peer{PID: pid, UID: uid, GID: gid, Known: true, Name: strconv.Itoa(uid)}
	if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
		p.Name = u.Username
	}
	return p
}

func (p Peer) String() string {
	if !p.Known {
		return "unknown peer"
	}
	return fmt.Sprintf("%s (uid=%d gid=%d pid=%d)", p.Name, p.UID, p.GID, p.PID)
}

// Owner returns the peer as an install owner, or nil when unknown.
func (p Peer) Owner() *Owner {
	if !p.Known {
		return nil
	}
	return &Owner{UID: p.UID, GID: p.GID}
}

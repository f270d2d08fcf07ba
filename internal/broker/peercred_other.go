//go:build !linux

package broker

import (
	"errors"
	"net"
)

func peerCredentials(net.Conn) (Peer, error) {
	return Peer{}, errors.New("peer credentials unsupported on this platform")
}

package xmpp

import (
	"fmt"
	"strings"
)

// splitJID splits local@domain/resource. The resource may be empty.
func splitJID(jid string) (local, domain, resource string, err error) {
	bare, resource, _ := strings.Cut(jid, "/")
	local, domain, ok := strings.Cut(bare, "@")
	if !ok || local == "" || domain == "" {
		return "", "", "", fmt.Errorf("invalid JID %q", jid)
	}
	return local, domain, resource, nil
}

// bareJID strips the resource and lowercases the local and domain parts.
func bareJID(jid string) string {
	bare, _, _ := strings.Cut(jid, "/")
	return strings.ToLower(bare)
}

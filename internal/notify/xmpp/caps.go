package xmpp

import (
	"crypto/sha1" //nolint:gosec // XEP-0115 mandates SHA-1 for the verification string
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/nuketown/broker/internal/notify"
)

// capsNode identifies the software in entity capabilities.
const capsNode = "https://github.com/nuketown/broker"

const (
	identityCategory = "client"
	identityType     = "bot"
	identityName     = "nuketown-broker"
)

// features are advertised through service discovery so the server can route
// approval requests to this session rather than the human's other clients.
var features = []string{
	nsCaps,
	nsDiscoInf,
	notify.Namespace,
	nsPing,
}

// capsVer computes the XEP-0115 verification string for our single
// identity and feature set.
func capsVer() string {
	sorted := append([]string(nil), features...)
	sort.Strings(sorted)

	var s strings.Builder
	fmt.Fprintf(&s, "%s/%s//%s<", identityCategory, identityType, identityName)
	for _, f := range sorted {
		s.WriteString(f)
		s.WriteByte('<')
	}
	sum := sha1.Sum([]byte(s.String())) //nolint:gosec
	return base64.StdEncoding.EncodeToString(sum[:])
}

// capsElement is the <c/> child attached to outgoing presence.
func capsElement() string {
	return fmt.Sprintf(`<c xmlns="%s" hash="sha-1" node="%s" ver="%s"/>`, nsCaps, capsNode, capsVer())
}

// discoInfo renders the disco#info query payload. node echoes the
// requested node, which clients set to "<capsNode>#<ver>".
func discoInfo(node string) string {
	var b strings.Builder
	b.WriteString(`<query xmlns="` + nsDiscoInf + `"`)
	if node != "" {
		b.WriteString(` node="` + esc(node) + `"`)
	}
	b.WriteString(`>`)
	fmt.Fprintf(&b, `<identity category="%s" type="%s" name="%s"/>`, identityCategory, identityType, identityName)
	for _, f := range features {
		b.WriteString(`<feature var="` + f + `"/>`)
	}
	b.WriteString(`</query>`)
	return b.String()
}

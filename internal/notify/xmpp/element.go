package xmpp

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// XML namespaces spoken by the session.
const (
	nsFraming  = "urn:ietf:params:xml:ns:xmpp-framing"
	nsStreams  = "http://etherx.jabber.org/streams"
	nsSASL     = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsBind     = "urn:ietf:params:xml:ns:xmpp-bind"
	nsSession  = "urn:ietf:params:xml:ns:xmpp-session"
	nsClient   = "jabber:client"
	nsStanzas  = "urn:ietf:params:xml:ns:xmpp-stanzas"
	nsDiscoInf = "http://jabber.org/protocol/disco#info"
	nsCaps     = "http://jabber.org/protocol/caps"
	nsPing     = "urn:xmpp:ping"
)

// element is a generic parsed stanza or stream element. With the
// WebSocket framing every frame holds exactly one top-level element.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []element  `xml:",any"`
}

func parseElement(data []byte) (*element, error) {
	var el element
	if err := xml.Unmarshal(data, &el); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	return &el, nil
}

func (e *element) is(space, local string) bool {
	return e != nil && e.XMLName.Space == space && e.XMLName.Local == local
}

func (e *element) attr(local string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == local && a.Name.Space == "" {
			return a.Value
		}
	}
	return ""
}

// child returns the first child named local in space. An empty space
// matches any namespace.
func (e *element) child(space, local string) *element {
	for i := range e.Children {
		c := &e.Children[i]
		if c.XMLName.Local == local && (space == "" || c.XMLName.Space == space) {
			return c
		}
	}
	return nil
}

// esc escapes s for use in XML text or a double-quoted attribute.
func esc(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

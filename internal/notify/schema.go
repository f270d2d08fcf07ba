// Package notify mirrors approval prompts to a remote human session and
// matches replies back to the waiting prompt by correlation id.
package notify

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Namespace qualifies the approval elements so they never collide with
// ordinary chat payloads.
const Namespace = "urn:nuketown:approval"

// Result values carried by a response.
const (
	ResultApproved = "approved"
	ResultDenied   = "denied"
)

// Request is what the broker asks a remote human.
type Request struct {
	Agent   string
	Kind    string
	Command string
	Timeout time.Duration
}

// Approval is the request element sent inside a <message>. The details are
// carried as attributes and repeated as child elements for clients that
// read either form.
type Approval struct {
	XMLName xml.Name `xml:"urn:nuketown:approval approval"`
	ID      string   `xml:"id,attr"`
	Agent   string   `xml:"agent,attr"`
	Kind    string   `xml:"kind,attr"`
	Command string   `xml:"command,attr"`
	Timeout int      `xml:"timeout,attr"`

	AgentElem   string `xml:"agent"`
	KindElem    string `xml:"kind"`
	CommandElem string `xml:"command"`
	TimeoutElem int    `xml:"timeout"`
}

// NewApproval builds the request element for id.
func NewApproval(id string, req Request) Approval {
	secs := int(req.Timeout.Round(time.Second) / time.Second)
	return Approval{
		ID:          id,
		Agent:       req.Agent,
		Kind:        req.Kind,
		Command:     req.Command,
		Timeout:     secs,
		AgentElem:   req.Agent,
		KindElem:    req.Kind,
		CommandElem: req.Command,
		TimeoutElem: secs,
	}
}

// ApprovalResponse is the reply element. The result may be an attribute
// or a <result> child.
type ApprovalResponse struct {
	XMLName    xml.Name `xml:"urn:nuketown:approval approval-response"`
	ID         string   `xml:"id,attr"`
	Result     string   `xml:"result,attr,omitempty"`
	ResultElem string   `xml:"result,omitempty"`
}

// Value returns the result, preferring the attribute form.
func (r ApprovalResponse) Value() string {
	if r.Result != "" {
		return strings.TrimSpace(r.Result)
	}
	return strings.TrimSpace(r.ResultElem)
}

// Approved reports whether result grants the request. Anything other than
// an explicit approval is a denial.
func Approved(result string) bool {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case ResultApproved, "approve", "yes":
		return true
	default:
		return false
	}
}

// Body is the plain-text fallback delivered to clients that do not
// understand the approval element.
func Body(id string, req Request) string {
	var action string
	switch req.Kind {
	case "sudo":
		action = "wants to run as root"
	case "decrypt":
		action = "wants to decrypt"
	default:
		action = fmt.Sprintf("requests %q", req.Kind)
	}
	return fmt.Sprintf("[nuketown] %s %s: %s\n(id %s, expires in %s)",
		req.Agent, action, req.Command, id, req.Timeout.Round(time.Second))
}

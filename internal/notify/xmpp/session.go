// Package xmpp is the broker's remote notification session: an XMPP client
// over WebSocket (RFC 7395) that logs in under a dedicated resource,
// advertises the approval namespace, sends approval requests and passes
// approval responses back to the notify manager.
package xmpp

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/nuketown/broker/internal/clog"
	"github.com/nuketown/broker/internal/metrics"
	"github.com/nuketown/broker/internal/notify"
)

// Defaults applied by New.
const (
	DefaultKeepalive  = 5 * time.Minute
	DefaultMinBackoff = 5 * time.Second
	DefaultMaxBackoff = 300 * time.Second

	handshakeTimeout = 30 * time.Second
)

// Config configures a Session.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// JID is the bare account JID; Resource names this session.
	JID      string
	Resource string
	Password string
	// Trusted lists bare JIDs whose approval responses are accepted.
	Trusted []string

	Keepalive  time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnResponse receives approval responses from trusted senders.
	OnResponse func(id, result string)
	Metrics    *metrics.Metrics
}

// Session maintains the remote connection, reconnecting with exponential
// backoff until its context ends. It implements notify.Transport.
type Session struct {
	cfg    Config
	local  string
	domain string
	dialer *websocket.Dialer

	mu      sync.Mutex
	st      *stream
	bound   string
	show    string
	status  string
	trusted map[string]bool
}

var _ notify.Transport = (*Session)(nil)

// New validates cfg and returns an unconnected Session.
func New(cfg Config) (*Session, error) {
	local, domain, _, err := splitJID(cfg.JID)
	if err != nil {
		return nil, fmt.Errorf("xmpp: %w", err)
	}
	if cfg.Resource == "" {
		return nil, errors.New("xmpp: resource must not be empty")
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = DefaultKeepalive
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = DefaultMaxBackoff
	}

	trusted := make(map[string]bool, len(cfg.Trusted))
	for _, j := range cfg.Trusted {
		trusted[bareJID(j)] = true
	}

	show, status := notify.IdlePresence()
	return &Session{
		cfg:    cfg,
		local:  local,
		domain: domain,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Subprotocols:     []string{"xmpp"},
		},
		show:    show,
		status:  status,
		trusted: trusted,
	}, nil
}

// Connected reports whether a session is currently established.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st != nil
}

// BoundJID returns the full JID of the current session, or "".
func (s *Session) BoundJID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Run connects and keeps the session alive until ctx ends. Each failed or
// dropped connection is retried after an exponentially growing delay; a
// session that got established resets the delay.
func (s *Session) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.MinBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.1

	for {
		established, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			b.Reset()
		}
		wait := b.NextBackOff()
		clog.Warn("xmpp: session ended: %v; reconnecting in %s", err, wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runOnce dials, completes the handshake and serves until the connection
// drops. established reports whether the handshake completed.
func (s *Session) runOnce(ctx context.Context) (established bool, err error) {
	st, err := s.connect(ctx)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	s.cfg.Metrics.SetRemoteUp(true)
	clog.Info("xmpp: session established as %s", s.BoundJID())

	defer func() {
		s.mu.Lock()
		s.st = nil
		s.bound = ""
		s.mu.Unlock()
		s.cfg.Metrics.SetRemoteUp(false)
	}()

	return true, s.serve(ctx, st)
}

func (s *Session) connect(ctx context.Context) (*stream, error) {
	clog.Debug("xmpp: connecting to %s as %s", s.cfg.URL, s.cfg.JID)
	ws, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	st := newStream(ws)
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	bound, err := s.handshake(st)
	if err != nil {
		st.shutdown()
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Time{})

	s.mu.Lock()
	s.bound = bound
	show, status := s.show, s.status
	s.mu.Unlock()

	if err := st.send(presenceFrame(show, status)); err != nil {
		st.shutdown()
		return nil, err
	}
	return st, nil
}

func (s *Session) handshake(st *stream) (string, error) {
	features, err := st.open(s.domain)
	if err != nil {
		return "", fmt.Errorf("open stream: %w", err)
	}
	if err := st.authenticate(features, s.local, s.cfg.Password); err != nil {
		return "", err
	}
	features, err = st.open(s.domain)
	if err != nil {
		return "", fmt.Errorf("restart stream: %w", err)
	}
	bound, err := st.bind(features, s.cfg.Resource)
	if err != nil {
		return "", err
	}
	if err := st.startSession(features); err != nil {
		return "", err
	}
	return bound, nil
}

// serve runs the read loop and the keepalive until either fails or ctx
// ends.
func (s *Session) serve(ctx context.Context, st *stream) error {
	errc := make(chan error, 1)
	go func() { errc <- s.readLoop(st) }()

	ticker := time.NewTicker(s.cfg.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			st.closeStream()
			<-errc
			return ctx.Err()
		case err := <-errc:
			st.shutdown()
			return err
		case <-ticker.C:
			if _, err := st.request(ctx, "get", s.domain, `<ping xmlns="`+nsPing+`"/>`); err != nil && ctx.Err() == nil {
				st.shutdown()
				<-errc
				return fmt.Errorf("keepalive: %w", err)
			}
		}
	}
}

func (s *Session) readLoop(st *stream) error {
	for {
		el, err := st.next()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch {
		case el.is(nsFraming, "close"):
			return errors.New("server closed the stream")
		case el.is(nsClient, "iq"):
			s.handleIQ(st, el)
		case el.is(nsClient, "message"):
			s.handleMessage(el)
		case el.is(nsStreams, "error"):
			reason := "unknown"
			if len(el.Children) > 0 {
				reason = el.Children[0].XMLName.Local
			}
			return fmt.Errorf("stream error: %s", reason)
		}
	}
}

func (s *Session) handleIQ(st *stream, el *element) {
	typ := el.attr("type")
	if typ == "result" || typ == "error" {
		if !st.deliver(el) {
			clog.Debug("xmpp: unsolicited iq %s id=%s", typ, el.attr("id"))
		}
		return
	}

	id, from := el.attr("id"), el.attr("from")
	var reply string
	switch {
	case typ == "get" && el.child(nsDiscoInf, "query") != nil:
		node := el.child(nsDiscoInf, "query").attr("node")
		reply = iqFrame("result", id, from, discoInfo(node))
	case typ == "get" && el.child(nsPing, "ping") != nil:
		reply = iqFrame("result", id, from, "")
	default:
		reply = iqFrame("error", id, from,
			`<error type="cancel"><service-unavailable xmlns="`+nsStanzas+`"/></error>`)
	}
	if err := st.send(reply); err != nil {
		clog.Debug("xmpp: iq reply failed: %v", err)
	}
}

func (s *Session) handleMessage(el *element) {
	resp := el.child(notify.Namespace, "approval-response")
	if resp == nil {
		return
	}
	from := el.attr("from")
	if !s.trusted[bareJID(from)] {
		clog.Warn("xmpp: ignoring approval response from untrusted %s", from)
		return
	}

	id := resp.attr("id")
	result := resp.attr("result")
	if result == "" {
		if r := resp.child("", "result"); r != nil {
			result = r.Text
		}
	}
	if s.cfg.OnResponse != nil {
		s.cfg.OnResponse(id, result)
	}
}

func (s *Session) current() (*stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == nil {
		return nil, notify.ErrNotConnected
	}
	return s.st, nil
}

// SendApproval implements notify.Transport.
func (s *Session) SendApproval(_ context.Context, to string, a notify.Approval, body string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	payload, err := xml.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode approval: %w", err)
	}
	frame := fmt.Sprintf(`<message xmlns="%s" to="%s" id="%s" type="normal"><body>%s</body>%s</message>`,
		nsClient, esc(to), esc(a.ID), esc(body), payload)
	return st.send(frame)
}

// SetPresence implements notify.Transport. The presence is remembered and
// re-sent after a reconnect.
func (s *Session) SetPresence(show, status string) error {
	s.mu.Lock()
	s.show, s.status = show, status
	st := s.st
	s.mu.Unlock()

	if st == nil {
		return notify.ErrNotConnected
	}
	clog.Debug("xmpp: presence show=%s status=%s", show, status)
	return st.send(presenceFrame(show, status))
}

func presenceFrame(show, status string) string {
	frame := `<presence xmlns="` + nsClient + `">`
	if show != "" {
		frame += "<show>" + esc(show) + "</show>"
	}
	if status != "" {
		frame += "<status>" + esc(status) + "</status>"
	}
	return frame + capsElement() + "</presence>"
}

func iqFrame(typ, id, to, payload string) string {
	toAttr := ""
	if to != "" {
		toAttr = ` to="` + esc(to) + `"`
	}
	return fmt.Sprintf(`<iq xmlns="%s" type="%s" id="%s"%s>%s</iq>`, nsClient, typ, esc(id), toAttr, payload)
}

package xmpp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	iqTimeout    = 30 * time.Second
)

var errStreamClosed = errors.New("xmpp stream closed")

// stream is one established WebSocket connection speaking RFC 7395
// framing. Writes are serialized; reads happen on a single goroutine.
type stream struct {
	ws *websocket.Conn

	wmu sync.Mutex

	mu     sync.Mutex
	iqs    map[string]chan *element
	closed bool

	seq atomic.Uint64
}

func newStream(ws *websocket.Conn) *stream {
	return &stream{ws: ws, iqs: make(map[string]chan *element)}
}

func (st *stream) send(frame string) error {
	st.wmu.Lock()
	defer st.wmu.Unlock()
	_ = st.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := st.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (st *stream) next() (*element, error) {
	for {
		kind, data, err := st.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		return parseElement(data)
	}
}

// expect reads the next element and checks its name.
func (st *stream) expect(space, local string) (*element, error) {
	el, err := st.next()
	if err != nil {
		return nil, err
	}
	if !el.is(space, local) {
		return nil, fmt.Errorf("expected <%s>, got <%s xmlns=%q>", local, el.XMLName.Local, el.XMLName.Space)
	}
	return el, nil
}

func (st *stream) nextID(prefix string) string {
	return prefix + strconv.FormatUint(st.seq.Add(1), 10)
}

// open (re)starts the XML stream and returns the server's features.
func (st *stream) open(domain string) (*element, error) {
	if err := st.send(fmt.Sprintf(`<open xmlns="%s" to="%s" version="1.0"/>`, nsFraming, esc(domain))); err != nil {
		return nil, err
	}
	if _, err := st.expect(nsFraming, "open"); err != nil {
		return nil, err
	}
	return st.expect(nsStreams, "features")
}

// authenticate performs SASL PLAIN.
func (st *stream) authenticate(features *element, local, password string) error {
	mechs := features.child(nsSASL, "mechanisms")
	if mechs == nil {
		return errors.New("server offers no SASL mechanisms")
	}
	plain := false
	for _, m := range mechs.Children {
		if m.XMLName.Local == "mechanism" && m.Text == "PLAIN" {
			plain = true
		}
	}
	if !plain {
		return errors.New("server does not offer SASL PLAIN")
	}

	payload := base64.StdEncoding.EncodeToString([]byte("\x00" + local + "\x00" + password))
	if err := st.send(fmt.Sprintf(`<auth xmlns="%s" mechanism="PLAIN">%s</auth>`, nsSASL, payload)); err != nil {
		return err
	}
	resp, err := st.next()
	if err != nil {
		return err
	}
	switch {
	case resp.is(nsSASL, "success"):
		return nil
	case resp.is(nsSASL, "failure"):
		reason := "unknown"
		if len(resp.Children) > 0 {
			reason = resp.Children[0].XMLName.Local
		}
		return fmt.Errorf("authentication failed: %s", reason)
	default:
		return fmt.Errorf("unexpected SASL reply <%s>", resp.XMLName.Local)
	}
}

// bind requests resource and returns the full JID assigned by the server.
// It runs during the handshake, before the read loop starts.
func (st *stream) bind(features *element, resource string) (string, error) {
	if features.child(nsBind, "bind") == nil {
		return "", errors.New("server does not offer resource binding")
	}
	id := st.nextID("bind")
	frame := fmt.Sprintf(`<iq xmlns="%s" type="set" id="%s"><bind xmlns="%s"><resource>%s</resource></bind></iq>`,
		nsClient, id, nsBind, esc(resource))
	if err := st.send(frame); err != nil {
		return "", err
	}
	resp, err := st.expect(nsClient, "iq")
	if err != nil {
		return "", err
	}
	if resp.attr("id") != id || resp.attr("type") != "result" {
		return "", fmt.Errorf("resource bind rejected (type=%s)", resp.attr("type"))
	}
	if b := resp.child(nsBind, "bind"); b != nil {
		if j := b.child(nsBind, "jid"); j != nil && j.Text != "" {
			return j.Text, nil
		}
	}
	return "", errors.New("resource bind returned no JID")
}

// startSession sends the legacy session request when the server marks it
// mandatory.
func (st *stream) startSession(features *element) error {
	sess := features.child(nsSession, "session")
	if sess == nil || sess.child(nsSession, "optional") != nil {
		return nil
	}
	id := st.nextID("sess")
	if err := st.send(fmt.Sprintf(`<iq xmlns="%s" type="set" id="%s"><session xmlns="%s"/></iq>`, nsClient, id, nsSession)); err != nil {
		return err
	}
	resp, err := st.expect(nsClient, "iq")
	if err != nil {
		return err
	}
	if resp.attr("type") != "result" {
		return fmt.Errorf("session establishment rejected (type=%s)", resp.attr("type"))
	}
	return nil
}

// request sends an iq of the given type and waits for the matching
// result or error. Only valid once the read loop is delivering replies.
func (st *stream) request(ctx context.Context, typ, to, payload string) (*element, error) {
	id := st.nextID("iq")
	ch := make(chan *element, 1)

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil, errStreamClosed
	}
	st.iqs[id] = ch
	st.mu.Unlock()

	defer func() {
		st.mu.Lock()
		delete(st.iqs, id)
		st.mu.Unlock()
	}()

	toAttr := ""
	if to != "" {
		toAttr = ` to="` + esc(to) + `"`
	}
	if err := st.send(fmt.Sprintf(`<iq xmlns="%s" type="%s" id="%s"%s>%s</iq>`, nsClient, typ, id, toAttr, payload)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(iqTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errStreamClosed
		}
		if resp.attr("type") == "error" {
			return resp, fmt.Errorf("iq %s returned error", id)
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("iq %s: no reply within %s", id, iqTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver hands an iq result or error to its waiter. It reports false if
// nobody was waiting.
func (st *stream) deliver(el *element) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	ch, ok := st.iqs[el.attr("id")]
	if ok {
		delete(st.iqs, el.attr("id"))
		ch <- el
	}
	return ok
}

// shutdown fails all outstanding iq waiters and closes the socket.
func (st *stream) shutdown() {
	st.mu.Lock()
	if !st.closed {
		st.closed = true
		for id, ch := range st.iqs {
			close(ch)
			delete(st.iqs, id)
		}
	}
	st.mu.Unlock()
	_ = st.ws.Close()
}

// closeStream politely ends the stream before shutting down.
func (st *stream) closeStream() {
	_ = st.send(fmt.Sprintf(`<close xmlns="%s"/>`, nsFraming))
	st.shutdown()
}

package notify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nuketown/broker/internal/clog"
	"github.com/nuketown/broker/internal/metrics"
)

// resolvedMemory is how many finished ids are remembered so late or
// repeated replies can be told apart from unknown ones.
const resolvedMemory = 256

// ErrNotConnected is returned by a Transport with no live session.
var ErrNotConnected = errors.New("remote session not connected")

// Transport delivers approval requests and presence to the remote side.
type Transport interface {
	SendApproval(ctx context.Context, to string, a Approval, body string) error
	SetPresence(show, status string) error
}

// Manager tracks approval requests awaiting a remote reply.
type Manager struct {
	transport Transport
	approver  string
	metrics   *metrics.Metrics

	mu       sync.Mutex
	pending  map[string]*Pending
	resolved *lru.Cache[string, struct{}]
	newID    func() (string, error)
}

// NewManager returns a Manager that sends requests to approver (a bare
// identity) over t. m may be nil.
func NewManager(t Transport, approver string, m *metrics.Metrics) *Manager {
	resolved, err := lru.New[string, struct{}](resolvedMemory)
	if err != nil {
		// Only fails for a non-positive size.
		panic(err)
	}
	return &Manager{
		transport: t,
		approver:  approver,
		metrics:   m,
		pending:   make(map[string]*Pending),
		resolved:  resolved,
		newID:     generateID,
	}
}

// generateID returns 12 lowercase hex characters.
func generateID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Pending is one outstanding remote request.
type Pending struct {
	ID string

	m         *Manager
	reply     chan bool
	closeOnce sync.Once
}

// Reply delivers true for approval and false for denial, at most once.
func (p *Pending) Reply() <-chan bool { return p.reply }

// Close withdraws the request. Replies arriving afterwards are logged as
// duplicates and dropped.
func (p *Pending) Close() {
	p.closeOnce.Do(func() { p.m.finish(p.ID) })
}

// Ask sends req to the approver and registers it for a reply.
func (m *Manager) Ask(ctx context.Context, req Request) (*Pending, error) {
	id, err := m.newID()
	if err != nil {
		return nil, err
	}
	p := &Pending{ID: id, m: m, reply: make(chan bool, 1)}

	m.mu.Lock()
	m.pending[id] = p
	first := len(m.pending) == 1
	m.mu.Unlock()

	if err := m.transport.SendApproval(ctx, m.approver, NewApproval(id, req), Body(id, req)); err != nil {
		m.metrics.ObserveRemote("send_failed")
		p.Close()
		return nil, fmt.Errorf("send approval %s: %w", id, err)
	}
	m.metrics.ObserveRemote("sent")
	clog.Info("notify: sent approval request id=%s kind=%s to=%s", id, req.Kind, m.approver)

	if first {
		m.setPresence(WaitingPresence(req.Command))
	}
	return p, nil
}

// HandleResponse routes a reply to its pending request.
func (m *Manager) HandleResponse(id, result string) {
	m.mu.Lock()
	p, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
		m.resolved.Add(id, struct{}{})
	}
	known := ok || m.resolved.Contains(id)
	idle := ok && len(m.pending) == 0
	m.mu.Unlock()

	switch {
	case ok:
		approved := Approved(result)
		clog.Info("notify: approval response id=%s result=%s", id, result)
		m.metrics.ObserveRemote("reply")
		p.reply <- approved
		if idle {
			m.setPresence(IdlePresence())
		}
	case known:
		clog.Warn("notify: response for already-resolved request id=%s", id)
		m.metrics.ObserveRemote("duplicate")
	default:
		clog.Warn("notify: response for unknown request id=%s", id)
		m.metrics.ObserveRemote("unknown")
	}
}

// PendingCount returns the number of requests awaiting a reply.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) finish(id string) {
	m.mu.Lock()
	_, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
		m.resolved.Add(id, struct{}{})
	}
	idle := ok && len(m.pending) == 0
	m.mu.Unlock()

	if idle {
		m.setPresence(IdlePresence())
	}
}

func (m *Manager) setPresence(show, status string) {
	if err := m.transport.SetPresence(show, status); err != nil {
		clog.Debug("notify: presence update skipped: %v", err)
	}
}

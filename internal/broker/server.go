package broker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/nuketown/broker/internal/clog"
)

// Socket defaults.
const (
	DefaultSocketMode = os.FileMode(0o660)
	DefaultDirMode    = os.FileMode(0o750)
)

// ErrAlreadyRunning is returned by Start when another broker answers on
// the socket path.
var ErrAlreadyRunning = errors.New("a broker is already listening on the socket")

// Server accepts connections on a unix socket and hands each one to the
// Broker on its own goroutine.
type Server struct {
	socketPath string
	socketMode os.FileMode
	dirMode    os.FileMode
	group      string
	broker     *Broker

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown chan struct{}
	mu       sync.Mutex // protects listener and shutdown state
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSocketMode sets the permission bits of the socket file.
func WithSocketMode(mode os.FileMode) ServerOption {
	return func(s *Server) {
		s.socketMode = mode
	}
}

// WithDirMode sets the permission bits used when creating the socket's
// parent directory.
func WithDirMode(mode os.FileMode) ServerOption {
	return func(s *Server) {
		s.dirMode = mode
	}
}

// WithSocketGroup makes the socket (and a directory the server creates)
// group-owned by name so members of the group can connect.
func WithSocketGroup(name string) ServerOption {
	return func(s *Server) {
		s.group = name
	}
}

// NewServer creates a Server for socketPath.
func NewServer(socketPath string, b *Broker, opts ...ServerOption) *Server {
	s := &Server{
		socketPath: socketPath,
		socketMode: DefaultSocketMode,
		dirMode:    DefaultDirMode,
		broker:     b,
		shutdown:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins listening. A stale socket left by a dead broker is removed;
// a live one is an error.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("server already started")
	}

	gid := -1
	if s.group != "" {
		g, err := lookupGroup(s.group)
		if err != nil {
			return err
		}
		gid = g
	}

	dir := filepath.Dir(s.socketPath)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(dir, s.dirMode); err != nil {
			return fmt.Errorf("create socket directory: %w", err)
		}
		// MkdirAll is subject to the umask.
		if err := os.Chmod(dir, s.dirMode); err != nil {
			return fmt.Errorf("chmod socket directory: %w", err)
		}
		if gid >= 0 {
			if err := os.Chown(dir, -1, gid); err != nil {
				return fmt.Errorf("chgrp socket directory: %w", err)
			}
		}
	} else if err != nil {
		return fmt.Errorf("stat socket directory: %w", err)
	}

	if err := removeStale(s.socketPath); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, s.socketMode); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	if gid >= 0 {
		if err := os.Chown(s.socketPath, -1, gid); err != nil {
			_ = listener.Close()
			return fmt.Errorf("chgrp socket: %w", err)
		}
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.acceptLoop()

	clog.Info("broker listening on %s (mode %04o)", s.socketPath, s.socketMode)
	return nil
}

// Stop closes the listener, aborts in-flight arbitrations and waits for
// their handlers to finish before removing the socket.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		return nil
	default:
	}

	close(s.shutdown)
	err := s.listener.Close()
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	if rmErr := os.Remove(s.socketPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		clog.Warn("remove socket %s: %v", s.socketPath, rmErr)
	}
	clog.Info("broker stopped")
	return err
}

// Serve starts the server and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// SocketPath returns the path to the unix socket.
func (s *Server) SocketPath() string {
	return s.socketPath
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			clog.Warn("accept: %v; retrying in %s", err, delay)
			select {
			case <-time.After(delay):
			case <-s.shutdown:
				return
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	peer, err := peerCredentials(conn)
	if err != nil {
		clog.Debug("peer credentials unavailable: %v", err)
	}
	s.broker.ServeConn(s.ctx, conn, peer)
}

// removeStale clears a socket file nobody is listening on.
func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket: %w", err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
	}
	clog.Info("removing stale socket %s", path)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

func lookupGroup(name string) (int, error) {
	if gid, err := strconv.Atoi(name); err == nil {
		return gid, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return -1, fmt.Errorf("socket group %q: %w", name, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return -1, fmt.Errorf("socket group %q: bad gid %q", name, g.Gid)
	}
	return gid, nil
}

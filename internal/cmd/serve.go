package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nuketown/broker/internal/broker"
	"github.com/nuketown/broker/internal/clog"
	"github.com/nuketown/broker/internal/config"
	"github.com/nuketown/broker/internal/decrypt"
	"github.com/nuketown/broker/internal/dialog"
	"github.com/nuketown/broker/internal/metrics"
	"github.com/nuketown/broker/internal/notify"
	"github.com/nuketown/broker/internal/notify/xmpp"
	"github.com/nuketown/broker/internal/version"
)

var (
	serveSocket        string
	serveMetricsListen string
	serveDaemon        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker",
	Long: `Run the broker in the foreground until interrupted.

The broker listens on the configured unix socket, and when notify is enabled
keeps a remote session open so prompts can also be answered from a phone.
With --metrics-listen (or metrics.listen) Prometheus metrics are served at
/metrics on that address.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "override broker.socket")
	serveCmd.Flags().StringVar(&serveMetricsListen, "metrics-listen", "", "override metrics.listen (host:port)")
	serveCmd.Flags().BoolVar(&serveDaemon, "daemon", false, "log to the log file only, not stderr")
	rootCmd.AddCommand(serveCmd)
}

// daemon bundles what runServe starts.
type daemon struct {
	server  *broker.Server
	session *xmpp.Session
	metrics *metrics.Metrics
	listen  string
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return configError(err)
	}
	if serveSocket != "" {
		cfg.Broker.Socket = serveSocket
	}
	if serveMetricsListen != "" {
		cfg.Metrics.Listen = serveMetricsListen
	}

	level := clog.ParseLevel(cfg.Log.Level)
	if debugFlag {
		level = clog.LevelDebug
	}
	if err := clog.Configure(cfg.Log.File, level, serveDaemon); err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer clog.Close()

	if err := broker.CleanupStaleState(); err != nil {
		clog.Warn("failed to clean up stale state: %v", err)
	}
	if state, err := broker.LoadState(); err == nil && broker.IsRunning(state) {
		return fmt.Errorf("broker already running (pid %d, socket %s)", state.PID, state.Socket)
	}

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.run(ctx)
}

// newDaemon builds the broker and its collaborators from cfg.
func newDaemon(cfg *config.Config) (*daemon, error) {
	m := metrics.New()

	dec, err := decrypt.New(cfg.Decrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypt backend: %w", err)
	}
	presenter := &dialog.CommandPresenter{Command: cfg.Dialog.Command, Title: cfg.Dialog.Title}

	installMode, err := config.ParseMode(cfg.Install.Mode)
	if err != nil {
		return nil, fmt.Errorf("install.mode: %w", err)
	}
	socketMode, err := config.ParseMode(cfg.Broker.SocketMode)
	if err != nil {
		return nil, fmt.Errorf("broker.socket_mode: %w", err)
	}
	dirMode, err := config.ParseMode(cfg.Broker.SocketDirMode)
	if err != nil {
		return nil, fmt.Errorf("broker.socket_dir_mode: %w", err)
	}

	opts := broker.Options{
		Decrypter:     dec,
		Presenter:     presenter,
		Metrics:       m,
		Title:         cfg.Dialog.Title,
		PromptTimeout: config.Duration(cfg.Broker.PromptTimeout, broker.DefaultPromptTimeout),
		ReadTimeout:   config.Duration(cfg.Broker.ReadTimeout, broker.DefaultReadTimeout),
		MaxAttempts:   cfg.Broker.MaxAttempts,
		TempDir:       cfg.Broker.TempDir,
		InstallMode:   installMode,
		ChownToPeer:   cfg.Install.ChownToPeer,
	}

	d := &daemon{metrics: m, listen: cfg.Metrics.Listen}
	if cfg.Notify.Enabled {
		sess, mgr, err := newNotifier(cfg.Notify, m)
		if err != nil {
			return nil, err
		}
		d.session = sess
		opts.Remote = mgr
	}

	b, err := broker.New(opts)
	if err != nil {
		return nil, err
	}

	serverOpts := []broker.ServerOption{
		broker.WithSocketMode(socketMode),
		broker.WithDirMode(dirMode),
	}
	if cfg.Broker.SocketGroup != "" {
		serverOpts = append(serverOpts, broker.WithSocketGroup(cfg.Broker.SocketGroup))
	}
	d.server = broker.NewServer(cfg.Broker.Socket, b, serverOpts...)

	clog.Info("decrypt backend: %s; dialog: %s; remote: %v", dec.Name(), cfg.Dialog.Command, cfg.Notify.Enabled)
	return d, nil
}

// newNotifier wires the remote session to a notify manager.
func newNotifier(cfg config.NotifyConfig, m *metrics.Metrics) (*xmpp.Session, *notify.Manager, error) {
	password, err := readPasswordFile(cfg.PasswordFile)
	if err != nil {
		return nil, nil, err
	}

	var mgr *notify.Manager
	sess, err := xmpp.New(xmpp.Config{
		URL:        cfg.URL,
		JID:        cfg.JID,
		Resource:   cfg.Resource,
		Password:   password,
		Trusted:    []string{cfg.Approver},
		Keepalive:  config.Duration(cfg.Keepalive, xmpp.DefaultKeepalive),
		OnResponse: func(id, result string) { mgr.HandleResponse(id, result) },
		Metrics:    m,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("notify: %w", err)
	}
	mgr = notify.NewManager(sess, cfg.Approver, m)
	return sess, mgr, nil
}

// readPasswordFile returns the trimmed first line of path.
func readPasswordFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("notify.password_file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		clog.Warn("notify: password file %s is accessible to other users (mode %04o)", path, info.Mode().Perm())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("notify.password_file: %w", err)
	}
	password, _, _ := strings.Cut(string(data), "\n")
	password = strings.TrimRight(password, "\r")
	if password == "" {
		return "", fmt.Errorf("notify.password_file: %s is empty", path)
	}
	return password, nil
}

// run starts every component and blocks until ctx ends or one of them
// fails, then shuts the rest down.
func (d *daemon) run(ctx context.Context) error {
	if err := d.server.Start(); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	state := &broker.DaemonState{
		PID:       os.Getpid(),
		Socket:    d.server.SocketPath(),
		StartedAt: time.Now(),
		Version:   version.Version,
	}
	if err := broker.SaveState(state); err != nil {
		clog.Warn("failed to save daemon state: %v", err)
	}
	defer func() {
		if err := broker.RemoveState(); err != nil {
			clog.Warn("failed to remove daemon state: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		clog.Info("shutting down")
		return d.server.Stop()
	})
	if d.session != nil {
		g.Go(func() error { return d.session.Run(gctx) })
	}
	if d.listen != "" {
		g.Go(func() error { return serveMetrics(gctx, d.listen, d.metrics.Handler()) })
	}

	return g.Wait()
}

// serveMetrics serves h at /metrics until ctx ends.
func serveMetrics(ctx context.Context, addr string, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	clog.Info("metrics listening on %s", addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
